package models

import (
	"time"
)

// Transaction is an append-only record of a Stars purchase.
type Transaction struct {
	ID             uint  `gorm:"primaryKey"`
	TelegramID     int64 `gorm:"not null;index"`
	StarsSpent     int   `gorm:"not null"`
	PointsReceived int   `gorm:"not null"`
	CreatedAt      time.Time
}
