package models

import (
	"time"
)

// User is the per-account ledger row. TelegramID is the business key;
// ReferredBy holds the Telegram ID of the referrer, set once at creation.
type User struct {
	ID              uint   `gorm:"primaryKey"`
	TelegramID      int64  `gorm:"uniqueIndex;not null"`
	Username        string `gorm:"size:255"`
	Points          int    `gorm:"not null;default:2"`
	GenerationsUsed int    `gorm:"not null;default:0"`
	ReferredBy      *int64 `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
