package models

import (
	"time"
)

const (
	GenerationPending = "pending"
	GenerationDone    = "done"
	GenerationFailed  = "failed"
)

// Generation tracks an asynchronous image request that the API accepted but
// has not delivered yet. Rows are resolved by the callback webhook or, past
// the timeout, by the expiry worker.
type Generation struct {
	ID           uint   `gorm:"primaryKey"`
	GenerationID string `gorm:"size:64;uniqueIndex;not null"`
	TelegramID   int64  `gorm:"not null;index"`
	ChatID       int64  `gorm:"not null"`
	Status       string `gorm:"size:16;not null;default:'pending'"`
	ResultURL    string `gorm:"size:1024"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
