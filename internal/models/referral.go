package models

import (
	"time"
)

// Referral is an append-only record of a referral bonus grant.
type Referral struct {
	ID            uint  `gorm:"primaryKey"`
	ReferrerID    int64 `gorm:"not null;index"`
	ReferredID    int64 `gorm:"not null;index"`
	PointsAwarded int   `gorm:"not null;default:1"`
	CreatedAt     time.Time
}
