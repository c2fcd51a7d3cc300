package ledger

import (
	"errors"
	"fmt"

	"stylize-bot/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// WelcomePoints is the balance every new account starts with.
	WelcomePoints = 2

	// ReferralBonus is credited to the referrer when a referred account is created.
	ReferralBonus = 1
)

// Ledger owns every balance mutation. Handlers never touch the user rows
// directly.
type Ledger struct {
	DB  *gorm.DB
	Log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Ledger {
	return &Ledger{DB: db, Log: log}
}

// AccountStats is the composite read backing the /referral view.
type AccountStats struct {
	Account         *models.User
	ReferralCount   int64
	TotalStarsSpent int64
}

// GetAccount returns the account row, or ErrAccountNotFound.
func (l *Ledger) GetAccount(telegramID int64) (*models.User, error) {
	var user models.User
	err := l.DB.Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", telegramID, err)
	}
	return &user, nil
}

// CreateAccount creates the account on first contact. It is idempotent: an
// existing account is left untouched and no referral bonus is re-awarded.
// A referrer that does not exist yields no bonus and no Referral row, but the
// dangling id is still recorded on the new account.
func (l *Ledger) CreateAccount(telegramID int64, username string, referredBy *int64) (bool, error) {
	created := false
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Where("telegram_id = ?", telegramID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Self-referrals carry no bonus
		if referredBy != nil && *referredBy == telegramID {
			referredBy = nil
		}

		user := models.User{
			TelegramID:      telegramID,
			Username:        username,
			Points:          WelcomePoints,
			GenerationsUsed: 0,
			ReferredBy:      referredBy,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		created = true

		if referredBy == nil {
			return nil
		}

		res := tx.Model(&models.User{}).
			Where("telegram_id = ?", *referredBy).
			Update("points", gorm.Expr("points + ?", ReferralBonus))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			l.Log.Warnw("referrer does not exist, skipping bonus",
				"referrer_id", *referredBy, "referred_id", telegramID)
			return nil
		}

		return tx.Create(&models.Referral{
			ReferrerID:    *referredBy,
			ReferredID:    telegramID,
			PointsAwarded: ReferralBonus,
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a creation race: another update inserted the row between the
		// existence check and the insert. Same outcome as already-exists.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create account %d: %w", telegramID, err)
	}
	if created {
		l.Log.Infow("created account", "telegram_id", telegramID)
	}
	return created, nil
}

// SpendGeneration consumes exactly one point and bumps the generation count.
// The decrement is conditional on points >= 1, so two concurrent spends
// against a balance of 1 cannot both succeed and the balance never goes
// negative. Returns the account after the deduction.
func (l *Ledger) SpendGeneration(telegramID int64) (*models.User, error) {
	res := l.DB.Model(&models.User{}).
		Where("telegram_id = ? AND points >= 1", telegramID).
		Updates(map[string]interface{}{
			"points":           gorm.Expr("points - 1"),
			"generations_used": gorm.Expr("generations_used + 1"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to spend generation for %d: %w", telegramID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Either no row at all or a zero balance
		if _, err := l.GetAccount(telegramID); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientPoints
	}
	return l.GetAccount(telegramID)
}

// RefundGeneration reverses a SpendGeneration after an accepted request
// failed or expired without delivering a result.
func (l *Ledger) RefundGeneration(telegramID int64) error {
	res := l.DB.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Updates(map[string]interface{}{
			"points":           gorm.Expr("points + 1"),
			"generations_used": gorm.Expr("generations_used - 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to refund generation for %d: %w", telegramID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	l.Log.Infow("refunded generation point", "telegram_id", telegramID)
	return nil
}

// CreditPoints increases the balance by amount. Negative amounts are
// rejected; debits only happen through SpendGeneration. A zero amount is a
// no-op that still verifies the account exists.
func (l *Ledger) CreditPoints(telegramID int64, amount int) error {
	return l.creditPoints(l.DB, telegramID, amount)
}

func (l *Ledger) creditPoints(db *gorm.DB, telegramID int64, amount int) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		_, err := l.GetAccount(telegramID)
		return err
	}
	res := db.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update("points", gorm.Expr("points + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("failed to credit %d points to %d: %w", amount, telegramID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CreditPurchase credits purchased points and appends the transaction record
// in a single storage transaction, so a crash cannot leave a payment credited
// but unlogged.
func (l *Ledger) CreditPurchase(telegramID int64, starsSpent, pointsReceived int) error {
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		if err := l.creditPoints(tx, telegramID, pointsReceived); err != nil {
			return err
		}
		return tx.Create(&models.Transaction{
			TelegramID:     telegramID,
			StarsSpent:     starsSpent,
			PointsReceived: pointsReceived,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInvalidAmount) {
			return err
		}
		return fmt.Errorf("failed to record purchase for %d: %w", telegramID, err)
	}
	l.Log.Infow("credited purchase",
		"telegram_id", telegramID, "stars", starsSpent, "points", pointsReceived)
	return nil
}

// Stats returns the account row together with how many users it referred and
// how many Stars it has spent in total.
func (l *Ledger) Stats(telegramID int64) (*AccountStats, error) {
	account, err := l.GetAccount(telegramID)
	if err != nil {
		return nil, err
	}

	var referralCount int64
	if err := l.DB.Model(&models.User{}).
		Where("referred_by = ?", telegramID).
		Count(&referralCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count referrals for %d: %w", telegramID, err)
	}

	var totalStars int64
	if err := l.DB.Model(&models.Transaction{}).
		Where("telegram_id = ?", telegramID).
		Select("COALESCE(SUM(stars_spent), 0)").
		Scan(&totalStars).Error; err != nil {
		return nil, fmt.Errorf("failed to sum stars for %d: %w", telegramID, err)
	}

	return &AccountStats{
		Account:         account,
		ReferralCount:   referralCount,
		TotalStarsSpent: totalStars,
	}, nil
}
