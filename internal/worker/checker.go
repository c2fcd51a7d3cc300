package worker

import (
	"context"
	"time"

	"stylize-bot/internal/ledger"
	"stylize-bot/internal/models"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier is the slice of the bot API the sweep needs to reach users.
// *telego.Bot satisfies it.
type Notifier interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Checker sweeps pending generations that the image API never resolved. Each
// expired row is failed once, its point is refunded, and the user notified.
type Checker struct {
	DB      *gorm.DB
	Ledger  *ledger.Ledger
	Bot     Notifier
	Log     *zap.SugaredLogger
	Timeout time.Duration
}

func NewChecker(db *gorm.DB, l *ledger.Ledger, bot Notifier, log *zap.SugaredLogger, timeout time.Duration) *Checker {
	return &Checker{
		DB:      db,
		Ledger:  l,
		Bot:     bot,
		Log:     log,
		Timeout: timeout,
	}
}

func (c *Checker) Start() {
	ticker := time.NewTicker(5 * time.Minute)
	c.Log.Info("Background generation checker started")

	// Run once at start
	c.checkPendingGenerations()

	for range ticker.C {
		c.checkPendingGenerations()
	}
}

func (c *Checker) checkPendingGenerations() {
	ctx := context.Background()
	cutoff := time.Now().Add(-c.Timeout)

	var expired []models.Generation
	if err := c.DB.Where("status = ? AND created_at < ?", models.GenerationPending, cutoff).
		Find(&expired).Error; err != nil {
		c.Log.Errorw("failed to query expired generations", "error", err)
		return
	}

	for _, gen := range expired {
		// Guarded transition keeps the refund single-shot even if the
		// callback races the sweep.
		res := c.DB.Model(&models.Generation{}).
			Where("id = ? AND status = ?", gen.ID, models.GenerationPending).
			Update("status", models.GenerationFailed)
		if res.Error != nil {
			c.Log.Errorw("failed to expire generation", "generation_id", gen.GenerationID, "error", res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		c.Log.Infow("expired pending generation",
			"generation_id", gen.GenerationID, "telegram_id", gen.TelegramID)

		if err := c.Ledger.RefundGeneration(gen.TelegramID); err != nil {
			c.Log.Errorw("failed to refund expired generation",
				"generation_id", gen.GenerationID, "telegram_id", gen.TelegramID, "error", err)
		}

		_, err := c.Bot.SendMessage(ctx, tu.Message(
			tu.ID(gen.ChatID),
			"Your image took too long to process. The point was returned, please try again.",
		))
		if err != nil {
			c.Log.Errorw("failed to send expiry notice", "chat_id", gen.ChatID, "error", err)
		}
	}
}
