package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"stylize-bot/internal/ledger"
	"stylize-bot/internal/models"
	"stylize-bot/internal/utils"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier is the slice of the bot API the webhook needs to deliver results.
// *telego.Bot satisfies it.
type Notifier interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
}

// WebhookHandler receives asynchronous generation results and delivers them
// to the waiting chat. A result for an unknown or already-resolved generation
// is acknowledged and dropped.
type WebhookHandler struct {
	DB           *gorm.DB
	Ledger       *ledger.Ledger
	Bot          Notifier
	Log          *zap.SugaredLogger
	AllowedCIDRs []string
}

func NewWebhookHandler(db *gorm.DB, l *ledger.Ledger, bot Notifier, log *zap.SugaredLogger, allowedCIDRs []string) *WebhookHandler {
	return &WebhookHandler{
		DB:           db,
		Ledger:       l,
		Bot:          bot,
		Log:          log,
		AllowedCIDRs: allowedCIDRs,
	}
}

func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(h.AllowedCIDRs) > 0 {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !utils.IsAllowedIP(ip, h.AllowedCIDRs) {
			h.Log.Warnw("rejected callback from disallowed address", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var notification CallbackNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		h.Log.Errorw("failed to decode callback", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if err := h.processResult(r.Context(), notification); err != nil {
		h.Log.Errorw("failed to process generation result",
			"generation_id", notification.GenerationID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) processResult(ctx context.Context, notification CallbackNotification) error {
	var gen models.Generation
	err := h.DB.Where("generation_id = ?", notification.GenerationID).First(&gen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.Log.Warnw("callback for unknown generation", "generation_id", notification.GenerationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load generation: %w", err)
	}
	if gen.Status != models.GenerationPending {
		h.Log.Warnw("callback for already resolved generation",
			"generation_id", gen.GenerationID, "status", gen.Status)
		return nil
	}

	if notification.Status == StatusDone && notification.ResultURL != "" {
		return h.deliver(ctx, &gen, notification.ResultURL)
	}
	return h.fail(ctx, &gen)
}

func (h *WebhookHandler) deliver(ctx context.Context, gen *models.Generation, resultURL string) error {
	// Guarded transition: the expiry sweep may have resolved the row after it
	// was read, and a resolved generation must not be delivered again.
	res := h.DB.Model(&models.Generation{}).
		Where("id = ? AND status = ?", gen.ID, models.GenerationPending).
		Updates(map[string]interface{}{"status": models.GenerationDone, "result_url": resultURL})
	if res.Error != nil {
		return fmt.Errorf("failed to mark generation done: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		h.Log.Warnw("generation resolved concurrently, dropping result",
			"generation_id", gen.GenerationID)
		return nil
	}

	caption := "Image processed!"
	if acct, err := h.Ledger.GetAccount(gen.TelegramID); err == nil {
		caption = fmt.Sprintf("Image processed! You have %d points left.", acct.Points)
	}

	_, err := h.Bot.SendPhoto(ctx, tu.Photo(tu.ID(gen.ChatID), tu.FileFromURL(resultURL)).WithCaption(caption))
	if err != nil {
		h.Log.Errorw("failed to deliver result photo", "chat_id", gen.ChatID, "error", err)
	}
	return nil
}

// fail resolves the generation and gives the point back: the external call
// did not succeed, so it must not consume a point. The pending-status guard
// keeps the refund single-shot when the expiry sweep resolves the row first.
func (h *WebhookHandler) fail(ctx context.Context, gen *models.Generation) error {
	res := h.DB.Model(&models.Generation{}).
		Where("id = ? AND status = ?", gen.ID, models.GenerationPending).
		Update("status", models.GenerationFailed)
	if res.Error != nil {
		return fmt.Errorf("failed to mark generation failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		h.Log.Warnw("generation resolved concurrently, skipping refund",
			"generation_id", gen.GenerationID)
		return nil
	}

	if err := h.Ledger.RefundGeneration(gen.TelegramID); err != nil {
		h.Log.Errorw("failed to refund failed generation",
			"generation_id", gen.GenerationID, "telegram_id", gen.TelegramID, "error", err)
	}

	_, err := h.Bot.SendMessage(ctx, tu.Message(
		tu.ID(gen.ChatID),
		"Error processing image. Your point was returned, try again.",
	))
	if err != nil {
		h.Log.Errorw("failed to send failure notice", "chat_id", gen.ChatID, "error", err)
	}
	return nil
}
