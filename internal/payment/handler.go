package payment

import (
	"context"
	"errors"
	"fmt"

	"stylize-bot/internal/ledger"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"
)

// Handler processes the Telegram Stars payment flow: invoices go out through
// SendInvoice, confirmations come back on the update stream as
// successful_payment messages.
type Handler struct {
	Ledger *ledger.Ledger
	Bot    *telego.Bot
	Log    *zap.SugaredLogger
}

func NewHandler(l *ledger.Ledger, bot *telego.Bot, log *zap.SugaredLogger) *Handler {
	return &Handler{Ledger: l, Bot: bot, Log: log}
}

// SendInvoice issues a Stars invoice for the given package.
func (h *Handler) SendInvoice(ctx context.Context, chatID, telegramID int64, pkg Package) error {
	_, err := h.Bot.SendInvoice(ctx, &telego.SendInvoiceParams{
		ChatID:      tu.ID(chatID),
		Title:       fmt.Sprintf("Purchase %d Points", pkg.Points),
		Description: fmt.Sprintf("Buy %d points for %d Telegram Stars to generate more images.", pkg.Points, pkg.Stars),
		Payload:     BuildPayload(pkg.Points, telegramID),
		Currency:    "XTR",
		Prices: []telego.LabeledPrice{
			{Label: fmt.Sprintf("%d Points", pkg.Points), Amount: pkg.Stars},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send invoice: %w", err)
	}
	return nil
}

// HandlePreCheckout approves the pre-checkout query. The original flow
// accepts every checkout; validation happens against the payload afterwards.
func (h *Handler) HandlePreCheckout(ctx context.Context, query *telego.PreCheckoutQuery) {
	err := h.Bot.AnswerPreCheckoutQuery(ctx, &telego.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: query.ID,
		Ok:                 true,
	})
	if err != nil {
		h.Log.Errorw("failed to answer pre-checkout query", "query_id", query.ID, "error", err)
	}
}

// HandleSuccessfulPayment credits the purchased points and logs the
// transaction. The credit and the log row are one storage transaction.
func (h *Handler) HandleSuccessfulPayment(ctx context.Context, message *telego.Message) {
	telegramID := message.From.ID
	pay := message.SuccessfulPayment

	points, payloadID, err := ParsePayload(pay.InvoicePayload)
	if err != nil {
		h.Log.Errorw("rejecting payment with bad payload",
			"telegram_id", telegramID, "payload", pay.InvoicePayload, "error", err)
		h.reply(ctx, message.Chat.ID, "Something went wrong with your payment. Contact /support.")
		return
	}
	if payloadID != telegramID {
		h.Log.Errorw("payment payload user mismatch",
			"telegram_id", telegramID, "payload_id", payloadID)
		h.reply(ctx, message.Chat.ID, "Something went wrong with your payment. Contact /support.")
		return
	}

	if err := h.Ledger.CreditPurchase(telegramID, pay.TotalAmount, points); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			h.reply(ctx, message.Chat.ID, "Please use /start to initialize your account.")
			return
		}
		h.Log.Errorw("failed to credit purchase", "telegram_id", telegramID, "error", err)
		h.reply(ctx, message.Chat.ID, "Something went wrong with your payment. Contact /support.")
		return
	}

	h.reply(ctx, message.Chat.ID, fmt.Sprintf("Payment successful! You received %d points.", points))
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.Bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		h.Log.Errorw("failed to send payment reply", "chat_id", chatID, "error", err)
	}
}
