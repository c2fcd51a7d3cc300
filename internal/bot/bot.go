package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stylize-bot/internal/imagegen"
	"stylize-bot/internal/ledger"
	"stylize-bot/internal/models"
	"stylize-bot/internal/payment"
	"stylize-bot/internal/session"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	msgInitFirst    = "Please use /start to initialize your account."
	msgInsufficient = "Insufficient points. Use /buy to purchase more or /referral to earn points."
	msgProcessError = "Error processing image. Try again."
)

type Bot struct {
	Instance    *telego.Bot
	DB          *gorm.DB
	Ledger      *ledger.Ledger
	Payments    *payment.Handler
	ImageClient *imagegen.Client
	Sessions    *session.Store
	Log         *zap.SugaredLogger
	CallbackURL string
}

func NewBot(token string, db *gorm.DB, l *ledger.Ledger, imageClient *imagegen.Client, sessions *session.Store, log *zap.SugaredLogger, callbackURL string) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance:    tgBot,
		DB:          db,
		Ledger:      l,
		Payments:    payment.NewHandler(l, tgBot, log),
		ImageClient: imageClient,
		Sessions:    sessions,
		Log:         log,
		CallbackURL: callbackURL,
	}, nil
}

func (b *Bot) Start() {
	updates, _ := b.Instance.UpdatesViaLongPolling(context.Background(), nil)

	handler, _ := th.NewBotHandler(b.Instance, updates)

	// /start command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		telegramID := message.From.ID

		referredBy := parseReferralArg(message.Text)
		if _, err := b.Ledger.CreateAccount(telegramID, message.From.Username, referredBy); err != nil {
			b.Log.Errorw("failed to create account", "telegram_id", telegramID, "error", err)
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("Welcome, %s! You have %d free image generations. "+
				"Use /generate to process an image, /buy to purchase more points with Telegram Stars, "+
				"or /referral to share your link and earn points.",
				message.From.FirstName, ledger.WelcomePoints),
		))
		return nil
	}, th.CommandEqual("start"))

	// /balance command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		telegramID := message.From.ID

		acct, err := b.Ledger.GetAccount(telegramID)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), msgInitFirst))
				return nil
			}
			b.Log.Errorw("failed to load account", "telegram_id", telegramID, "error", err)
			return nil
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("Your balance: %d points. Generations used: %d.", acct.Points, acct.GenerationsUsed),
		))
		return nil
	}, th.CommandEqual("balance"))

	// /generate command - arms the photo flow
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		telegramID := message.From.ID

		acct, err := b.Ledger.GetAccount(telegramID)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), msgInitFirst))
				return nil
			}
			b.Log.Errorw("failed to load account", "telegram_id", telegramID, "error", err)
			return nil
		}

		if acct.Points < 1 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), msgInsufficient))
			return nil
		}

		if err := b.Sessions.SetState(ctx.Context(), telegramID, session.StateAwaitingPhoto); err != nil {
			b.Log.Errorw("failed to set session state", "telegram_id", telegramID, "error", err)
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "Please send an image to process."))
		return nil
	}, th.CommandEqual("generate"))

	// /buy command - points package keyboard
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message

		rows := make([][]telego.InlineKeyboardButton, 0, len(payment.Packages))
		for _, pkg := range payment.Packages {
			rows = append(rows, tu.InlineKeyboardRow(
				tu.InlineKeyboardButton(fmt.Sprintf("Buy %d points (%d Stars)", pkg.Points, pkg.Stars)).
					WithCallbackData(fmt.Sprintf("buy_%d", pkg.Stars)),
			))
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			"Select a points package:",
		).WithReplyMarkup(tu.InlineKeyboard(rows...)))
		return nil
	}, th.CommandEqual("buy"))

	// Callbacks for package selection - one handler per catalog entry
	for _, pkg := range payment.Packages {
		pkg := pkg
		handler.Handle(func(ctx *th.Context, update telego.Update) error {
			callback := update.CallbackQuery
			telegramID := callback.From.ID

			if err := b.Payments.SendInvoice(ctx.Context(), telegramID, telegramID, pkg); err != nil {
				b.Log.Errorw("failed to send invoice", "telegram_id", telegramID, "error", err)
				_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "Failed to create the invoice. Try again later."))
			}
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}, th.CallbackDataEqual(fmt.Sprintf("buy_%d", pkg.Stars)))
	}

	// /referral command - deep link plus stats
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		telegramID := message.From.ID

		stats, err := b.Ledger.Stats(telegramID)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), msgInitFirst))
				return nil
			}
			b.Log.Errorw("failed to load stats", "telegram_id", telegramID, "error", err)
			return nil
		}

		botUsername := ""
		if info, err := b.Instance.GetMe(ctx.Context()); err == nil {
			botUsername = info.Username
		}
		refLink := fmt.Sprintf("https://t.me/%s?start=referral_%d", botUsername, telegramID)

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("Share this referral link to earn %d point per new user: %s\n\n"+
				"Invited so far: %d\nStars spent: %d",
				ledger.ReferralBonus, refLink, stats.ReferralCount, stats.TotalStarsSpent),
		))
		return nil
	}, th.CommandEqual("referral"))

	// /terms command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(update.Message.Chat.ID),
			"Terms of Service: Use this bot responsibly. Only upload images you own or have permission to use. "+
				"Misuse may result in a ban. Contact /support for issues.",
		))
		return nil
	}, th.CommandEqual("terms"))

	// /support command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(update.Message.Chat.ID),
			"Contact @StylizeSupport for help or to report issues.",
		))
		return nil
	}, th.CommandEqual("support"))

	// Photo upload - the actual generation
	handler.Handle(b.handlePhoto, anyMessageWithPhoto)

	// Stars payment confirmations
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		b.Payments.HandlePreCheckout(ctx.Context(), update.PreCheckoutQuery)
		return nil
	}, anyPreCheckoutQuery)

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		b.Payments.HandleSuccessfulPayment(ctx.Context(), update.Message)
		return nil
	}, anyMessageWithSuccessfulPayment)

	handler.Start()
}

func (b *Bot) handlePhoto(ctx *th.Context, update telego.Update) error {
	message := update.Message
	telegramID := message.From.ID
	chatID := message.Chat.ID

	// The awaiting-photo state is advisory: photos are processed either way,
	// matching the original flow where /generate only prompts.
	if state, err := b.Sessions.GetState(ctx.Context(), telegramID); err == nil && state == session.StateAwaitingPhoto {
		_ = b.Sessions.ClearState(ctx.Context(), telegramID)
	}

	acquired, err := b.Sessions.AcquireGenerationLock(ctx.Context(), telegramID)
	if err != nil {
		b.Log.Errorw("failed to acquire generation lock", "telegram_id", telegramID, "error", err)
	} else if !acquired {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), "Your previous image is still processing. Please wait."))
		return nil
	}
	defer func() {
		if err := b.Sessions.ReleaseGenerationLock(ctx.Context(), telegramID); err != nil {
			b.Log.Errorw("failed to release generation lock", "telegram_id", telegramID, "error", err)
		}
	}()

	acct, err := b.Ledger.GetAccount(telegramID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), msgInitFirst))
			return nil
		}
		b.Log.Errorw("failed to load account", "telegram_id", telegramID, "error", err)
		return nil
	}
	if acct.Points < 1 {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), msgInsufficient))
		return nil
	}

	// Largest photo size is last
	photo := message.Photo[len(message.Photo)-1]
	file, err := ctx.Bot().GetFile(ctx.Context(), &telego.GetFileParams{FileID: photo.FileID})
	if err != nil {
		b.Log.Errorw("failed to get photo file", "telegram_id", telegramID, "error", err)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), msgProcessError))
		return nil
	}

	imageData, err := tu.DownloadFile(b.Instance.FileDownloadURL(file.FilePath))
	if err != nil {
		b.Log.Errorw("failed to download photo", "telegram_id", telegramID, "error", err)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), msgProcessError))
		return nil
	}

	generationID := uuid.New().String()
	resp, err := b.ImageClient.Submit(generationID, imageData, b.CallbackURL)
	if err != nil {
		// The external call failed: no point is consumed
		b.Log.Errorw("image submission failed", "telegram_id", telegramID, "generation_id", generationID, "error", err)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), msgProcessError))
		return nil
	}

	// The submission was accepted, this is the success branch: spend now.
	spent, err := b.Ledger.SpendGeneration(telegramID)
	if err != nil {
		// A concurrent spend can exhaust the balance between the pre-check
		// and here. The conditional decrement keeps the ledger non-negative;
		// the accepted generation is still delivered.
		b.Log.Warnw("spend after accepted submission failed",
			"telegram_id", telegramID, "generation_id", generationID, "error", err)
	}

	if resp.Status == imagegen.StatusDone && resp.ResultURL != "" {
		caption := "Image processed!"
		if spent != nil {
			caption = fmt.Sprintf("Image processed! You have %d points left.", spent.Points)
		}
		_, err = ctx.Bot().SendPhoto(ctx.Context(), tu.Photo(tu.ID(chatID), tu.FileFromURL(resp.ResultURL)).WithCaption(caption))
		if err != nil {
			b.Log.Errorw("failed to send result photo", "chat_id", chatID, "error", err)
		}
		return nil
	}

	// Asynchronous path: remember the request for the callback webhook and
	// the expiry sweep.
	gen := models.Generation{
		GenerationID: generationID,
		TelegramID:   telegramID,
		ChatID:       chatID,
		Status:       models.GenerationPending,
	}
	if err := b.DB.Create(&gen).Error; err != nil {
		b.Log.Errorw("failed to record pending generation", "generation_id", generationID, "error", err)
	}

	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID),
		"Your image is being processed. The result will arrive here shortly.",
	))
	return nil
}

// parseReferralArg extracts the referrer id from "/start referral_<id>".
// Anything that does not parse is ignored.
func parseReferralArg(text string) *int64 {
	parts := strings.Split(text, " ")
	if len(parts) < 2 || !strings.HasPrefix(parts[1], "referral_") {
		return nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(parts[1], "referral_"), 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func anyMessageWithPhoto(_ context.Context, update telego.Update) bool {
	return update.Message != nil && len(update.Message.Photo) > 0
}

func anyPreCheckoutQuery(_ context.Context, update telego.Update) bool {
	return update.PreCheckoutQuery != nil
}

func anyMessageWithSuccessfulPayment(_ context.Context, update telego.Update) bool {
	return update.Message != nil && update.Message.SuccessfulPayment != nil
}
