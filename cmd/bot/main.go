package main

import (
	"log"
	"net/http"

	"stylize-bot/internal/bot"
	"stylize-bot/internal/config"
	"stylize-bot/internal/database"
	"stylize-bot/internal/imagegen"
	"stylize-bot/internal/ledger"
	"stylize-bot/internal/session"
	"stylize-bot/internal/worker"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Could not create logger: %v", err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatalf("Could not connect to database: %v", err)
	}
	logger.Info("Connected to PostgreSQL")

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		logger.Fatalf("Could not connect to redis: %v", err)
	}
	logger.Info("Connected to Redis")

	ledgerSvc := ledger.New(db, logger)
	sessions := session.NewStore(rdb)
	imageClient := imagegen.NewClient(cfg.ImageAPIURL, cfg.ImageAPIKey)

	callbackURL := ""
	if cfg.CallbackBaseURL != "" {
		callbackURL = cfg.CallbackBaseURL + "/callback/generation"
	}

	tgBot, err := bot.NewBot(cfg.BotToken, db, ledgerSvc, imageClient, sessions, logger, callbackURL)
	if err != nil {
		logger.Fatalf("Could not create bot: %v", err)
	}

	// Generation result callbacks from the image API
	webhook := imagegen.NewWebhookHandler(db, ledgerSvc, tgBot.Instance, logger, cfg.AllowedCallbackCIDRs)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback/generation", webhook.HandleCallback)
	go func() {
		logger.Infof("Callback server listening on %s", cfg.CallbackListenAddr)
		if err := http.ListenAndServe(cfg.CallbackListenAddr, mux); err != nil {
			logger.Fatalf("Callback server failed: %v", err)
		}
	}()

	// Expire and refund generations the API never resolved
	checker := worker.NewChecker(db, ledgerSvc, tgBot.Instance, logger, cfg.GenerationTimeout)
	go checker.Start()

	logger.Info("Bot is starting...")
	tgBot.Start()
}
