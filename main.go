package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"time"

	"cryptoMarginBot/config"
	"cryptoMarginBot/internal/adapters/binanceclient"
	"cryptoMarginBot/internal/adapters/logger"
	"cryptoMarginBot/internal/adapters/rates"
	"cryptoMarginBot/internal/adapters/sqlite"
	"cryptoMarginBot/internal/adapters/telegram"
	"cryptoMarginBot/internal/api"
	"cryptoMarginBot/internal/app"
	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/ports"
	"cryptoMarginBot/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Borrow Rate Source
	rateSource, err := rates.New(rates.Config{
		Path:   cfg.RatesPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to load borrow rate tables")
		log.Fatalf("FATAL: Failed to load borrow rate tables: %v", err)
	}
	appLogger.Info(context.Background(), "Borrow rate tables loaded")

	// 5. Initialize Reconciler
	reconciler, err := domain.NewReconciler(rateSource, nil)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize reconciler")
		log.Fatalf("FATAL: Failed to initialize reconciler: %v", err)
	}

	// 6. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.UseTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 7. Initialize Risk Manager
	riskManager := risk.NewRiskManager(risk.RiskConfig{
		MaxOpenTrades: cfg.MaxOpenTrades,
		MinStake:      cfg.MinStake,
		MaxStake:      cfg.MaxStake,
		MaxLeverage:   cfg.MaxLeverage,
		MaxDailyLoss:  cfg.MaxDailyLoss,
	})

	// 8. Initialize Notifier (optional)
	var notifier ports.Notifier
	if cfg.NotificationsEnabled() {
		tg, err := telegram.New(telegram.Config{
			BotToken: cfg.TelegramToken,
			ChatID:   cfg.TelegramChatID,
			Logger:   appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Telegram notifier")
			log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
		}
		notifier = tg
		appLogger.Info(context.Background(), "Telegram notifier initialized")
	}

	// 9. Initialize Application Service
	tradingService, err := app.NewTradingService(
		cfg,
		appLogger,
		binanceClient, // Pass the concrete implementation, service expects the interface
		repo,          // Pass the concrete implementation, service expects the interface
		reconciler,
		riskManager,
		notifier,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(context.Background(), "Trading service initialized")

	// 10. Start the Admin API
	router := api.SetupRoutes(api.NewHandlers(tradingService, appLogger), appLogger)
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		appLogger.Info(context.Background(), "Admin API listening", map[string]interface{}{"addr": cfg.ServerAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(context.Background(), err, "Admin API server failed")
		}
	}()

	// 11. Start the Service
	// Use context.Background() as the base context for the application run
	if err := tradingService.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	// 12. Drain the Admin API before exit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(context.Background(), err, "Admin API shutdown failed")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
