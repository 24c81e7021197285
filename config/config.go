package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoMarginBot/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey     string
	SecretKey  string
	UseTestnet bool

	// Accounting Parameters
	Exchange  string  // Venue name recorded on trades and used to resolve borrow terms
	FeeOpen   float64 // Entry fee ratio (e.g., 0.001 for 0.1%)
	FeeClose  float64 // Exit fee ratio
	RatesPath string  // Optional YAML file overriding the built-in borrow terms

	// Engine Timing
	PollInterval    time.Duration // How often pending orders are checked for fills
	MonitorInterval time.Duration // How often open positions are marked to market

	// Risk Limits (zero disables the corresponding check)
	MaxOpenTrades int
	MinStake      float64
	MaxStake      float64
	MaxLeverage   float64
	MaxDailyLoss  float64 // Absolute realized loss per UTC day, in stake currency

	// Database
	DBPath string

	// Admin API
	ServerAddr string

	// Telegram notifications (optional; leaving both empty disables them)
	TelegramToken  string
	TelegramChatID string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.UseTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Accounting Parameters
	cfg.Exchange = strings.ToLower(getEnv("EXCHANGE", "binance"))
	if cfg.Exchange == "" {
		errs = append(errs, "EXCHANGE must be set")
	}

	cfg.FeeOpen, err = getEnvAsFloatRequired("FEE_OPEN", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_OPEN: %v", err))
	} else if cfg.FeeOpen < 0 || cfg.FeeOpen >= 1.0 {
		errs = append(errs, "FEE_OPEN must be in [0.0, 1.0)")
	}

	cfg.FeeClose, err = getEnvAsFloatRequired("FEE_CLOSE", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_CLOSE: %v", err))
	} else if cfg.FeeClose < 0 || cfg.FeeClose >= 1.0 {
		errs = append(errs, "FEE_CLOSE must be in [0.0, 1.0)")
	}

	cfg.RatesPath = getEnv("RATES_PATH", "")

	// Engine Timing
	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 5)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	monitorSeconds := getEnvAsInt("MONITOR_INTERVAL_SECONDS", 30)
	if monitorSeconds <= 0 {
		errs = append(errs, "MONITOR_INTERVAL_SECONDS must be positive")
	}
	cfg.MonitorInterval = time.Duration(monitorSeconds) * time.Second

	// Risk Limits
	cfg.MaxOpenTrades, err = getEnvAsIntRequired("MAX_OPEN_TRADES", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_TRADES: %v", err))
	} else if cfg.MaxOpenTrades < 0 {
		errs = append(errs, "MAX_OPEN_TRADES cannot be negative")
	}

	cfg.MinStake, err = getEnvAsFloatRequired("MIN_STAKE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_STAKE: %v", err))
	} else if cfg.MinStake < 0 {
		errs = append(errs, "MIN_STAKE cannot be negative")
	}

	cfg.MaxStake, err = getEnvAsFloatRequired("MAX_STAKE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_STAKE: %v", err))
	} else if cfg.MaxStake < 0 {
		errs = append(errs, "MAX_STAKE cannot be negative")
	}
	if cfg.MinStake > 0 && cfg.MaxStake > 0 && cfg.MinStake > cfg.MaxStake {
		errs = append(errs, "MIN_STAKE must not exceed MAX_STAKE")
	}

	cfg.MaxLeverage, err = getEnvAsFloatRequired("MAX_LEVERAGE", 5.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_LEVERAGE: %v", err))
	} else if cfg.MaxLeverage != 0 && cfg.MaxLeverage < 1.0 {
		errs = append(errs, "MAX_LEVERAGE must be at least 1.0 (or 0 to disable)")
	}

	cfg.MaxDailyLoss, err = getEnvAsFloatRequired("MAX_DAILY_LOSS", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS: %v", err))
	} else if cfg.MaxDailyLoss < 0 {
		errs = append(errs, "MAX_DAILY_LOSS cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/margin_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Admin API
	cfg.ServerAddr = getEnv("SERVER_ADDR", ":8080")

	// Telegram
	cfg.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	if (cfg.TelegramToken == "") != (cfg.TelegramChatID == "") {
		errs = append(errs, "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// NotificationsEnabled reports whether a Telegram notifier should be wired.
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
