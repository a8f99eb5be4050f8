package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Binance USDT-M futures
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	Symbols          []string

	// Alert webhook
	WebhookSecret string

	// Risk
	DBPath          string // empty disables risk persistence
	InstrumentsPath string // per-instrument overrides (YAML)

	// Execution
	DefaultSlippage float64 // fraction, e.g. 0.01 = 1%
	DefaultLeverage int

	// Price feed
	PollInterval float64 // seconds between poll-path refreshes when stream is down
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		Symbols:          splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		DBPath:           getEnv("DB_PATH", "./data/execution.db"),
		InstrumentsPath:  getEnv("INSTRUMENTS_PATH", "./instruments.yaml"),
		DefaultSlippage:  getEnvFloat("DEFAULT_SLIPPAGE", 0.01),
		DefaultLeverage:  getEnvInt("DEFAULT_LEVERAGE", 10),
		PollInterval:     getEnvFloat("POLL_INTERVAL_SEC", 2),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
