package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Market data sources
	PollBaseURLLondon   string
	PollBaseURLDomestic string
	PushURLLondon       string
	PushURLDomestic     string
	PollInterval        time.Duration
	KlineInterval       string

	// Band parameters
	BandPeriod     int
	BandMultiplier float64
	MaxBars        int

	// Position tracking
	PointValue float64

	// Advisory service
	LLMEndpoint string
	LLMAPIKey   string
	LLMModel    string

	// Notifications
	NotifyWebhookURL string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from .env (if present) and environment variables
// with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/operations.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		PollBaseURLLondon:   mustEnv("POLL_BASE_URL_LONDON"),
		PollBaseURLDomestic: mustEnv("POLL_BASE_URL_DOMESTIC"),
		PushURLLondon:       mustEnv("PUSH_URL_LONDON"),
		PushURLDomestic:     mustEnv("PUSH_URL_DOMESTIC"),
		PollInterval:        getDuration("POLL_INTERVAL", 60*time.Second),
		KlineInterval:       getEnv("KLINE_INTERVAL", "1m"),

		BandPeriod:     getInt("BAND_PERIOD", 20),
		BandMultiplier: getFloat("BAND_MULT", 2.0),
		MaxBars:        getInt("MAX_BARS", 120),

		PointValue: getFloat("POINT_VALUE", 15),

		LLMEndpoint: getEnv("LLM_ENDPOINT", ""),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMModel:    getEnv("LLM_MODEL", ""),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
