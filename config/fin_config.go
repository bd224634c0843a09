// Package config loads all runtime configuration from environment
// variables. There is no runtime-mutable configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	APIToken    string

	// Storage
	DatabaseURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	// Mail provider
	MailAPIBaseURL      string
	MailClientID        string
	MailClientSecret    string
	MailRefreshToken    string
	MailTokenURL        string
	MailSenderAllowlist []string
	MailNotifyAddress   string

	// Exchange rates
	BCCRAPIURL    string
	FxFallbackURL string
	FxDefaultRate float64

	// OpenAI
	OpenAIAPIKey  string
	LLMModel      string
	LLMMaxTokens  int
	LLMTimeoutSec int

	// Sync
	TraslapeDays        int
	OnboardingDays      int
	SyncInterval        time.Duration
	MaxConcurrentSyncs  int

	// Worker
	WorkerMin       int
	WorkerMax       int
	WorkerQueueSize int

	// Consumer (redis stream)
	ConsumerBatchSize  int
	ConsumerBlockMS    int
	ConsumerMaxRetries int

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		APIToken:    getEnv("API_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "finanzas"),

		MailAPIBaseURL:      getEnv("MAIL_API_BASE_URL", ""),
		MailClientID:        getEnv("MAIL_CLIENT_ID", ""),
		MailClientSecret:    getEnv("MAIL_CLIENT_SECRET", ""),
		MailRefreshToken:    getEnv("MAIL_REFRESH_TOKEN", ""),
		MailTokenURL:        getEnv("MAIL_TOKEN_URL", ""),
		MailSenderAllowlist: getEnvSlice("MAIL_SENDER_ALLOWLIST", []string{"notificacion@notificacionesbaccr.com"}),
		MailNotifyAddress:   getEnv("MAIL_NOTIFY_ADDRESS", "notificacion@notificacionesbaccr.com"),

		BCCRAPIURL:    getEnv("BCCR_API_URL", ""),
		FxFallbackURL: getEnv("FX_FALLBACK_URL", ""),
		FxDefaultRate: getEnvFloat("FX_DEFAULT_RATE", 520.0),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		LLMModel:      getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:  getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTimeoutSec: getEnvInt("LLM_TIMEOUT_SEC", 60),

		TraslapeDays:       getEnvInt("SYNC_TRASLAPE_DAYS", 5),
		OnboardingDays:     getEnvInt("SYNC_ONBOARDING_DAYS", 90),
		SyncInterval:       time.Duration(getEnvInt("SYNC_INTERVAL_MIN", 30)) * time.Minute,
		MaxConcurrentSyncs: getEnvInt("SYNC_MAX_CONCURRENT", 4),

		WorkerMin:       getEnvInt("WORKER_MIN", 2),
		WorkerMax:       getEnvInt("WORKER_MAX", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 500),

		ConsumerBatchSize:  getEnvInt("CONSUMER_BATCH_SIZE", 20),
		ConsumerBlockMS:    getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),

		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Environment == "development" }

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool { return c.Environment == "production" }
