package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache / queue
	RedisAddr string

	// Providers
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string

	// Monthly budget ceilings in USD, per provider
	OpenAIMonthlyBudget    float64
	GeminiMonthlyBudget    float64
	AnthropicMonthlyBudget float64

	// Scoring
	PerformanceWeight float64 // default: 0.7
	CostWeight        float64 // default: 0.3
	ReliabilityShare  float64 // default: 0.6
	SpeedShare        float64 // default: 0.4
	LiveBlend         float64 // default: 0.3
	CostScale         float64 // default: 10.0
	LanguageBonus     float64 // default: 0.1

	// Dispatch
	MaxRetriesPerProvider int           // default: 3
	MaxBackoff            time.Duration // default: 300s
	AttemptTimeout        time.Duration // default: 30s
	BackupProvider        string        // always-eligible fallback, default: "echo"

	// Health monitoring
	HealthCheckInterval time.Duration // default: 45s
	MetricsWindowSize   int           // default: 20
	DegradeThreshold    float64       // default: 0.5

	// Response cache
	CacheTTL time.Duration // default: 1h

	// Error history
	ErrorHistorySize int // default: 1000

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		BackupProvider:       getEnv("BACKUP_PROVIDER", "echo"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.OpenAIMonthlyBudget, err = getFloat("OPENAI_MONTHLY_BUDGET", 100); err != nil {
		return nil, err
	}
	if cfg.GeminiMonthlyBudget, err = getFloat("GEMINI_MONTHLY_BUDGET", 100); err != nil {
		return nil, err
	}
	if cfg.AnthropicMonthlyBudget, err = getFloat("ANTHROPIC_MONTHLY_BUDGET", 100); err != nil {
		return nil, err
	}

	if cfg.PerformanceWeight, err = getFloat("SCORE_PERFORMANCE_WEIGHT", 0.7); err != nil {
		return nil, err
	}
	if cfg.CostWeight, err = getFloat("SCORE_COST_WEIGHT", 0.3); err != nil {
		return nil, err
	}
	if cfg.ReliabilityShare, err = getFloat("SCORE_RELIABILITY_SHARE", 0.6); err != nil {
		return nil, err
	}
	if cfg.SpeedShare, err = getFloat("SCORE_SPEED_SHARE", 0.4); err != nil {
		return nil, err
	}
	if cfg.LiveBlend, err = getFloat("SCORE_LIVE_BLEND", 0.3); err != nil {
		return nil, err
	}
	if cfg.CostScale, err = getFloat("SCORE_COST_SCALE", 10.0); err != nil {
		return nil, err
	}
	if cfg.LanguageBonus, err = getFloat("SCORE_LANGUAGE_BONUS", 0.1); err != nil {
		return nil, err
	}
	if cfg.DegradeThreshold, err = getFloat("DEGRADE_THRESHOLD", 0.5); err != nil {
		return nil, err
	}

	if cfg.MaxRetriesPerProvider, err = getInt("MAX_RETRIES_PER_PROVIDER", 3); err != nil {
		return nil, err
	}
	if cfg.MetricsWindowSize, err = getInt("METRICS_WINDOW_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.ErrorHistorySize, err = getInt("ERROR_HISTORY_SIZE", 1000); err != nil {
		return nil, err
	}

	if cfg.MaxBackoff, err = getDuration("MAX_BACKOFF", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.AttemptTimeout, err = getDuration("ATTEMPT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HealthCheckInterval, err = getDuration("HEALTH_CHECK_INTERVAL", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}

	// Rate Limiting Default
	tpmStr := getEnv("DEFAULT_RATE_LIMIT_TPM", "100000")
	tpm, err := strconv.ParseInt(tpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}
	cfg.DefaultRateLimitTPM = tpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
