package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the RagLens server.
type Config struct {
	Port       int
	Version    string
	App        AppConfig
	Search     SearchConfig
	Completion CompletionConfig
	Database   DatabaseConfig
	Telemetry  TelemetryConfig
	Retention  RetentionConfig
}

// AppConfig configures the pipeline variant this process serves.
type AppConfig struct {
	// Name is the application identifier used to group feedback results,
	// e.g. "docs-rag:v2".
	Name string
	// RetrievalLimit is the number of passages requested per query.
	RetrievalLimit int
	// GuardrailThreshold is the minimum per-passage relevance score, in
	// [0,1]. Negative disables context filtering entirely.
	GuardrailThreshold float64
	// ModelID is the completion model identifier.
	ModelID string
	// EvalWorkers bounds harness batch concurrency.
	EvalWorkers int
}

type SearchConfig struct {
	URL    string
	APIKey string
}

type CompletionConfig struct {
	URL    string
	APIKey string
}

type DatabaseConfig struct {
	// URL is the PostgreSQL connection string for the trace/result sink.
	// Empty means the in-memory sink (local dev, tests).
	URL string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type RetentionConfig struct {
	// MaxAge is how long runs and results stay in the sink. Zero disables
	// the retention janitor.
	MaxAge   time.Duration
	Interval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("RAGLENS_PORT", 8080),
		Version: envStr("RAGLENS_VERSION", "0.2.0"),
		App: AppConfig{
			Name:               envStr("RAGLENS_APP", "rag:base"),
			RetrievalLimit:     envInt("RAGLENS_RETRIEVAL_LIMIT", 4),
			GuardrailThreshold: envFloat("RAGLENS_GUARDRAIL_THRESHOLD", -1),
			ModelID:            envStr("RAGLENS_MODEL", "gpt-4o-mini"),
			EvalWorkers:        envInt("RAGLENS_EVAL_WORKERS", 4),
		},
		Search: SearchConfig{
			URL:    envStr("RAGLENS_SEARCH_URL", "http://localhost:8400"),
			APIKey: envStr("RAGLENS_SEARCH_API_KEY", ""),
		},
		Completion: CompletionConfig{
			URL:    envStr("RAGLENS_COMPLETIONS_URL", "https://api.openai.com/v1"),
			APIKey: envStr("RAGLENS_COMPLETIONS_API_KEY", ""),
		},
		Database: DatabaseConfig{
			URL: envStr("DATABASE_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "raglens"),
		},
		Retention: RetentionConfig{
			MaxAge:   envDuration("RAGLENS_RUN_RETENTION", 0),
			Interval: envDuration("RAGLENS_RETENTION_INTERVAL", time.Hour),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
