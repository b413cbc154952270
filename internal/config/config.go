package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the guardrail engine service.
type Config struct {
	Port      int
	Version   string
	Project   string // default project for requests without X-Project-Id
	Database  DatabaseConfig
	Catalog   CatalogConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Engine    EngineConfig
	Judge     JudgeConfig
	Retention RetentionConfig
	Notify    NotifyConfig
}

type DatabaseConfig struct {
	// Empty URL selects the in-memory store.
	URL     string
	DataDir string
}

type CatalogConfig struct {
	File         string
	PollInterval time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
	ServiceName  string
	SampleRatio  float64
}

type AuthConfig struct {
	// Empty disables API key auth.
	APIKeys      []string
	APIKeyHeader string
}

type EngineConfig struct {
	MaxConcurrency   int
	JudgeTimeout     time.Duration
	WarnAllowProceed bool
	FailurePolicy    string
	CounterWindow    time.Duration
}

type JudgeConfig struct {
	Provider string
	Endpoint string
	Model    string
	APIKey   string
}

// Enabled reports whether an LLM judge is configured.
func (j JudgeConfig) Enabled() bool {
	return j.APIKey != "" || j.Provider == "ollama"
}

type RetentionConfig struct {
	Interval            time.Duration
	AuditRetention      time.Duration
	InvocationRetention time.Duration
	ArchiveDir          string
	ArchiveCompress     bool
}

type NotifyConfig struct {
	// Empty disables webhook alerts.
	WebhookURLs   []string
	WebhookSecret string
	Events        []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("GUARDRAIL_PORT", 8080),
		Version: envStr("GUARDRAIL_VERSION", "0.1.0"),
		Project: envStr("GUARDRAIL_PROJECT", "default"),
		Database: DatabaseConfig{
			URL:     envStr("DATABASE_URL", ""),
			DataDir: envStr("GUARDRAIL_DATA_DIR", ""),
		},
		Catalog: CatalogConfig{
			File:         envStr("GUARDRAIL_CATALOG_FILE", ""),
			PollInterval: envDuration("GUARDRAIL_CATALOG_POLL", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "guardrail-engine"),
			SampleRatio:  envFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Auth: AuthConfig{
			APIKeys:      envList("GUARDRAIL_API_KEYS"),
			APIKeyHeader: envStr("GUARDRAIL_API_KEY_HEADER", "X-API-Key"),
		},
		Engine: EngineConfig{
			MaxConcurrency:   envInt("GUARDRAIL_MAX_CONCURRENCY", 8),
			JudgeTimeout:     envDuration("GUARDRAIL_JUDGE_TIMEOUT", 10*time.Second),
			WarnAllowProceed: envBool("GUARDRAIL_WARN_ALLOW_PROCEED", true),
			FailurePolicy:    envStr("GUARDRAIL_FAILURE_POLICY", "block"),
			CounterWindow:    envDuration("GUARDRAIL_COUNTER_WINDOW", time.Hour),
		},
		Judge: JudgeConfig{
			Provider: envStr("GUARDRAIL_JUDGE_PROVIDER", "openai"),
			Endpoint: envStr("GUARDRAIL_JUDGE_ENDPOINT", ""),
			Model:    envStr("GUARDRAIL_JUDGE_MODEL", "gpt-4o-mini"),
			APIKey:   envStr("GUARDRAIL_JUDGE_API_KEY", ""),
		},
		Retention: RetentionConfig{
			Interval:            envDuration("GUARDRAIL_RETENTION_INTERVAL", time.Hour),
			AuditRetention:      envDuration("GUARDRAIL_AUDIT_RETENTION", 30*24*time.Hour),
			InvocationRetention: envDuration("GUARDRAIL_INVOCATION_RETENTION", 7*24*time.Hour),
			ArchiveDir:          envStr("GUARDRAIL_ARCHIVE_DIR", ""),
			ArchiveCompress:     envBool("GUARDRAIL_ARCHIVE_COMPRESS", true),
		},
		Notify: NotifyConfig{
			WebhookURLs:   envList("GUARDRAIL_WEBHOOK_URLS"),
			WebhookSecret: envStr("GUARDRAIL_WEBHOOK_SECRET", ""),
			Events:        envList("GUARDRAIL_WEBHOOK_EVENTS"),
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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

// envDuration accepts Go durations ("90s") or bare seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
