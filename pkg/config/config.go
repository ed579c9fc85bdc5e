// Package config loads gateway configuration from environment variables
// with production-ready defaults, in the same flat getEnvOrDefault style
// the teacher uses for its database config — this system has no YAML
// registry layer to speak of, just a dozen scalars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LMMode selects which LM provider backs the fallback manager's primary
// slot.
type LMMode string

const (
	LMModeLiteLLM LMMode = "litellm"
	LMModeEcho    LMMode = "echo"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	DBPath        string
	ArtifactsRoot string
	HTTPAddr      string

	EventPayloadMaxBytes    int
	ArtifactInlineThreshold int64

	SSEHeartbeatInterval time.Duration
	SSEQueueSize         int

	LogFormat string
	LogLevel  string

	LMMode         LMMode
	LMProxyBaseURL string
	LMProxyAPIKey  string
	LMCallTimeout  time.Duration

	MaxConcurrentTasks int

	ArtifactSweepInterval time.Duration
	ArtifactSweepMinAge   time.Duration

	// ReadinessProfile selects which checks GET /health/ready runs:
	// "core" (store, artifacts dir, disk) or "llm"/"full", which
	// additionally probe the LM proxy's liveliness URL.
	ReadinessProfile string
}

// LoadFromEnv builds a Config from environment variables, applying the
// defaults spec.md §6 names.
func LoadFromEnv() (Config, error) {
	eventMax, err := strconv.Atoi(getEnvOrDefault("GATEWAY_EVENT_PAYLOAD_MAX_BYTES", "8192"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid GATEWAY_EVENT_PAYLOAD_MAX_BYTES: %w", err)
	}

	inlineThreshold, err := strconv.ParseInt(getEnvOrDefault("ARTIFACT_INLINE_THRESHOLD", "4096"), 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid ARTIFACT_INLINE_THRESHOLD: %w", err)
	}

	heartbeat, err := parseDuration(getEnvOrDefault("SSE_HEARTBEAT_INTERVAL", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SSE_HEARTBEAT_INTERVAL: %w", err)
	}

	queueSize, err := strconv.Atoi(getEnvOrDefault("SSE_QUEUE_MAXSIZE", "100"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SSE_QUEUE_MAXSIZE: %w", err)
	}

	lmTimeout, err := parseDuration(getEnvOrDefault("LM_CALL_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LM_CALL_TIMEOUT: %w", err)
	}

	maxConcurrent, err := strconv.Atoi(getEnvOrDefault("GATEWAY_MAX_CONCURRENT_TASKS", "16"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid GATEWAY_MAX_CONCURRENT_TASKS: %w", err)
	}

	sweepInterval, err := parseDuration(getEnvOrDefault("ARTIFACT_SWEEP_INTERVAL", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid ARTIFACT_SWEEP_INTERVAL: %w", err)
	}

	sweepMinAge, err := parseDuration(getEnvOrDefault("ARTIFACT_SWEEP_MIN_AGE", "10m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid ARTIFACT_SWEEP_MIN_AGE: %w", err)
	}

	cfg := Config{
		DBPath:        getEnvOrDefault("GATEWAY_DB_PATH", "./gateway.db"),
		ArtifactsRoot: getEnvOrDefault("GATEWAY_ARTIFACTS_ROOT", "./artifacts"),
		HTTPAddr:      getEnvOrDefault("GATEWAY_HTTP_ADDR", ":8080"),

		EventPayloadMaxBytes:    eventMax,
		ArtifactInlineThreshold: inlineThreshold,

		SSEHeartbeatInterval: heartbeat,
		SSEQueueSize:         queueSize,

		LogFormat: getEnvOrDefault("LOG_FORMAT", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),

		LMMode:         LMMode(getEnvOrDefault("LM_MODE", string(LMModeEcho))),
		LMProxyBaseURL: getEnvOrDefault("LM_PROXY_BASE_URL", "http://localhost:4000"),
		LMProxyAPIKey:  os.Getenv("LM_PROXY_API_KEY"),
		LMCallTimeout:  lmTimeout,

		MaxConcurrentTasks: maxConcurrent,

		ArtifactSweepInterval: sweepInterval,
		ArtifactSweepMinAge:   sweepMinAge,

		ReadinessProfile: getEnvOrDefault("READINESS_PROFILE", "core"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants LoadFromEnv can't enforce through parsing
// alone.
func (c Config) Validate() error {
	if c.LMMode != LMModeLiteLLM && c.LMMode != LMModeEcho {
		return fmt.Errorf("LM_MODE must be %q or %q, got %q", LMModeLiteLLM, LMModeEcho, c.LMMode)
	}
	if c.LMMode == LMModeLiteLLM && c.LMProxyBaseURL == "" {
		return fmt.Errorf("LM_PROXY_BASE_URL is required when LM_MODE=litellm")
	}
	if c.EventPayloadMaxBytes < 1 {
		return fmt.Errorf("GATEWAY_EVENT_PAYLOAD_MAX_BYTES must be positive")
	}
	if c.ArtifactInlineThreshold < 0 {
		return fmt.Errorf("ARTIFACT_INLINE_THRESHOLD cannot be negative")
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("GATEWAY_MAX_CONCURRENT_TASKS must be at least 1")
	}
	switch c.ReadinessProfile {
	case "core", "llm", "full":
	default:
		return fmt.Errorf("READINESS_PROFILE must be core, llm, or full, got %q", c.ReadinessProfile)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
