package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Query pipeline
	QueryTimeout   time.Duration // overall budget for one query
	AgentTimeout   time.Duration // per-agent budget within the fan-out
	MaxQueryLength int
	DetailCap      int // transactions listed verbatim in a detailed answer

	// LLM
	LLMAPIURL     string
	LLMAPIKey     string
	LLMModel      string
	LLMMaxTokens  int
	LLMTimeout    time.Duration
	UseLLM        bool
	DefaultAnswer string // served when the LLM is disabled or unavailable

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Cache
	CacheTTL          time.Duration
	GuardrailCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Auth
	JWTSecret    string
	RequireAuth  bool
	APIKeyHeader string

	// Guardrails
	GuardrailsEnabled bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		QueryTimeout:   getEnvDuration("QUERY_TIMEOUT", 15*time.Second),
		AgentTimeout:   getEnvDuration("AGENT_TIMEOUT", 10*time.Second),
		MaxQueryLength: getEnvInt("MAX_QUERY_LENGTH", 2000),
		DetailCap:      getEnvInt("DETAIL_CAP", 8),

		LLMAPIURL:    getEnv("LLM_API_URL", "https://api.anthropic.com"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMModel:     getEnv("LLM_MODEL", "claude-3-haiku-20240307"),
		LLMMaxTokens: getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTimeout:   getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		UseLLM:       getEnv("USE_LLM", "true") == "true",
		DefaultAnswer: getEnv("LLM_FALLBACK_ANSWER",
			"I found relevant data for your query, but I'm unable to generate a natural-language summary right now. Please review the retrieved records below."),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),

		CacheTTL:          getEnvDuration("CACHE_TTL", 5*time.Minute),
		GuardrailCacheTTL: getEnvDuration("GUARDRAIL_CACHE_TTL", 10*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		JWTSecret:    getEnv("JWT_SECRET", "brain-default-dev-secret-change-me"),
		RequireAuth:  getEnv("REQUIRE_AUTH", "false") == "true",
		APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),

		GuardrailsEnabled: getEnv("GUARDRAILS_ENABLED", "true") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
