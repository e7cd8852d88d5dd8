package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	BedrockModelID          string
	BedrockEmbeddingModelID string
	GeminiAPIKey            string
	GeminiModelID           string

	// Document store and sinks
	ScenarioTable        string
	TenantConfigTable    string
	CallerMemoryTable    string
	SessionArchiveBucket string
	TraceQueueURL        string

	// Cache lifetimes
	PoolCacheTTL   time.Duration
	ConfigCacheTTL time.Duration
	ResultCacheTTL time.Duration
	SessionTTL     time.Duration

	// Tier 3 provider
	LLMTimeout         time.Duration
	LLMMaxAttempts     int
	LLMRetryBaseDelay  time.Duration
	Tier3MaxTokens     int
	Tier3RatePerMinute float64

	AdminJWTSecret      string
	InvalidationChannel string
	SeedFixturePath     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		BedrockModelID:          getEnv("BEDROCK_MODEL_ID", ""),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", ""),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:           getEnv("GEMINI_MODEL_ID", "gemini-2.0-flash"),

		ScenarioTable:        getEnv("SCENARIO_TABLE", "voice_scenarios"),
		TenantConfigTable:    getEnv("TENANT_CONFIG_TABLE", "voice_tenant_configs"),
		CallerMemoryTable:    getEnv("CALLER_MEMORY_TABLE", ""),
		SessionArchiveBucket: getEnv("SESSION_ARCHIVE_BUCKET", ""),
		TraceQueueURL:        getEnv("TRACE_QUEUE_URL", ""),

		PoolCacheTTL:   getEnvAsDuration("POOL_CACHE_TTL", 5*time.Minute),
		ConfigCacheTTL: getEnvAsDuration("CONFIG_CACHE_TTL", 5*time.Minute),
		ResultCacheTTL: getEnvAsDuration("RESULT_CACHE_TTL", 60*time.Second),
		SessionTTL:     getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		LLMTimeout:         getEnvAsDuration("LLM_TIMEOUT", 1500*time.Millisecond),
		LLMMaxAttempts:     getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
		LLMRetryBaseDelay:  getEnvAsDuration("LLM_RETRY_BASE_DELAY", 100*time.Millisecond),
		Tier3MaxTokens:     getEnvAsInt("TIER3_MAX_TOKENS", 160),
		Tier3RatePerMinute: getEnvAsFloat("TIER3_RATE_PER_MINUTE", 30),

		AdminJWTSecret:      getEnv("ADMIN_JWT_SECRET", ""),
		InvalidationChannel: strings.TrimSpace(getEnv("INVALIDATION_CHANNEL", "voice:invalidate")),
		SeedFixturePath:     getEnv("SEED_FIXTURE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
