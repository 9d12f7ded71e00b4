// Package config loads process-wide static configuration from the
// environment and serves the runtime-tunable feature flags as an immutable,
// periodically-refreshed snapshot.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the static, process-wide configuration a voice-worker or API
// instance is started with — connection targets and credentials, not the
// runtime-tunable keys (those live in Snapshot/Store below).
type Config struct {
	Port        string
	MetricsPort string
	Env         string
	LogLevel    string

	UseMemoryQueue bool
	WorkerCount    int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	CallsTable      string
	CallIDIndex     string
	LeasesTable     string
	CallEventsQueueURL string
	SMSEventsQueueURL  string
	PostCallQueueURL   string
	TrainingQueueURL   string

	LLMFastEndpoint  string
	LLMFastModelID   string
	LLMSlowEndpoint  string
	LLMSlowModelID   string
	GoogleAPIKey     string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	RecordingBucket string

	DatabaseURL string // Postgres DSN backing the feature-flags store.

	SendGridAPIKey     string
	SendGridFromEmail  string
	IncidentAlertEmail string

	SESFromEmail  string
	OpsReportEmail string

	JWTSecret string

	TelnyxAPIKey string
}

// Load reads configuration from environment variables, using a `__`
// separator for nested keys (e.g. LLM__FAST__ENDPOINT).
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 4),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CallsTable:         getEnv("CALLS_TABLE", "voicecore_calls"),
		CallIDIndex:        getEnv("CALLS_CALL_ID_INDEX", "call_id-index"),
		LeasesTable:        getEnv("LEASES_TABLE", "voicecore_leases"),
		CallEventsQueueURL: getEnv("CALL_EVENTS_QUEUE_URL", ""),
		SMSEventsQueueURL:  getEnv("SMS_EVENTS_QUEUE_URL", ""),
		PostCallQueueURL:   getEnv("POST_CALL_QUEUE_URL", ""),
		TrainingQueueURL:   getEnv("TRAINING_QUEUE_URL", ""),

		LLMFastEndpoint: getEnv("LLM__FAST__ENDPOINT", ""),
		LLMFastModelID:  getEnv("LLM__FAST__MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),
		LLMSlowEndpoint: getEnv("LLM__SLOW__ENDPOINT", ""),
		LLMSlowModelID:  getEnv("LLM__SLOW__MODEL_ID", "gemini-1.5-pro"),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		RecordingBucket: getEnv("RECORDING_BUCKET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		IncidentAlertEmail: getEnv("INCIDENT_ALERT_EMAIL", ""),

		SESFromEmail:   getEnv("SES_FROM_EMAIL", ""),
		OpsReportEmail: getEnv("OPS_REPORT_EMAIL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		TelnyxAPIKey: getEnv("TELNYX_API_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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
