package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	CORSAllowedOrigins []string
	WebhookRatePerSec  float64
	WebhookBurst       int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	UseMemoryQueue         bool
	WorkerCount            int
	ConversationQueueURL   string
	ProcessedMessagesTable string
	BookingEventsQueueURL  string
	OutboxPollInterval     time.Duration
	OutboxMaxAttempts      int
	SessionTTL             time.Duration

	// WhatsApp Cloud API
	WhatsAppAPIBaseURL    string
	WhatsAppAccessToken   string
	WhatsAppAppSecret     string
	WhatsAppVerifyToken   string
	WhatsAppClinicMapJSON string

	// Tracing
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64

	// Scheduling
	SlotStepMinutes       int
	CalendarDays          int
	NearestDateRadiusDays int
	NearestDateLimit      int
}

// LoadDotEnv loads a .env file when present. Missing files are ignored so
// production containers can rely on the real environment.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WebhookRatePerSec:  getEnvAsFloat("WEBHOOK_RATE_PER_SEC", 20),
		WebhookBurst:       getEnvAsInt("WEBHOOK_BURST", 40),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		UseMemoryQueue:         getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:            getEnvAsInt("WORKER_COUNT", 2),
		ConversationQueueURL:   getEnv("CONVERSATION_QUEUE_URL", ""),
		ProcessedMessagesTable: getEnv("PROCESSED_MESSAGES_TABLE", "whatsapp_processed_messages"),
		BookingEventsQueueURL:  getEnv("BOOKING_EVENTS_QUEUE_URL", ""),
		OutboxPollInterval:     getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxMaxAttempts:      getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),
		SessionTTL:             getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		WhatsAppAPIBaseURL:    strings.TrimRight(getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v20.0"), "/"),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppClinicMapJSON: getEnv("WHATSAPP_CLINIC_MAP_JSON", ""),

		OTelEnabled:     getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvAsFloat("OTEL_SAMPLING_RATIO", 1),

		SlotStepMinutes:       getEnvAsInt("SLOT_STEP_MINUTES", 15),
		CalendarDays:          getEnvAsInt("CALENDAR_DAYS", 14),
		NearestDateRadiusDays: getEnvAsInt("NEAREST_DATE_RADIUS_DAYS", 30),
		NearestDateLimit:      getEnvAsInt("NEAREST_DATE_LIMIT", 8),
	}
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
