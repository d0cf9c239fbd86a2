package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// AMQP configuration (lifecycle events, optional)
	AMQPURL string

	// Queue policy defaults; per event/type overrides live in the
	// queue_configs collection.
	MaxActiveSessions   int
	SessionDuration     time.Duration
	ExtensionDuration   time.Duration
	QueuePositionUpdate time.Duration

	// Reaper configuration
	ReaperInterval   time.Duration
	AbandonmentGrace time.Duration

	// Archival
	ArchiveBatchSize int

	// Queue token cookie
	TokenSecret string
	CookieName  string

	// Rate limiting
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics bool
	MetricsAddr   string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: skipping .env: %v", err)
	}

	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// AMQP
		AMQPURL: getEnv("RABBITMQ_URL", ""),

		// Queue
		MaxActiveSessions:   getEnvAsInt("MAX_ACTIVE_SESSIONS", 10),
		SessionDuration:     getEnvAsDuration("QUEUE_SESSION_DURATION", "20m"),
		ExtensionDuration:   getEnvAsDuration("QUEUE_EXTENSION_DURATION", "5m"),
		QueuePositionUpdate: getEnvAsDuration("QUEUE_POSITION_UPDATE", "10s"),

		// Reaper
		ReaperInterval:   getEnvAsDuration("REAPER_INTERVAL", "15s"),
		AbandonmentGrace: getEnvAsDuration("ABANDONMENT_GRACE", "2m"),

		// Archival
		ArchiveBatchSize: getEnvAsInt("ARCHIVE_BATCH_SIZE", 200),

		// Token
		TokenSecret: getEnv("QUEUE_TOKEN_SECRET", "dev-queue-secret"),
		CookieName:  getEnv("QUEUE_COOKIE_NAME", "chq_session"),

		// Rate limiting
		RateLimitPerMinute: getEnvAsInt("QUEUE_RATE_LIMIT_PER_MINUTE", 30),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
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

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
