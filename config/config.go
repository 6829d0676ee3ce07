package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port     string
	AppEnv   string
	LogLevel string
	DBURL    string

	JWTSecret    string
	OIDCIssuer   string
	OIDCClientID string

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string

	AppURL     string
	CORSOrigin string

	CommissionDefault  decimal.Decimal
	CommissionMin      decimal.Decimal
	CommissionMax      decimal.Decimal
	CommissionCacheTTL time.Duration

	PayoutHold      time.Duration
	PayoutBatchSize int
	PayoutLockTTL   time.Duration

	CronSecret     string
	CronSecretHash string

	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string
	OTELEndpoint string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

func LoadEnv() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DBURL:    mustEnv("DB_URL"),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
		OIDCClientID: getEnv("OIDC_CLIENT_ID", ""),

		StripeSecretKey:     mustEnv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: mustEnv("STRIPE_WEBHOOK_SECRET"),
		Currency:            strings.ToLower(getEnv("CURRENCY", "usd")),

		AppURL:     getEnv("APP_URL", "http://localhost:3000"),
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3000"),

		CommissionDefault:  getDecimal("COMMISSION_DEFAULT", "3"),
		CommissionMin:      getDecimal("COMMISSION_MIN", "1"),
		CommissionMax:      getDecimal("COMMISSION_MAX", "10"),
		CommissionCacheTTL: getDuration("COMMISSION_CACHE_TTL", 30*time.Second),

		PayoutHold:      time.Duration(getInt("PAYOUT_HOLD_HOURS", 0)) * time.Hour,
		PayoutBatchSize: getInt("PAYOUT_BATCH_SIZE", 50),
		PayoutLockTTL:   getDuration("PAYOUT_LOCK_TTL", 5*time.Minute),

		CronSecret:     getEnv("CRON_SECRET", ""),
		CronSecretHash: getEnv("CRON_SECRET_HASH", ""),

		RedisURL:     getEnv("REDIS_URL", ""),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payment.state.changed"),
		OTELEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@localhost"),
	}

	if cfg.JWTSecret == "" && cfg.OIDCIssuer == "" {
		log.Fatal("Either JWT_SECRET or OIDC_ISSUER must be set")
	}
	if cfg.CommissionMin.GreaterThan(cfg.CommissionMax) ||
		cfg.CommissionDefault.LessThan(cfg.CommissionMin) ||
		cfg.CommissionDefault.GreaterThan(cfg.CommissionMax) {
		log.Fatalf("COMMISSION_DEFAULT %s must lie within [%s, %s]", cfg.CommissionDefault, cfg.CommissionMin, cfg.CommissionMax)
	}
	return cfg
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Fatalf("Invalid integer for %s: %q", key, v)
	}
	return n
}

func getDecimal(key, fallback string) decimal.Decimal {
	v := getEnv(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Fatalf("Invalid decimal for %s: %q", key, v)
	}
	return d
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %q", key, v)
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
