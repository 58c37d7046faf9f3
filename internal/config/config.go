package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Reaper   ReaperConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DSN builds the postgres connection string for the bun pgdriver.
func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.Username + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.Database + "?sslmode=disable"
}

type RedisConfig struct {
	Addr        string
	TripLockTTL time.Duration
}

type KafkaConfig struct {
	Brokers            []string
	NotificationsTopic string
	Enabled            bool
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

type ReaperConfig struct {
	Interval       time.Duration
	NoMethodMaxAge time.Duration
	UnpaidMaxAge   time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "bkoda_user"),
			Password:     getEnv("DB_PASSWORD", "bkoda_pass"),
			Database:     getEnv("DB_NAME", "bkoda"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
			TripLockTTL: time.Duration(getEnvInt("TRIP_LOCK_TTL_SECONDS", 30)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:            strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			NotificationsTopic: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "booking-notifications"),
			Enabled:            getEnvBool("KAFKA_ENABLED", true),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:      getEnv("STRIPE_CURRENCY", "php"),
		},
		Reaper: ReaperConfig{
			Interval:       time.Duration(getEnvInt("REAPER_INTERVAL_MINUTES", 10)) * time.Minute,
			NoMethodMaxAge: time.Duration(getEnvInt("REAPER_NO_METHOD_MAX_AGE_HOURS", 1)) * time.Hour,
			UnpaidMaxAge:   time.Duration(getEnvInt("REAPER_UNPAID_MAX_AGE_HOURS", 24)) * time.Hour,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
