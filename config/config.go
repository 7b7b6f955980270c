package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Storage: "mongo" in deployed environments, "memory" for local runs.
	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DatabaseName  string `mapstructure:"DATABASE_NAME"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisLockDB   int    `mapstructure:"REDIS_LOCK_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Payment processor.
	StripeKey           string        `mapstructure:"STRIPE_KEY"`
	StripeWebhookSecret string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	Currency            string        `mapstructure:"CURRENCY"`
	ProcessorTimeout    time.Duration `mapstructure:"PROCESSOR_TIMEOUT"`

	// Background jobs.
	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	SweepLockTTL      time.Duration `mapstructure:"SWEEP_LOCK_TTL"`

	// Notification fan-out.
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	SettlementExchange  string `mapstructure:"SETTLEMENT_EXCHANGE"`
	FirebaseCredentials string `mapstructure:"FIREBASE_CREDENTIALS"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func setDefaults() {
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 200)
	viper.SetDefault("STORAGE_DRIVER", "mongo")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "shutterbook")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_LOCK_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 1)
	viper.SetDefault("STRIPE_KEY", "")
	viper.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	viper.SetDefault("CURRENCY", "eur")
	viper.SetDefault("PROCESSOR_TIMEOUT", 15*time.Second)
	viper.SetDefault("SWEEP_INTERVAL", 5*time.Minute)
	viper.SetDefault("RECONCILE_INTERVAL", 15*time.Minute)
	viper.SetDefault("SWEEP_LOCK_TTL", 2*time.Minute)
	viper.SetDefault("RABBITMQ_URL", "")
	viper.SetDefault("SETTLEMENT_EXCHANGE", "settlement.events")
	viper.SetDefault("FIREBASE_CREDENTIALS", "")
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}
