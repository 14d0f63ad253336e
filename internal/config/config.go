package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource      string
	Port          string
	Env           string
	KafkaBrokers  []string
	NotifyTopic   string
	MigrationsDir string
}

// Load reads configuration from the environment, after loading a local
// .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:      dbSource,
		Port:          getenv("SERVER_PORT", "8080"),
		Env:           getenv("ENVIRONMENT", "development"),
		NotifyTopic:   getenv("NOTIFY_TOPIC", "transfer_notifications"),
		MigrationsDir: os.Getenv("MIGRATIONS_DIR"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
