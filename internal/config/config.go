package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"newroi/ledger-service/pkg/db"
)

// Config holds all configuration for the ledger service
type Config struct {
	Database     db.Config
	Redis        db.RedisConfig
	Server       ServerConfig
	Distribution DistributionConfig
	Telegram     TelegramConfig
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPPort       string
	GRPCPort       string
	MetricsEnabled bool
}

// DistributionConfig controls the daily scheduler
type DistributionConfig struct {
	Location         *time.Location
	Hour             int
	SchedulerEnabled bool
}

// TelegramConfig holds the admin chat notifier settings. Empty token disables it.
type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
}

// Enabled reports whether the Telegram notifier should be wired
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.AdminChatID != 0
}

// LoadEnvFiles loads the first .env file found, in the order the service
// is usually started from (repo root, cmd dir, container workdir)
func LoadEnvFiles() string {
	for _, path := range []string{".env", "../../.env", "/app/.env"} {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbPort, err := getEnvInt("DB_PORT", 3306)
	if err != nil {
		return nil, err
	}

	tzName := getEnv("DISTRIBUTION_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid DISTRIBUTION_TIMEZONE %q: %w", tzName, err)
	}

	hour, err := getEnvInt("DISTRIBUTION_HOUR", 0)
	if err != nil {
		return nil, err
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("invalid DISTRIBUTION_HOUR %d: must be between 0 and 23", hour)
	}

	var chatID int64
	if raw := getEnv("TELEGRAM_ADMIN_CHAT_ID", ""); raw != "" {
		chatID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ADMIN_CHAT_ID: %w", err)
		}
	}

	return &Config{
		Database: db.Config{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_DATABASE", "newroi"),
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: db.RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnv("REDIS_DB", "0"),
		},
		Server: ServerConfig{
			HTTPPort:       getEnv("HTTP_PORT", "8080"),
			GRPCPort:       getEnv("GRPC_PORT", "50051"),
			MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		},
		Distribution: DistributionConfig{
			Location:         loc,
			Hour:             hour,
			SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		},
		Telegram: TelegramConfig{
			BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
			AdminChatID: chatID,
		},
	}, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}
