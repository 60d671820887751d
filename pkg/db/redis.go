package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

// RedisConfig describes a Redis endpoint. URL wins over the individual parts.
type RedisConfig struct {
	URL      string
	Host     string
	Port     string
	Password string
	DB       string
}

// RedisURL renders the connection URL for the config
func (cfg RedisConfig) RedisURL() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	host, port, database := cfg.Host, cfg.Port, cfg.DB
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}
	if database == "" {
		database = "0"
	}
	if cfg.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%s/%s", cfg.Password, host, port, database)
	}
	return fmt.Sprintf("redis://%s:%s/%s", host, port, database)
}

// NewRedisClient parses the URL, connects and pings the server
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Redis 7 does not know the maint_notifications handshake
	opts.MaintNotificationsConfig = &maintnotifications.Config{
		Mode: maintnotifications.ModeDisabled,
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
