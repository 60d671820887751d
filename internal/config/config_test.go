package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"DB_PORT", "DISTRIBUTION_TIMEZONE", "DISTRIBUTION_HOUR", "TELEGRAM_ADMIN_CHAT_ID", "REDIS_URL", "SCHEDULER_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "UTC", cfg.Distribution.Location.String())
	assert.Equal(t, 0, cfg.Distribution.Hour)
	assert.True(t, cfg.Distribution.SchedulerEnabled)
	assert.False(t, cfg.Telegram.Enabled())
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.RedisURL())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DISTRIBUTION_TIMEZONE", "UTC")
	t.Setenv("DISTRIBUTION_HOUR", "3")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_ADMIN_CHAT_ID", "-100123")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, 3, cfg.Distribution.Hour)
	assert.False(t, cfg.Distribution.SchedulerEnabled)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, int64(-100123), cfg.Telegram.AdminChatID)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.RedisURL())
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "DB_PORT", "mysql"},
		{"bad timezone", "DISTRIBUTION_TIMEZONE", "Mars/Olympus"},
		{"hour out of range", "DISTRIBUTION_HOUR", "24"},
		{"bad chat id", "TELEGRAM_ADMIN_CHAT_ID", "admins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
