package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productionConfig() *Config {
	cfg := testConfig()
	cfg.AppEnv = "production"
	cfg.StoreBackend = StoreBackendGorm
	cfg.DBDriver = "postgres"
	cfg.RedisAddr = "redis:6379"
	return cfg
}

func TestConfig_Validate_Production(t *testing.T) {
	require.NoError(t, productionConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"memory backend", func(c *Config) { c.StoreBackend = StoreBackendMemory }, "STORE_BACKEND=memory"},
		{"admin dev fallback", func(c *Config) { c.AdminDevFallback = true }, "ADMIN_DEV_FALLBACK"},
		{"missing token secret", func(c *Config) { c.TokenSecret = "" }, "TOKEN_SECRET"},
		{"missing redis", func(c *Config) { c.RedisAddr = "" }, "REDIS_ADDR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := productionConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_Validate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }},
		{"unknown driver", func(c *Config) { c.StoreBackend = StoreBackendGorm; c.DBDriver = "oracle" }},
		{"max players zero", func(c *Config) { c.DefaultMaxPlayers = 0 }},
		{"max players too large", func(c *Config) { c.DefaultMaxPlayers = 65 }},
		{"zero window", func(c *Config) { c.RateLimitWindow = 0 }},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -time.Second }},
		{"zero login attempts", func(c *Config) { c.LoginMaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Validate_DevelopmentSecret(t *testing.T) {
	cfg := testConfig()
	cfg.TokenSecret = ""

	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.TokenSecret, 64, "开发环境应生成随机密钥")

	other := testConfig()
	other.TokenSecret = ""
	require.NoError(t, other.Validate())
	assert.NotEqual(t, cfg.TokenSecret, other.TokenSecret)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("TOKEN_SECRET", "env-secret")
	t.Setenv("DEFAULT_MAX_PLAYERS", "12")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("ADMIN_DEV_FALLBACK", "true")
	t.Setenv("LOG_LEVEL", "loud")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, 12, cfg.DefaultMaxPlayers)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.True(t, cfg.AdminDevFallback)
	assert.Equal(t, "info", cfg.LogLevel, "非法日志级别回退到 info")
	assert.Equal(t, "env-secret", cfg.TokenSecret)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("DEFAULT_MAX_PLAYERS", "many")
	t.Setenv("RATE_LIMIT_WINDOW", "soon")

	_, err := LoadConfig()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_MAX_PLAYERS")
	assert.Contains(t, err.Error(), "RATE_LIMIT_WINDOW")
}
