package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TOKEN_SECRET_KEY", "access")
	t.Setenv("REFRESH_TOKEN_SECRET_KEY", "refresh")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 2*time.Hour, cfg.Token.AccessTTL)
	assert.Equal(t, 48*time.Hour, cfg.Token.RefreshTTL)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "user-events", cfg.MQ.UserEvents)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TOKEN_SECRET_KEY", "  access  ")
	t.Setenv("REFRESH_TOKEN_SECRET_KEY", "refresh")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("REFRESH_TOKEN_TTL", "not-a-duration")
	t.Setenv("DB_SSL", "true")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MQ_BACKEND", "RabbitMQ")

	cfg := LoadConfig()

	assert.Equal(t, "access", cfg.Token.AccessSecret)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 48*time.Hour, cfg.Token.RefreshTTL)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, MQBackendRabbitMQ, cfg.MQ.Backend)
}

func TestValidate(t *testing.T) {
	valid := Config{
		StoreDriver: StoreDriverMemory,
		BcryptCost:  10,
		Token: TokenConfig{
			AccessSecret:  "a",
			RefreshSecret: "b",
			AccessTTL:     time.Hour,
			RefreshTTL:    time.Hour,
		},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing access secret", func(c *Config) { c.Token.AccessSecret = "" }, "TOKEN_SECRET_KEY is required"},
		{"missing refresh secret", func(c *Config) { c.Token.RefreshSecret = "" }, "REFRESH_TOKEN_SECRET_KEY is required"},
		{"same secrets", func(c *Config) { c.Token.RefreshSecret = "a" }, "must differ"},
		{"zero ttl", func(c *Config) { c.Token.AccessTTL = 0 }, "lifetimes must be positive"},
		{"bcrypt cost", func(c *Config) { c.BcryptCost = 2 }, "BCRYPT_COST"},
		{"store driver", func(c *Config) { c.StoreDriver = "mongo" }, "STORE_DRIVER"},
		{"mq backend", func(c *Config) { c.MQ.Backend = "kafka" }, "MQ_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
