package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophchat/internal/apperr"
)

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CHAT_AUTH_ACCESS_SECRET", "access")
	t.Setenv("CHAT_AUTH_REFRESH_SECRET", "refresh")
	t.Setenv("CHAT_AUTH_ACCESS_TTL", "5m")
	t.Setenv("CHAT_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com/")
	t.Setenv("CHAT_CLIENT_URL", "https://a.example.com")
	t.Setenv("CHAT_LOG_LEVEL", "debug")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, "access", cfg.Auth.AccessSecret)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.True(t, cfg.Auth.CookieSecure)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.S3.Enabled())
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoad_DevelopmentOrigins(t *testing.T) {
	t.Setenv("CHAT_AUTH_ACCESS_SECRET", "access")
	t.Setenv("CHAT_AUTH_REFRESH_SECRET", "refresh")
	t.Setenv("CHAT_SERVER_ENV", "development")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:5173")
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:3000")
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "server.yaml")
	content := `
server:
  addr: ":8080"
auth:
  access_secret: file-access
  refresh_secret: file-refresh
redis:
  addr: "localhost:6379"
s3:
  bucket: chat-images
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	cfg, err := Load(New(), file)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "file-access", cfg.Auth.AccessSecret)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.S3.Enabled())
	assert.Equal(t, "messages", cfg.S3.Prefix)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, apperr.Config, apperr.KindOf(err))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Auth: AuthConfig{
				AccessSecret:  "a",
				RefreshSecret: "r",
				AccessTTL:     time.Minute,
				RefreshTTL:    time.Hour,
			},
			RateLimit: RateLimitConfig{AuthRate: 1, AuthWindow: time.Minute},
		}
	}

	tests := []struct {
		mutate  func(c *Config)
		name    string
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing access secret", mutate: func(c *Config) { c.Auth.AccessSecret = "" }, wantErr: true},
		{name: "missing refresh secret", mutate: func(c *Config) { c.Auth.RefreshSecret = "" }, wantErr: true},
		{name: "same secrets", mutate: func(c *Config) { c.Auth.RefreshSecret = "a" }, wantErr: true},
		{name: "access outlives refresh", mutate: func(c *Config) { c.Auth.AccessTTL = 2 * time.Hour }, wantErr: true},
		{name: "zero rate", mutate: func(c *Config) { c.RateLimit.AuthRate = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.Config, apperr.KindOf(err))
		})
	}
}
