// Package config загружает конфигурацию сервера: значения по умолчанию,
// YAML файл, переменные окружения CHAT_* и флаги командной строки.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iudanet/gophchat/internal/apperr"
)

// EnvPrefix - префикс переменных окружения: CHAT_AUTH_ACCESS_SECRET и т.д.
const EnvPrefix = "CHAT"

// Ключи конфигурации
const (
	KeyAddr             = "server.addr"
	KeyEnv              = "server.env"
	KeyLogLevel         = "log.level"
	KeyAccessSecret     = "auth.access_secret"
	KeyRefreshSecret    = "auth.refresh_secret"
	KeyAccessTTL        = "auth.access_ttl"
	KeyRefreshTTL       = "auth.refresh_ttl"
	KeyCookieSecure     = "auth.cookie_secure"
	KeyAllowedOrigins   = "cors.allowed_origins"
	KeyClientURL        = "client.url"
	KeyDatabasePath     = "database.path"
	KeyRedisAddr        = "redis.addr"
	KeyRedisPassword    = "redis.password"
	KeyRedisDB          = "redis.db"
	KeyS3Bucket         = "s3.bucket"
	KeyS3Region         = "s3.region"
	KeyS3Endpoint       = "s3.endpoint"
	KeyS3Prefix         = "s3.prefix"
	KeyS3AccessKey      = "s3.access_key_id"
	KeyS3SecretKey      = "s3.secret_access_key"
	KeyS3PublicURL      = "s3.public_base_url"
	KeyS3PathStyle      = "s3.use_path_style"
	KeySMTPHost         = "smtp.host"
	KeySMTPPort         = "smtp.port"
	KeySMTPUsername     = "smtp.username"
	KeySMTPPassword     = "smtp.password"
	KeySMTPFrom         = "smtp.from"
	KeySMTPAdminEmail   = "smtp.admin_email"
	KeyAuthRateLimit    = "ratelimit.auth_rate"
	KeyAuthRateWindow   = "ratelimit.auth_window"
	KeyShutdownTimeout  = "server.shutdown_timeout"
	KeyRevocationPurge  = "auth.revocation_purge_interval"
)

// Config - конфигурация сервера
type Config struct {
	Addr            string
	Env             string
	LogLevel        string
	ClientURL       string
	DatabasePath    string
	Auth            AuthConfig
	AllowedOrigins  []string
	Redis           RedisConfig
	S3              S3Config
	SMTP            SMTPConfig
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration
}

// AuthConfig - параметры токенов
type AuthConfig struct {
	AccessSecret          string
	RefreshSecret         string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	RevocationPurgePeriod time.Duration
	CookieSecure          bool
}

// RedisConfig - необязательный Redis для отзыва токенов
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled сообщает, настроен ли Redis
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// S3Config - необязательное хранилище изображений
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	UsePathStyle    bool
}

// Enabled сообщает, настроен ли S3
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// SMTPConfig - необязательная отправка писем
type SMTPConfig struct {
	Host       string
	Username   string
	Password   string
	From       string
	AdminEmail string
	Port       int
}

// Enabled сообщает, настроен ли SMTP
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// RateLimitConfig - лимит запросов к /api/auth/*
type RateLimitConfig struct {
	AuthRate   int
	AuthWindow time.Duration
}

// SetDefaults выставляет значения по умолчанию
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddr, ":3000")
	v.SetDefault(KeyEnv, "production")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyAccessSecret, "")
	v.SetDefault(KeyRefreshSecret, "")
	v.SetDefault(KeyAccessTTL, 15*time.Minute)
	v.SetDefault(KeyRefreshTTL, 7*24*time.Hour)
	v.SetDefault(KeyCookieSecure, true)
	v.SetDefault(KeyRevocationPurge, time.Hour)
	v.SetDefault(KeyAllowedOrigins, "")
	v.SetDefault(KeyClientURL, "")
	v.SetDefault(KeyDatabasePath, "gophchat.db")
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyS3Bucket, "")
	v.SetDefault(KeyS3Region, "us-east-1")
	v.SetDefault(KeyS3Endpoint, "")
	v.SetDefault(KeyS3Prefix, "messages")
	v.SetDefault(KeyS3AccessKey, "")
	v.SetDefault(KeyS3SecretKey, "")
	v.SetDefault(KeyS3PublicURL, "")
	v.SetDefault(KeyS3PathStyle, false)
	v.SetDefault(KeySMTPHost, "")
	v.SetDefault(KeySMTPPort, 587)
	v.SetDefault(KeySMTPUsername, "")
	v.SetDefault(KeySMTPPassword, "")
	v.SetDefault(KeySMTPFrom, "")
	v.SetDefault(KeySMTPAdminEmail, "")
	v.SetDefault(KeyAuthRateLimit, 20)
	v.SetDefault(KeyAuthRateWindow, time.Minute)
	v.SetDefault(KeyShutdownTimeout, 10*time.Second)
}

// New создает viper с префиксом окружения и значениями по умолчанию
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load читает необязательный YAML файл и собирает Config
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.Wrap(apperr.Config, "failed to read config file", err)
		}
	}

	cfg := &Config{
		Addr:         v.GetString(KeyAddr),
		Env:          v.GetString(KeyEnv),
		LogLevel:     v.GetString(KeyLogLevel),
		ClientURL:    v.GetString(KeyClientURL),
		DatabasePath: v.GetString(KeyDatabasePath),
		Auth: AuthConfig{
			AccessSecret:          v.GetString(KeyAccessSecret),
			RefreshSecret:         v.GetString(KeyRefreshSecret),
			AccessTTL:             v.GetDuration(KeyAccessTTL),
			RefreshTTL:            v.GetDuration(KeyRefreshTTL),
			RevocationPurgePeriod: v.GetDuration(KeyRevocationPurge),
			CookieSecure:          v.GetBool(KeyCookieSecure),
		},
		Redis: RedisConfig{
			Addr:     v.GetString(KeyRedisAddr),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
		},
		S3: S3Config{
			Bucket:          v.GetString(KeyS3Bucket),
			Region:          v.GetString(KeyS3Region),
			Endpoint:        v.GetString(KeyS3Endpoint),
			Prefix:          v.GetString(KeyS3Prefix),
			AccessKeyID:     v.GetString(KeyS3AccessKey),
			SecretAccessKey: v.GetString(KeyS3SecretKey),
			PublicBaseURL:   v.GetString(KeyS3PublicURL),
			UsePathStyle:    v.GetBool(KeyS3PathStyle),
		},
		SMTP: SMTPConfig{
			Host:       v.GetString(KeySMTPHost),
			Port:       v.GetInt(KeySMTPPort),
			Username:   v.GetString(KeySMTPUsername),
			Password:   v.GetString(KeySMTPPassword),
			From:       v.GetString(KeySMTPFrom),
			AdminEmail: v.GetString(KeySMTPAdminEmail),
		},
		RateLimit: RateLimitConfig{
			AuthRate:   v.GetInt(KeyAuthRateLimit),
			AuthWindow: v.GetDuration(KeyAuthRateWindow),
		},
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
	}

	cfg.AllowedOrigins = allowedOrigins(v.GetString(KeyAllowedOrigins), cfg.ClientURL, cfg.IsDevelopment())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment сообщает, запущен ли сервер в режиме разработки
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}

// Validate проверяет обязательные параметры. Отсутствие секретов -
// фатальная ошибка конфигурации.
func (c *Config) Validate() error {
	if c.Auth.AccessSecret == "" {
		return apperr.New(apperr.Config, fmt.Sprintf("%s is required", KeyAccessSecret))
	}
	if c.Auth.RefreshSecret == "" {
		return apperr.New(apperr.Config, fmt.Sprintf("%s is required", KeyRefreshSecret))
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return apperr.New(apperr.Config, "access and refresh secrets must differ")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return apperr.New(apperr.Config, "token TTLs must be positive")
	}
	if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		return apperr.New(apperr.Config, "access TTL must be shorter than refresh TTL")
	}
	if c.RateLimit.AuthRate <= 0 || c.RateLimit.AuthWindow <= 0 {
		return apperr.New(apperr.Config, "auth rate limit must be positive")
	}
	return nil
}

// SlogLevel переводит log.level в slog.Level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func allowedOrigins(raw, clientURL string, dev bool) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(origin string) {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" || seen[origin] {
			return
		}
		seen[origin] = true
		out = append(out, origin)
	}

	for _, origin := range strings.Split(raw, ",") {
		add(origin)
	}
	add(clientURL)
	if dev {
		add("http://localhost:5173")
		add("http://localhost:3000")
	}
	return out
}
