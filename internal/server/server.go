// Package server собирает компоненты чата в HTTP сервер.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iudanet/gophchat/internal/server/config"
	"github.com/iudanet/gophchat/internal/server/delivery"
	"github.com/iudanet/gophchat/internal/server/handlers"
	"github.com/iudanet/gophchat/internal/server/mail"
	"github.com/iudanet/gophchat/internal/server/media"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/middleware"
	"github.com/iudanet/gophchat/internal/server/presence"
	"github.com/iudanet/gophchat/internal/server/realtime"
	"github.com/iudanet/gophchat/internal/server/storage/redis"
	"github.com/iudanet/gophchat/internal/server/storage/sqlite"
	"github.com/iudanet/gophchat/internal/server/token"
)

// Server - собранный сервер чата
type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *sqlite.Storage
	redis       *goredis.Client
	metrics     *metrics.Metrics
	registry    *presence.Registry
	authLimiter *middleware.RateLimiter
	handler     http.Handler
	version     string
}

// New открывает хранилища и собирает обработчики
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*Server, error) {
	store, err := sqlite.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		metrics:  metrics.New(),
		registry: presence.NewRegistry(logger),
		version:  version,
	}

	var denylist token.Denylist = store
	if cfg.Redis.Enabled() {
		client, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		s.redis = client
		denylist = redis.NewDenylist(client)
		logger.Info("token revocation stored in redis", slog.String("addr", cfg.Redis.Addr))
	}

	var uploader media.Uploader = media.InlineUploader{}
	if cfg.S3.Enabled() {
		up, err := media.NewS3Uploader(ctx, media.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		uploader = up
		logger.Info("images stored in s3", slog.String("bucket", cfg.S3.Bucket))
	}

	var mailer mail.Mailer = mail.NopMailer{}
	if cfg.SMTP.Enabled() {
		mailer = mail.NewSMTPMailer(mail.Config{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			Username:   cfg.SMTP.Username,
			Password:   cfg.SMTP.Password,
			From:       cfg.SMTP.From,
			AdminEmail: cfg.SMTP.AdminEmail,
			ClientURL:  cfg.ClientURL,
		}, logger)
	}

	tokens := token.NewService(token.Config{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	}, token.WithDenylist(denylist))

	engine := delivery.NewEngine(logger, store, store, s.registry, uploader, delivery.WithMetrics(s.metrics))
	authn := middleware.NewAuthenticator(tokens, store, s.metrics)
	s.authLimiter = middleware.NewRateLimiter(cfg.RateLimit.AuthRate, cfg.RateLimit.AuthWindow, logger)

	s.handler = s.routes(routeDeps{
		auth: handlers.NewAuthHandler(logger, store, tokens, mailer, uploader, s.metrics, handlers.CookieConfig{
			Name:   middleware.RefreshCookieName,
			Secure: cfg.Auth.CookieSecure,
		}),
		messages: handlers.NewMessageHandler(logger, store, engine),
		health:   handlers.NewHealthHandler(logger, store, version),
		ws:       realtime.NewHandler(logger, authn, s.registry, engine, cfg.AllowedOrigins, s.metrics),
		authn:    authn,
	})

	return s, nil
}

type routeDeps struct {
	auth     *handlers.AuthHandler
	messages *handlers.MessageHandler
	health   *handlers.HealthHandler
	ws       *realtime.Handler
	authn    *middleware.Authenticator
}

func (s *Server) routes(d routeDeps) http.Handler {
	mux := http.NewServeMux()

	limited := s.authLimiter.Middleware()
	access := middleware.RequireAccessToken(s.logger, d.authn)
	refresh := middleware.RequireRefreshToken(s.logger, d.authn, middleware.RefreshCookieName)

	// auth
	mux.Handle("POST /api/auth/signup", limited(http.HandlerFunc(d.auth.Signup)))
	mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(d.auth.Login)))
	mux.Handle("POST /api/auth/refresh", limited(refresh(http.HandlerFunc(d.auth.Refresh))))
	mux.HandleFunc("POST /api/auth/logout", d.auth.Logout)
	mux.Handle("GET /api/auth/check", access(http.HandlerFunc(d.auth.Check)))
	mux.Handle("PUT /api/auth/update-profile", access(http.HandlerFunc(d.auth.UpdateProfile)))

	// messages
	mux.Handle("GET /api/messages/contacts", access(http.HandlerFunc(d.messages.Contacts)))
	mux.Handle("GET /api/messages/chats", access(http.HandlerFunc(d.messages.Chats)))
	mux.Handle("GET /api/messages/{userID}", access(http.HandlerFunc(d.messages.History)))
	mux.Handle("POST /api/messages/send/{userID}", access(http.HandlerFunc(d.messages.Send)))
	mux.Handle("DELETE /api/messages/{messageID}", access(http.HandlerFunc(d.messages.Delete)))
	mux.Handle("POST /api/messages/reactions/{messageID}", access(http.HandlerFunc(d.messages.AddReaction)))
	mux.Handle("DELETE /api/messages/reactions/{messageID}/{emoji}", access(http.HandlerFunc(d.messages.RemoveReaction)))

	// real-time, аутентификация внутри: токен может прийти в ?token=
	mux.Handle("GET /ws", d.ws)

	mux.HandleFunc("GET /api/health", d.health.Health)
	mux.HandleFunc("GET /{$}", d.health.Health)
	mux.Handle("GET /metrics", s.metrics.Handler())

	var h http.Handler = mux
	h = middleware.CORSMiddleware(s.cfg.AllowedOrigins)(h)
	h = middleware.MetricsMiddleware(s.metrics)(h)
	h = middleware.LoggingWithSkip(s.logger, []string{"/api/health", "/metrics"})(h)
	h = middleware.RecoveryMiddleware(s.logger)(h)
	return h
}

// Handler возвращает корневой HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run обслуживает запросы до отмены ctx, затем корректно завершается
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go s.purgeRevocations(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			slog.String("addr", s.cfg.Addr),
			slog.String("version", s.version),
			slog.String("env", s.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	// hijacked WebSocket соединения Shutdown не закрывает
	for _, conn := range s.registry.All() {
		if c, ok := conn.(*realtime.Conn); ok {
			c.Close()
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// purgeRevocations периодически удаляет истекшие записи отзыва из sqlite
func (s *Server) purgeRevocations(ctx context.Context) {
	period := s.cfg.Auth.RevocationPurgePeriod
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpiredRevocations(ctx)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to purge revoked tokens", slog.Any("error", err))
				continue
			}
			if n > 0 {
				s.logger.DebugContext(ctx, "purged revoked tokens", slog.Int("count", n))
			}
		}
	}
}

// Close освобождает ресурсы
func (s *Server) Close() error {
	if s.authLimiter != nil {
		s.authLimiter.Stop()
	}
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}
