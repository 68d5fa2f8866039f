// Package token выпускает и проверяет access и refresh JWT.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iudanet/gophchat/internal/apperr"
)

// Kind - назначение токена
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "gophchat"
)

var (
	// ErrConfig - секрет подписи не настроен
	ErrConfig = apperr.New(apperr.Config, "token signing secret is not configured")
	// ErrExpired - подпись верна, но срок действия истек
	ErrExpired = apperr.New(apperr.Expired, "token expired")
	// ErrInvalid - любая другая причина отказа
	ErrInvalid = apperr.New(apperr.Invalid, "invalid token")
)

// Claims представляет JWT claims токенов чата
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// UserID возвращает идентичность, для которой выпущен токен
func (c *Claims) UserID() string {
	return c.Subject
}

// Token - подписанный токен и его метаданные
type Token struct {
	ExpiresAt time.Time
	Value     string
	ID        string // jti
	TTL       time.Duration
}

// Pair - access и refresh токены, выпущенные вместе
type Pair struct {
	Access  Token
	Refresh Token
}

// Config содержит конфигурацию для JWT
type Config struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Option настраивает Service
type Option func(*Service)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDenylist включает проверку отозванных токенов
func WithDenylist(d Denylist) Option {
	return func(s *Service) {
		s.denylist = d
	}
}

// Service выпускает и проверяет токены.
// Проверка не меняет состояние, Service безопасен для конкурентного использования.
type Service struct {
	denylist Denylist
	now      func() time.Time
	cfg      Config
}

// NewService создает сервис токенов. Пустые TTL заменяются значениями по умолчанию.
func NewService(cfg Config, opts ...Option) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccessTTL возвращает время жизни access token
func (s *Service) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}

// RefreshTTL возвращает время жизни refresh token
func (s *Service) RefreshTTL() time.Duration {
	return s.cfg.RefreshTTL
}

// IssueAccessToken выпускает короткоживущий access token
func (s *Service) IssueAccessToken(userID string) (Token, error) {
	return s.issue(userID, KindAccess)
}

// IssueRefreshToken выпускает долгоживущий refresh token
func (s *Service) IssueRefreshToken(userID string) (Token, error) {
	return s.issue(userID, KindRefresh)
}

// IssuePair выпускает оба токена
func (s *Service) IssuePair(userID string) (Pair, error) {
	access, err := s.IssueAccessToken(userID)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.IssueRefreshToken(userID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

func (s *Service) issue(userID string, kind Kind) (Token, error) {
	secret, ttl := s.params(kind)
	if secret == "" {
		return Token{}, ErrConfig
	}
	if strings.TrimSpace(userID) == "" {
		return Token{}, apperr.New(apperr.InvalidArgument, "user id is required")
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	id := uuid.NewString()

	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	return Token{Value: signed, ID: id, ExpiresAt: expiresAt, TTL: ttl}, nil
}

// Verify проверяет подпись, срок действия, назначение и отзыв токена.
// Истекший токен дает ErrExpired, все остальные отказы - ErrInvalid.
func (s *Service) Verify(ctx context.Context, raw string, kind Kind) (*Claims, error) {
	secret, _ := s.params(kind)
	if secret == "" {
		return nil, ErrConfig
	}
	if raw == "" {
		return nil, ErrInvalid
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Kind != kind || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalid
	}

	if s.denylist != nil && claims.ID != "" {
		revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to check token revocation", err)
		}
		if revoked {
			return nil, ErrInvalid
		}
	}

	return claims, nil
}

// Revoke отзывает токен до его естественного истечения.
// Повторный отзыв дает ErrAlreadyRevoked. Без настроенного denylist вызов ничего не делает.
func (s *Service) Revoke(ctx context.Context, claims *Claims) error {
	if s.denylist == nil || claims == nil || claims.ID == "" {
		return nil
	}
	until := s.now()
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if !until.After(s.now()) {
		return nil
	}
	if err := s.denylist.Revoke(ctx, claims.ID, until); err != nil {
		if errors.Is(err, ErrAlreadyRevoked) {
			return ErrAlreadyRevoked
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (s *Service) params(kind Kind) (string, time.Duration) {
	if kind == KindRefresh {
		return s.cfg.RefreshSecret, s.cfg.RefreshTTL
	}
	return s.cfg.AccessSecret, s.cfg.AccessTTL
}
