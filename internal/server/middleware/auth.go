package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/gophchat/internal/apperr"
	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/httpjson"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/storage"
	"github.com/iudanet/gophchat/internal/server/token"
)

// RefreshCookieName - имя HTTP-only cookie с refresh токеном
const RefreshCookieName = "refresh_token"

type contextKey string

const (
	userKey   contextKey = "user"
	claimsKey contextKey = "claims"
)

// ErrMissingToken - в запросе нет учетных данных
var ErrMissingToken = apperr.New(apperr.Unauthenticated, "Unauthorized - No token provided")

// UserLookup находит пользователя по идентификатору из токена
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// Authenticator проверяет токен и находит соответствующего пользователя
type Authenticator struct {
	tokens  *token.Service
	users   UserLookup
	metrics *metrics.Metrics
}

// NewAuthenticator создает Authenticator. m может быть nil.
func NewAuthenticator(tokens *token.Service, users UserLookup, m *metrics.Metrics) *Authenticator {
	return &Authenticator{tokens: tokens, users: users, metrics: m}
}

// Tokens возвращает сервис токенов
func (a *Authenticator) Tokens() *token.Service {
	return a.tokens
}

// Authenticate проверяет raw токен указанного типа и возвращает публичный
// профиль владельца. Удаленный пользователь считается неаутентифицированным.
func (a *Authenticator) Authenticate(ctx context.Context, raw string, kind token.Kind) (*models.User, *token.Claims, error) {
	if raw == "" {
		a.metrics.AuthFailure(apperr.Unauthenticated.String())
		return nil, nil, ErrMissingToken
	}

	claims, err := a.tokens.Verify(ctx, raw, kind)
	if err != nil {
		a.metrics.AuthFailure(apperr.Code(apperr.KindOf(err)))
		return nil, nil, err
	}

	user, err := a.users.GetUserByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			a.metrics.AuthFailure(apperr.Unauthenticated.String())
			return nil, nil, apperr.New(apperr.Unauthenticated, "Unauthorized - User not found")
		}
		return nil, nil, apperr.Wrap(apperr.Internal, "failed to load user", err)
	}

	return user.Public(), claims, nil
}

// BearerToken извлекает токен из заголовка Authorization: Bearer <token>
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireAccessToken создает middleware, который пропускает только запросы
// с действующим access токеном в заголовке Authorization
func RequireAccessToken(logger *slog.Logger, authn *Authenticator) func(http.Handler) http.Handler {
	return requireToken(logger, authn, token.KindAccess, BearerToken)
}

// RequireRefreshToken создает middleware для эндпоинта обновления сессии:
// refresh токен берется из HTTP-only cookie
func RequireRefreshToken(logger *slog.Logger, authn *Authenticator, cookieName string) func(http.Handler) http.Handler {
	return requireToken(logger, authn, token.KindRefresh, func(r *http.Request) string {
		cookie, err := r.Cookie(cookieName)
		if err != nil {
			return ""
		}
		return cookie.Value
	})
}

func requireToken(logger *slog.Logger, authn *Authenticator, kind token.Kind, extract func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			user, claims, err := authn.Authenticate(ctx, extract(r), kind)
			if err != nil {
				level := slog.LevelWarn
				if apperr.HTTPStatus(apperr.KindOf(err)) >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(ctx, level, "authentication failed",
					slog.String("path", sanitizePath(r.URL.Path)),
					slog.String("kind", string(kind)),
					slog.Any("error", err),
				)
				httpjson.WriteError(w, logger, err)
				return
			}

			logger.DebugContext(ctx, "user authenticated", slog.String("user_id", user.ID))

			ctx = context.WithValue(ctx, userKey, user)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext возвращает пользователя, прикрепленного middleware
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok && user != nil
}

// ClaimsFromContext возвращает claims проверенного токена
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok && claims != nil
}

// WithUser прикрепляет пользователя к контексту (используется в тестах handlers)
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// WithClaims прикрепляет claims к контексту
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}
