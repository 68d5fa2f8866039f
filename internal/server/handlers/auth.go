package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophchat/internal/apperr"
	"github.com/iudanet/gophchat/internal/crypto"
	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/httpjson"
	"github.com/iudanet/gophchat/internal/server/mail"
	"github.com/iudanet/gophchat/internal/server/media"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/middleware"
	"github.com/iudanet/gophchat/internal/server/storage"
	"github.com/iudanet/gophchat/internal/server/token"
	"github.com/iudanet/gophchat/internal/validation"
	"github.com/iudanet/gophchat/pkg/api"
)

// welcomeMailTimeout ограничивает фоновую отправку приветственного письма
const welcomeMailTimeout = 30 * time.Second

var (
	ErrEmailExists        = apperr.New(apperr.InvalidArgument, "Email already exists")
	ErrInvalidCredentials = apperr.New(apperr.InvalidArgument, "Invalid credentials")
	ErrNoUser             = apperr.New(apperr.Unauthenticated, "Unauthorized - No user in context")
)

// CookieConfig - параметры cookie с refresh токеном
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
}

// AuthHandler обрабатывает запросы авторизации и профиля
type AuthHandler struct {
	logger   *slog.Logger
	users    storage.UserStorage
	tokens   *token.Service
	mailer   mail.Mailer
	uploader media.Uploader
	metrics  *metrics.Metrics
	cookie   CookieConfig
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(
	logger *slog.Logger,
	users storage.UserStorage,
	tokens *token.Service,
	mailer mail.Mailer,
	uploader media.Uploader,
	m *metrics.Metrics,
	cookie CookieConfig,
) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = middleware.RefreshCookieName
	}
	if cookie.Path == "" {
		cookie.Path = "/api/auth"
	}
	if mailer == nil {
		mailer = mail.NopMailer{}
	}
	return &AuthHandler{
		logger:   logger,
		users:    users,
		tokens:   tokens,
		mailer:   mailer,
		uploader: uploader,
		metrics:  m,
		cookie:   cookie,
	}
}

// Signup обрабатывает POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SignupRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode signup request", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, err)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = normalizeEmail(req.Email)

	if err := validation.Struct(req); err != nil {
		httpjson.WriteError(w, h.logger, err)
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooLong) {
			httpjson.WriteError(w, h.logger, err)
			return
		}
		h.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, err)
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			h.logger.WarnContext(ctx, "signup failed: email exists")
			httpjson.WriteError(w, h.logger, ErrEmailExists)
			return
		}
		h.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, apperr.Wrap(apperr.Persistence, "failed to create user", err))
		return
	}

	pair, err := h.tokens.IssuePair(user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue tokens", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, err)
		return
	}

	h.sendWelcome(ctx, user)

	h.logger.InfoContext(ctx, "user signed up", slog.String("user_id", user.ID))

	h.setRefreshCookie(w, pair.Refresh)
	httpjson.WriteJSON(w, h.logger, authResponse(user, pair), http.StatusCreated)
}

// Login обрабатывает POST /api/auth/login.
// Неизвестный email и неверный пароль неразличимы для клиента.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode login request", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, err)
		return
	}
	req.Email = normalizeEmail(req.Email)

	if err := validation.Struct(req); err != nil {
		httpjson.WriteError(w, h.logger, err)
		return
	}

	user, err := h.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			_ = crypto.VerifyUnknown(req.Password)
			h.logger.WarnContext(ctx, "login failed: user not found")
			h.metrics.AuthFailure("invalid_credentials")
			httpjson.WriteError(w, h.logger, ErrInvalidCredentials)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, apperr.Wrap(apperr.Persistence, "failed to get user", err))
		return
	}

	if err := crypto.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		h.logger.WarnContext(ctx, "login failed: invalid password", slog.String("user_id", user.ID))
		h.metrics.AuthFailure("invalid_credentials")
		httpjson.WriteError(w, h.logger, ErrInvalidCredentials)
		return
	}

	pair, err := h.tokens.IssuePair(user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue tokens", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	h.setRefreshCookie(w, pair.Refresh)
	httpjson.WriteJSON(w, h.logger, authResponse(user, pair), http.StatusOK)
}

// Refresh обрабатывает POST /api/auth/refresh.
// Вызывается за RequireRefreshToken: предъявленный refresh токен отзывается,
// клиент получает новый access токен и новый refresh cookie.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := middleware.UserFromContext(ctx)
	claims, okClaims := middleware.ClaimsFromContext(ctx)
	if !ok || !okClaims {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}

	// Сначала занимаем jti: из конкурентных обновлений одним cookie проходит одно
	if err := h.tokens.Revoke(ctx, claims); err != nil {
		if errors.Is(err, token.ErrAlreadyRevoked) {
			h.logger.WarnContext(ctx, "refresh token reused", slog.String("user_id", user.ID))
			h.metrics.AuthFailure("refresh_reused")
			httpjson.WriteError(w, h.logger, token.ErrInvalid)
			return
		}
		h.logger.ErrorContext(ctx, "failed to revoke refresh token", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, apperr.Wrap(apperr.Persistence, "failed to rotate refresh token", err))
		return
	}

	pair, err := h.tokens.IssuePair(user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue tokens", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, err)
		return
	}

	h.logger.DebugContext(ctx, "session refreshed", slog.String("user_id", user.ID))

	h.setRefreshCookie(w, pair.Refresh)
	httpjson.WriteJSON(w, h.logger, api.TokenResponse{
		AccessToken: pair.Access.Value,
		ExpiresIn:   int64(pair.Access.TTL.Seconds()),
	}, http.StatusOK)
}

// Logout обрабатывает POST /api/auth/logout.
// Отзывает предъявленные токены (если они действительны) и стирает cookie.
// Отсутствие или недействительность токенов не ошибка: выход идемпотентен.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	revoke := func(raw string, kind token.Kind) {
		if raw == "" {
			return
		}
		claims, err := h.tokens.Verify(ctx, raw, kind)
		if err != nil {
			return
		}
		if err := h.tokens.Revoke(ctx, claims); err != nil {
			if errors.Is(err, token.ErrAlreadyRevoked) {
				return
			}
			h.logger.WarnContext(ctx, "failed to revoke token on logout",
				slog.String("kind", string(kind)), slog.Any("error", err))
			return
		}
		h.logger.InfoContext(ctx, "user logged out", slog.String("user_id", claims.UserID()), slog.String("kind", string(kind)))
	}

	revoke(middleware.BearerToken(r), token.KindAccess)
	if cookie, err := r.Cookie(h.cookie.Name); err == nil {
		revoke(cookie.Value, token.KindRefresh)
	}

	h.clearRefreshCookie(w)
	httpjson.WriteJSON(w, h.logger, api.MessageResponse{Message: "Logged out successfully"}, http.StatusOK)
}

// Check обрабатывает GET /api/auth/check: текущий профиль
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}
	httpjson.WriteJSON(w, h.logger, userResponse(user), http.StatusOK)
}

// UpdateProfile обрабатывает PUT /api/auth/update-profile: смена аватара
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}

	var req api.UpdateProfileRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.WriteError(w, h.logger, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		httpjson.WriteError(w, h.logger, err)
		return
	}

	url, err := media.Ingest(ctx, h.uploader, req.ProfilePic)
	if err != nil {
		h.logger.WarnContext(ctx, "profile picture rejected", slog.String("user_id", user.ID), slog.Any("error", err))
		httpjson.WriteError(w, h.logger, err)
		return
	}

	updated, err := h.users.UpdateProfilePic(ctx, user.ID, url)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			httpjson.WriteError(w, h.logger, apperr.New(apperr.NotFound, "User not found"))
			return
		}
		h.logger.ErrorContext(ctx, "failed to update profile", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, apperr.Wrap(apperr.Persistence, "failed to update profile", err))
		return
	}

	h.logger.InfoContext(ctx, "profile updated", slog.String("user_id", user.ID))
	httpjson.WriteJSON(w, h.logger, userResponse(updated), http.StatusOK)
}

// sendWelcome отправляет письмо в фоне: ошибка почты не влияет на регистрацию
func (h *AuthHandler) sendWelcome(ctx context.Context, user *models.User) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), welcomeMailTimeout)
	email, fullName := user.Email, user.FullName
	go func() {
		defer cancel()
		if err := h.mailer.SendWelcome(ctx, email, fullName); err != nil {
			h.logger.WarnContext(ctx, "failed to send welcome email", slog.Any("error", err))
		}
	}()
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, refresh token.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    refresh.Value,
		Path:     h.cookie.Path,
		Expires:  refresh.ExpiresAt,
		MaxAge:   int(refresh.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userResponse(u *models.User) api.UserResponse {
	return api.UserResponse{
		ID:         u.ID,
		FullName:   u.FullName,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
	}
}

func authResponse(u *models.User, pair token.Pair) api.AuthResponse {
	return api.AuthResponse{
		UserResponse: userResponse(u),
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		ExpiresIn:    int64(pair.Access.TTL.Seconds()),
	}
}
