package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophchat/internal/server/delivery"
	"github.com/iudanet/gophchat/internal/server/media"
	"github.com/iudanet/gophchat/internal/server/middleware"
	"github.com/iudanet/gophchat/internal/server/presence"
	"github.com/iudanet/gophchat/internal/server/storage/sqlite"
	"github.com/iudanet/gophchat/internal/server/token"
	"github.com/iudanet/gophchat/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingMailer struct {
	sent chan string
}

func (m *recordingMailer) SendWelcome(_ context.Context, email, _ string) error {
	m.sent <- email
	return nil
}

type handlerEnv struct {
	store    *sqlite.Storage
	tokens   *token.Service
	registry *presence.Registry
	mailer   *recordingMailer
	auth     *AuthHandler
	messages *MessageHandler
	authn    *middleware.Authenticator
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := token.NewService(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}, token.WithDenylist(store))

	logger := setupTestLogger()
	registry := presence.NewRegistry(logger)
	engine := delivery.NewEngine(logger, store, store, registry, media.InlineUploader{})
	mailer := &recordingMailer{sent: make(chan string, 4)}

	return &handlerEnv{
		store:    store,
		tokens:   tokens,
		registry: registry,
		mailer:   mailer,
		auth:     NewAuthHandler(logger, store, tokens, mailer, media.InlineUploader{}, nil, CookieConfig{Secure: true}),
		messages: NewMessageHandler(logger, store, engine),
		authn:    middleware.NewAuthenticator(tokens, store, nil),
	}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.RefreshCookieName {
			return c
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

// signup регистрирует пользователя и возвращает ответ
func (e *handlerEnv) signup(t *testing.T, fullName, email string) api.AuthResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, api.SignupRequest{
		FullName: fullName,
		Email:    email,
		Password: "secret123",
	}))
	w := httptest.NewRecorder()
	e.auth.Signup(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeJSON[api.AuthResponse](t, w)
}

func (e *handlerEnv) withUser(t *testing.T, r *http.Request, userID string) *http.Request {
	t.Helper()
	user, err := e.store.GetUserByID(r.Context(), userID)
	require.NoError(t, err)
	return r.WithContext(middleware.WithUser(r.Context(), user.Public()))
}

func TestAuthHandler_Signup_Success(t *testing.T) {
	env := newHandlerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, api.SignupRequest{
		FullName: "  Ann Smith ",
		Email:    " Ann@Example.COM",
		Password: "secret123",
	}))
	w := httptest.NewRecorder()
	env.auth.Signup(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeJSON[api.AuthResponse](t, w)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "Ann Smith", resp.FullName)
	assert.Equal(t, "ann@example.com", resp.Email)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(900), resp.ExpiresIn)

	cookie := refreshCookie(t, w)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, "/api/auth", cookie.Path)
	assert.Equal(t, resp.RefreshToken, cookie.Value)

	// пароль хранится только в виде хеша
	stored, err := env.store.GetUserByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", stored.PasswordHash)

	select {
	case email := <-env.mailer.sent:
		assert.Equal(t, "ann@example.com", email)
	case <-time.After(time.Second):
		t.Fatal("welcome email was not sent")
	}
}

func TestAuthHandler_Signup_Validation(t *testing.T) {
	env := newHandlerEnv(t)

	tests := []struct {
		req  api.SignupRequest
		name string
	}{
		{name: "missing name", req: api.SignupRequest{Email: "a@example.com", Password: "secret123"}},
		{name: "bad email", req: api.SignupRequest{FullName: "A", Email: "not-an-email", Password: "secret123"}},
		{name: "short password", req: api.SignupRequest{FullName: "A", Email: "a@example.com", Password: "123"}},
		// 40 символов проходят max=72, но это 80 байт
		{name: "password over 72 bytes", req: api.SignupRequest{FullName: "A", Email: "a@example.com", Password: strings.Repeat("п", 40)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, tt.req))
			w := httptest.NewRecorder()
			env.auth.Signup(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_argument", decodeJSON[api.ErrorResponse](t, w).Code)
		})
	}
}

func TestAuthHandler_Signup_InvalidJSON(t *testing.T) {
	env := newHandlerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewBufferString("{bad"))
	w := httptest.NewRecorder()
	env.auth.Signup(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_Signup_DuplicateEmail(t *testing.T) {
	env := newHandlerEnv(t)
	env.signup(t, "Ann", "ann@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, api.SignupRequest{
		FullName: "Other Ann",
		Email:    "ANN@example.com",
		Password: "secret123",
	}))
	w := httptest.NewRecorder()
	env.auth.Signup(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email already exists", decodeJSON[api.ErrorResponse](t, w).Message)
}

func TestAuthHandler_Login(t *testing.T) {
	env := newHandlerEnv(t)
	env.signup(t, "Ann", "ann@example.com")

	t.Run("success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, api.LoginRequest{
			Email:    "ANN@example.com",
			Password: "secret123",
		}))
		w := httptest.NewRecorder()
		env.auth.Login(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeJSON[api.AuthResponse](t, w)
		assert.Equal(t, "ann@example.com", resp.Email)
		assert.NotEmpty(t, resp.AccessToken)
		refreshCookie(t, w)
	})

	// неизвестный email и неверный пароль дают одинаковый ответ
	for name, creds := range map[string]api.LoginRequest{
		"wrong password": {Email: "ann@example.com", Password: "wrong-password"},
		"unknown email":  {Email: "bob@example.com", Password: "secret123"},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, creds))
			w := httptest.NewRecorder()
			env.auth.Login(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Invalid credentials", decodeJSON[api.ErrorResponse](t, w).Message)
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestAuthHandler_Refresh_Rotates(t *testing.T) {
	env := newHandlerEnv(t)
	signed := env.signup(t, "Ann", "ann@example.com")

	refresh := middleware.RequireRefreshToken(setupTestLogger(), env.authn, middleware.RefreshCookieName)(
		http.HandlerFunc(env.auth.Refresh))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: signed.RefreshToken})
	w := httptest.NewRecorder()
	refresh.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeJSON[api.TokenResponse](t, w)
	assert.NotEmpty(t, resp.AccessToken)

	claims, err := env.tokens.Verify(context.Background(), resp.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, signed.ID, claims.UserID())

	rotated := refreshCookie(t, w)
	assert.NotEqual(t, signed.RefreshToken, rotated.Value)

	// старый refresh токен больше не принимается
	replay := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	replay.AddCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: signed.RefreshToken})
	w = httptest.NewRecorder()
	refresh.ServeHTTP(w, replay)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// новый принимается
	next := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	next.AddCookie(rotated)
	w = httptest.NewRecorder()
	refresh.ServeHTTP(w, next)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthHandler_Refresh_ConcurrentSameCookie(t *testing.T) {
	env := newHandlerEnv(t)
	signed := env.signup(t, "Ann", "ann@example.com")

	refresh := middleware.RequireRefreshToken(setupTestLogger(), env.authn, middleware.RefreshCookieName)(
		http.HandlerFunc(env.auth.Refresh))

	const n = 8
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
			req.AddCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: signed.RefreshToken})
			w := httptest.NewRecorder()
			refresh.ServeHTTP(w, req)
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	var ok, rejected int
	for code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusUnauthorized:
			rejected++
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	assert.Equal(t, 1, ok, "one cookie must mint exactly one new session")
	assert.Equal(t, n-1, rejected)
}

func TestAuthHandler_Refresh_AccessTokenRejected(t *testing.T) {
	env := newHandlerEnv(t)
	signed := env.signup(t, "Ann", "ann@example.com")

	refresh := middleware.RequireRefreshToken(setupTestLogger(), env.authn, middleware.RefreshCookieName)(
		http.HandlerFunc(env.auth.Refresh))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: signed.AccessToken})
	w := httptest.NewRecorder()
	refresh.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, api.CodeUnauthenticated, decodeJSON[api.ErrorResponse](t, w).Code)
}

func TestAuthHandler_Logout(t *testing.T) {
	env := newHandlerEnv(t)
	signed := env.signup(t, "Ann", "ann@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+signed.AccessToken)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: signed.RefreshToken})
	w := httptest.NewRecorder()
	env.auth.Logout(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged out successfully", decodeJSON[api.MessageResponse](t, w).Message)

	cookie := refreshCookie(t, w)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)

	ctx := context.Background()
	_, err := env.tokens.Verify(ctx, signed.AccessToken, token.KindAccess)
	assert.ErrorIs(t, err, token.ErrInvalid)
	_, err = env.tokens.Verify(ctx, signed.RefreshToken, token.KindRefresh)
	assert.ErrorIs(t, err, token.ErrInvalid)
}

func TestAuthHandler_Logout_WithoutTokens(t *testing.T) {
	env := newHandlerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	env.auth.Logout(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthHandler_Check(t *testing.T) {
	env := newHandlerEnv(t)
	signed := env.signup(t, "Ann", "ann@example.com")

	req := env.withUser(t, httptest.NewRequest(http.MethodGet, "/api/auth/check", nil), signed.ID)
	w := httptest.NewRecorder()
	env.auth.Check(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON[api.UserResponse](t, w)
	assert.Equal(t, signed.ID, resp.ID)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestAuthHandler_Check_NoUser(t *testing.T) {
	env := newHandlerEnv(t)

	w := httptest.NewRecorder()
	env.auth.Check(w, httptest.NewRequest(http.MethodGet, "/api/auth/check", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_UpdateProfile(t *testing.T) {
	env := newHandlerEnv(t)
	signed := env.signup(t, "Ann", "ann@example.com")

	t.Run("data url", func(t *testing.T) {
		pic := "data:image/png;base64,iVBORw0KGgo="
		req := httptest.NewRequest(http.MethodPut, "/api/auth/update-profile", jsonBody(t, api.UpdateProfileRequest{ProfilePic: pic}))
		req = env.withUser(t, req, signed.ID)
		w := httptest.NewRecorder()
		env.auth.UpdateProfile(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, pic, decodeJSON[api.UserResponse](t, w).ProfilePic)
	})

	t.Run("remote url", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/auth/update-profile", jsonBody(t, api.UpdateProfileRequest{ProfilePic: "https://cdn.example.com/a.png"}))
		req = env.withUser(t, req, signed.ID)
		w := httptest.NewRecorder()
		env.auth.UpdateProfile(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://cdn.example.com/a.png", decodeJSON[api.UserResponse](t, w).ProfilePic)
	})

	t.Run("missing picture", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/auth/update-profile", jsonBody(t, api.UpdateProfileRequest{}))
		req = env.withUser(t, req, signed.ID)
		w := httptest.NewRecorder()
		env.auth.UpdateProfile(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/auth/update-profile", jsonBody(t, api.UpdateProfileRequest{ProfilePic: "data:text/plain;base64,aGVsbG8="}))
		req = env.withUser(t, req, signed.ID)
		w := httptest.NewRecorder()
		env.auth.UpdateProfile(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// fakeConn - соединение presence для проверки рассылки из handlers
type fakeConn struct {
	id     string
	userID string
	events []string
	mu     sync.Mutex
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }
func (c *fakeConn) Send(eventType string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
	return nil
}

func (c *fakeConn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

var _ presence.Conn = (*fakeConn)(nil)

