package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/storage"
	"github.com/iudanet/gophchat/internal/server/token"
	"github.com/iudanet/gophchat/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError,
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockUsers struct {
	users map[string]*models.User
	err   error
}

func (m *mockUsers) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return u, nil
}

type authEnv struct {
	clock  *fakeClock
	tokens *token.Service
	users  *mockUsers
	authn  *Authenticator
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	// denylist живет по реальным часам, поэтому тестовые часы стартуют с time.Now
	clock := &fakeClock{now: time.Now().Truncate(time.Second)}
	tokens := token.NewService(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, token.WithClock(clock.Now), token.WithDenylist(token.NewMemoryDenylist()))
	users := &mockUsers{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "ann@example.com", FullName: "Ann", PasswordHash: "hash"},
	}}
	return &authEnv{
		clock:  clock,
		tokens: tokens,
		users:  users,
		authn:  NewAuthenticator(tokens, users, nil),
	}
}

// okHandler проверяет, что в контексте есть пользователь без хеша пароля
func okHandler(t *testing.T, expectedUserID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok, "user should be in context")
		assert.Equal(t, expectedUserID, user.ID)
		assert.Empty(t, user.PasswordHash)

		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok, "claims should be in context")
		assert.Equal(t, expectedUserID, claims.UserID())

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestRequireAccessToken_Success(t *testing.T) {
	env := newAuthEnv(t)
	access, err := env.tokens.IssueAccessToken("user-1")
	require.NoError(t, err)

	handler := RequireAccessToken(setupTestLogger(), env.authn)(okHandler(t, "user-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.Header.Set("Authorization", "Bearer "+access.Value)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestRequireAccessToken_Failures(t *testing.T) {
	env := newAuthEnv(t)
	access, err := env.tokens.IssueAccessToken("user-1")
	require.NoError(t, err)
	refresh, err := env.tokens.IssueRefreshToken("user-1")
	require.NoError(t, err)
	ghost, err := env.tokens.IssueAccessToken("ghost")
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{name: "missing header", header: "", wantCode: api.CodeUnauthenticated},
		{name: "wrong scheme", header: "Basic " + access.Value, wantCode: api.CodeUnauthenticated},
		{name: "garbage token", header: "Bearer not-a-jwt", wantCode: api.CodeUnauthenticated},
		{name: "refresh token as access", header: "Bearer " + refresh.Value, wantCode: api.CodeUnauthenticated},
		{name: "unknown user", header: "Bearer " + ghost.Value, wantCode: api.CodeUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAccessToken(setupTestLogger(), env.authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next handler must not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}

func TestRequireAccessToken_Expired(t *testing.T) {
	env := newAuthEnv(t)
	access, err := env.tokens.IssueAccessToken("user-1")
	require.NoError(t, err)

	env.clock.Advance(16 * time.Minute)

	handler := RequireAccessToken(setupTestLogger(), env.authn)(okHandler(t, "user-1"))
	req := httptest.NewRequest(http.MethodGet, "/api/messages/contacts", nil)
	req.Header.Set("Authorization", "Bearer "+access.Value)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, api.CodeExpired, decodeError(t, w).Code)
}

func TestRequireAccessToken_Revoked(t *testing.T) {
	env := newAuthEnv(t)
	access, err := env.tokens.IssueAccessToken("user-1")
	require.NoError(t, err)

	claims, err := env.tokens.Verify(context.Background(), access.Value, token.KindAccess)
	require.NoError(t, err)
	require.NoError(t, env.tokens.Revoke(context.Background(), claims))

	handler := RequireAccessToken(setupTestLogger(), env.authn)(okHandler(t, "user-1"))
	req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.Header.Set("Authorization", "Bearer "+access.Value)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, api.CodeUnauthenticated, decodeError(t, w).Code)
}

func TestRequireAccessToken_StorageError(t *testing.T) {
	env := newAuthEnv(t)
	access, err := env.tokens.IssueAccessToken("user-1")
	require.NoError(t, err)
	env.users.err = errors.New("db is down")

	handler := RequireAccessToken(setupTestLogger(), env.authn)(okHandler(t, "user-1"))
	req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.Header.Set("Authorization", "Bearer "+access.Value)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireRefreshToken(t *testing.T) {
	env := newAuthEnv(t)
	access, err := env.tokens.IssueAccessToken("user-1")
	require.NoError(t, err)
	refresh, err := env.tokens.IssueRefreshToken("user-1")
	require.NoError(t, err)

	t.Run("valid cookie", func(t *testing.T) {
		handler := RequireRefreshToken(setupTestLogger(), env.authn, RefreshCookieName)(okHandler(t, "user-1"))
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refresh.Value})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing cookie", func(t *testing.T) {
		handler := RequireRefreshToken(setupTestLogger(), env.authn, RefreshCookieName)(okHandler(t, "user-1"))
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, api.CodeUnauthenticated, decodeError(t, w).Code)
	})

	t.Run("access token in cookie", func(t *testing.T) {
		handler := RequireRefreshToken(setupTestLogger(), env.authn, RefreshCookieName)(okHandler(t, "user-1"))
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: access.Value})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired refresh", func(t *testing.T) {
		env := newAuthEnv(t)
		refresh, err := env.tokens.IssueRefreshToken("user-1")
		require.NoError(t, err)
		env.clock.Advance(8 * 24 * time.Hour)

		handler := RequireRefreshToken(setupTestLogger(), env.authn, RefreshCookieName)(okHandler(t, "user-1"))
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refresh.Value})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, api.CodeExpired, decodeError(t, w).Code)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "empty", header: "", want: ""},
		{name: "no token", header: "Bearer", want: ""},
		{name: "basic", header: "Basic abc", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, BearerToken(req))
		})
	}
}
