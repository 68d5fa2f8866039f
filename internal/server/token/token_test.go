package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophchat/internal/apperr"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc := NewService(Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
	}, opts...)
	return svc, clock
}

func TestService_IssueAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	pair, err := svc.IssuePair("user-1")
	require.NoError(t, err)
	assert.NotEqual(t, pair.Access.ID, pair.Refresh.ID)
	assert.Equal(t, DefaultAccessTTL, pair.Access.TTL)
	assert.Equal(t, DefaultRefreshTTL, pair.Refresh.TTL)

	claims, err := svc.Verify(ctx, pair.Access.Value, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, KindAccess, claims.Kind)
	assert.Equal(t, pair.Access.ID, claims.ID)

	claims, err = svc.Verify(ctx, pair.Refresh.Value, KindRefresh)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
}

func TestService_Verify_Expiry(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)

	tok, err := svc.IssueAccessToken("user-1")
	require.NoError(t, err)

	clock.Advance(DefaultAccessTTL - time.Second)
	_, err = svc.Verify(ctx, tok.Value, KindAccess)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	_, err = svc.Verify(ctx, tok.Value, KindAccess)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, apperr.Expired, apperr.KindOf(err))
}

func TestService_Verify_SecretIsolation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	pair, err := svc.IssuePair("user-1")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, pair.Refresh.Value, KindAccess)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Verify(ctx, pair.Access.Value, KindRefresh)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestService_Verify_KindClaimChecked(t *testing.T) {
	ctx := context.Background()
	// Одинаковые секреты: изоляцию обеспечивает только claim kind
	svc := NewService(Config{AccessSecret: "same", RefreshSecret: "same"})

	refresh, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, refresh.Value, KindAccess)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestService_Verify_Rejects(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)

	valid, err := svc.IssueAccessToken("user-1")
	require.NoError(t, err)

	other := NewService(Config{AccessSecret: "other-secret", RefreshSecret: "x"}, WithClock(clock.Now))
	foreign, err := other.IssueAccessToken("user-1")
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(valid.Value, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "garbage", raw: "not-a-jwt"},
		{name: "signed with another secret", raw: foreign.Value},
		{name: "alg none", raw: noneToken},
		{name: "tampered payload", raw: tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.Verify(ctx, tt.raw, KindAccess)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Nil(t, claims)
		})
	}
}

func TestService_MissingSecret(t *testing.T) {
	svc := NewService(Config{RefreshSecret: "refresh"})

	_, err := svc.IssueAccessToken("user-1")
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, apperr.Config, apperr.KindOf(err))

	_, err = svc.IssuePair("user-1")
	assert.ErrorIs(t, err, ErrConfig)

	_, err = svc.Verify(context.Background(), "anything", KindAccess)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestService_IssueRequiresUserID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.IssueAccessToken("  ")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestService_Revoke(t *testing.T) {
	ctx := context.Background()
	denylist := NewMemoryDenylist()
	svc, clock := newTestService(t, WithDenylist(denylist))
	denylist.now = clock.Now

	pair, err := svc.IssuePair("user-1")
	require.NoError(t, err)

	claims, err := svc.Verify(ctx, pair.Refresh.Value, KindRefresh)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims))
	assert.ErrorIs(t, svc.Revoke(ctx, claims), ErrAlreadyRevoked)

	_, err = svc.Verify(ctx, pair.Refresh.Value, KindRefresh)
	assert.ErrorIs(t, err, ErrInvalid)

	// access token той же пары не затронут
	_, err = svc.Verify(ctx, pair.Access.Value, KindAccess)
	assert.NoError(t, err)
}

func TestService_RevokeWithoutDenylist(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	tok, err := svc.IssueAccessToken("user-1")
	require.NoError(t, err)
	claims, err := svc.Verify(ctx, tok.Value, KindAccess)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims))
	_, err = svc.Verify(ctx, tok.Value, KindAccess)
	assert.NoError(t, err)
}
