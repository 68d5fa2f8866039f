package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/storage"
)

func TestUserStorage_CreateUser(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	existing := newTestUser("taken@example.com", "Taken")
	require.NoError(t, s.CreateUser(ctx, existing))

	tests := []struct {
		wantError error
		user      *models.User
		name      string
	}{
		{
			name:      "create new user successfully",
			user:      newTestUser("alice@example.com", "Alice"),
			wantError: nil,
		},
		{
			name:      "duplicate email",
			user:      newTestUser("taken@example.com", "Other"),
			wantError: storage.ErrUserAlreadyExists,
		},
		{
			name:      "duplicate email differs only in case",
			user:      newTestUser("TAKEN@example.com", "Other"),
			wantError: storage.ErrUserAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateUser(ctx, tt.user)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)

			// Проверяем, что пользователь сохранен
			got, err := s.GetUserByID(ctx, tt.user.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.user.Email, got.Email)
			assert.Equal(t, tt.user.FullName, got.FullName)
			assert.Equal(t, tt.user.PasswordHash, got.PasswordHash)
			assert.WithinDuration(t, tt.user.CreatedAt, got.CreatedAt, time.Second)
		})
	}
}

func TestUserStorage_GetUserByEmail(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	user := newTestUser("bob@example.com", "Bob")
	require.NoError(t, s.CreateUser(ctx, user))

	got, err := s.GetUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	got, err = s.GetUserByEmail(ctx, "BOB@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.GetUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserStorage_ListUsersExcept(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	me := createTestUser(t, ctx, s, "Me")
	createTestUser(t, ctx, s, "charlie")
	createTestUser(t, ctx, s, "Alice")

	users, err := s.ListUsersExcept(ctx, me)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].FullName)
	assert.Equal(t, "charlie", users[1].FullName)
}

func TestUserStorage_ListChatPartners(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	me := createTestUser(t, ctx, s, "Me")
	alice := createTestUser(t, ctx, s, "Alice")
	bob := createTestUser(t, ctx, s, "Bob")
	createTestUser(t, ctx, s, "Stranger")

	createTestMessage(t, ctx, s, me, alice, "hi alice")
	createTestMessage(t, ctx, s, bob, me, "hi from bob")

	partners, err := s.ListChatPartners(ctx, me)
	require.NoError(t, err)
	require.Len(t, partners, 2)
	// Самая свежая переписка первой
	assert.Equal(t, bob, partners[0].ID)
	assert.Equal(t, alice, partners[1].ID)

	createTestMessage(t, ctx, s, alice, me, "back again")
	partners, err = s.ListChatPartners(ctx, me)
	require.NoError(t, err)
	assert.Equal(t, alice, partners[0].ID)

	partners, err = s.ListChatPartners(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, partners)
}

func TestUserStorage_UpdateProfilePic(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	id := createTestUser(t, ctx, s, "Alice")

	user, err := s.UpdateProfilePic(ctx, id, "https://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", user.ProfilePic)

	_, err = s.UpdateProfilePic(ctx, uuid.NewString(), "x")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func setupTestStorage(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	// Используем in-memory database для тестов
	s, err := New(ctx, ":memory:")
	require.NoError(t, err)

	cleanup := func() {
		_ = s.Close()
	}

	return s, cleanup
}

func newTestUser(email, fullName string) *models.User {
	return &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
}

func createTestUser(t *testing.T, ctx context.Context, s *Storage, fullName string) string {
	t.Helper()
	user := newTestUser(uuid.NewString()[:8]+"@example.com", fullName)
	require.NoError(t, s.CreateUser(ctx, user))
	return user.ID
}

func createTestMessage(t *testing.T, ctx context.Context, s *Storage, from, to, text string) *models.Message {
	t.Helper()
	msg := &models.Message{
		ID:         uuid.NewString(),
		SenderID:   from,
		ReceiverID: to,
		Text:       text,
	}
	require.NoError(t, s.CreateMessage(ctx, msg))
	return msg
}
