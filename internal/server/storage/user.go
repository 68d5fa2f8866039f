package storage

import (
	"context"

	"github.com/iudanet/gophchat/internal/models"
)

// UserStorage defines interface for user data persistence
type UserStorage interface {
	// CreateUser creates a new user in the storage
	// Returns ErrUserAlreadyExists if email already exists
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByEmail retrieves user by email
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetUserByID retrieves user by ID
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByID(ctx context.Context, userID string) (*models.User, error)

	// ListUsersExcept returns every user except the given one, ordered by full name
	ListUsersExcept(ctx context.Context, userID string) ([]*models.User, error)

	// ListChatPartners returns users that share at least one message with userID,
	// most recent conversation first
	ListChatPartners(ctx context.Context, userID string) ([]*models.User, error)

	// UpdateProfilePic sets the avatar URL
	// Returns ErrUserNotFound if user doesn't exist
	UpdateProfilePic(ctx context.Context, userID, url string) (*models.User, error)
}
