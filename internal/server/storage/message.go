package storage

import (
	"context"

	"github.com/iudanet/gophchat/internal/models"
)

// HistoryQuery описывает страницу переписки
type HistoryQuery struct {
	Before string // id сообщения, старше которого выбирать; пусто - последние
	Limit  int
}

// MessageStorage defines interface for message persistence
type MessageStorage interface {
	// CreateMessage persists a message and assigns its persistence order
	CreateMessage(ctx context.Context, msg *models.Message) error

	// GetMessage retrieves message with its reactions
	// Returns ErrMessageNotFound if message doesn't exist
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)

	// ListConversation returns messages between two users in persistence order
	// (oldest first). Returns ErrMessageNotFound if q.Before is unknown.
	ListConversation(ctx context.Context, userA, userB string, q HistoryQuery) ([]*models.Message, error)

	// DeleteMessage deletes message and its reactions
	// Returns ErrMessageNotFound if message doesn't exist
	DeleteMessage(ctx context.Context, messageID string) error

	// AddReaction adds reaction; adding the same reaction twice is a no-op
	AddReaction(ctx context.Context, messageID string, reaction models.Reaction) error

	// RemoveReaction removes reaction
	// Returns ErrReactionNotFound if reaction doesn't exist
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
}
