package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	messageColumns = `seq, id, sender_id, receiver_id, text, image, client_id, created_at`
)

// CreateMessage persists a message. msg.Seq is filled with the persistence order.
func (s *Storage) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, sender_id, receiver_id, text, image, client_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Text,
		msg.Image,
		msg.ClientID,
		msg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrMessageAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return storage.ErrUserNotFound
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get message seq: %w", err)
	}
	msg.Seq = seq
	if msg.Reactions == nil {
		msg.Reactions = []models.Reaction{}
	}

	return nil
}

// GetMessage retrieves message with its reactions
func (s *Storage) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	if err := s.loadReactions(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}

	return msg, nil
}

// ListConversation returns up to q.Limit messages between userA and userB,
// oldest first. With q.Before set, only messages persisted before it are returned;
// the cursor must belong to the same conversation.
// Limit is capped at maxHistoryLimit+1 so callers can over-fetch one row to detect
// older pages.
func (s *Storage) ListConversation(ctx context.Context, userA, userB string, q storage.HistoryQuery) ([]*models.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit+1 {
		limit = maxHistoryLimit + 1
	}

	beforeSeq := int64(-1)
	if q.Before != "" {
		err := s.db.QueryRowContext(ctx, `
			SELECT seq FROM messages
			WHERE id = ?
			  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		`, q.Before, userA, userB, userB, userA).Scan(&beforeSeq)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, storage.ErrMessageNotFound
			}
			return nil, fmt.Errorf("failed to resolve cursor: %w", err)
		}
	}

	// Берем последние limit сообщений, затем разворачиваем в порядок сохранения
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND (? < 0 OR seq < ?)
		ORDER BY seq DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userA, userB, userB, userA, beforeSeq, beforeSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	messages := make([]*models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := s.loadReactions(ctx, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// DeleteMessage deletes message; reactions are removed by cascade
func (s *Storage) DeleteMessage(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrMessageNotFound
	}

	return nil
}

// AddReaction adds reaction to message; duplicates are ignored
func (s *Storage) AddReaction(ctx context.Context, messageID string, reaction models.Reaction) error {
	query := `
		INSERT OR IGNORE INTO reactions (message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?)
	`

	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query, messageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return storage.ErrMessageNotFound
		}
		return fmt.Errorf("failed to add reaction: %w", err)
	}

	return nil
}

// RemoveReaction removes reaction from message
func (s *Storage) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	query := `DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`

	result, err := s.db.ExecContext(ctx, query, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrReactionNotFound
	}

	return nil
}

// loadReactions заполняет Reactions у переданных сообщений одним запросом
func (s *Storage) loadReactions(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[string]*models.Message, len(messages))
	placeholders := make([]string, 0, len(messages))
	args := make([]any, 0, len(messages))
	for _, msg := range messages {
		msg.Reactions = []models.Reaction{}
		byID[msg.ID] = msg
		placeholders = append(placeholders, "?")
		args = append(args, msg.ID)
	}

	query := `
		SELECT message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY created_at, user_id, emoji
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query reactions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var messageID string
		var r models.Reaction
		if err := rows.Scan(&messageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan reaction: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.Reactions = append(msg.Reactions, r)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	return nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.Seq,
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Text,
		&msg.Image,
		&msg.ClientID,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}
