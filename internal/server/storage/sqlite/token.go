package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophchat/internal/server/token"
)

// Revoke stores revoked token id until its expiry.
// Returns token.ErrAlreadyRevoked when the id is already revoked and still in force;
// a stale row left for the purge is overwritten.
func (s *Storage) Revoke(ctx context.Context, jti string, until time.Time) error {
	query := `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES (?, ?)
		ON CONFLICT (jti) DO UPDATE SET expires_at = excluded.expires_at
		WHERE revoked_tokens.expires_at <= ?
	`

	result, err := s.db.ExecContext(ctx, query, jti, until.Unix(), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return token.ErrAlreadyRevoked
	}

	return nil
}

// IsRevoked reports whether token id is revoked and the revocation is still in force
func (s *Storage) IsRevoked(ctx context.Context, jti string) (bool, error) {
	query := `SELECT expires_at FROM revoked_tokens WHERE jti = ?`

	var expiresAt int64
	err := s.db.QueryRowContext(ctx, query, jti).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}

	return s.now().Unix() < expiresAt, nil
}

// DeleteExpiredRevocations removes entries of tokens that expired anyway
func (s *Storage) DeleteExpiredRevocations(ctx context.Context) (int, error) {
	query := `DELETE FROM revoked_tokens WHERE expires_at <= ?`

	result, err := s.db.ExecContext(ctx, query, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired revocations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}
