package storage

import (
	"context"
	"time"
)

// RevocationStorage defines interface for revoked token persistence.
// Satisfies token.Denylist.
type RevocationStorage interface {
	// Revoke stores token id until its natural expiry.
	// Fails with token.ErrAlreadyRevoked if the id is already revoked.
	Revoke(ctx context.Context, jti string, until time.Time) error

	// IsRevoked reports whether token id is revoked and not yet expired
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// DeleteExpiredRevocations removes entries whose tokens have expired
	// Returns number of deleted entries
	DeleteExpiredRevocations(ctx context.Context) (int, error)
}
