package token

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRevoked - jti уже в списке и отзыв еще действует
var ErrAlreadyRevoked = errors.New("token already revoked")

// Denylist хранит идентификаторы (jti) отозванных токенов до их истечения.
// Revoke атомарен: из двух конкурентных отзывов одного jti успешен ровно один,
// второй получает ErrAlreadyRevoked.
type Denylist interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryDenylist - Denylist в памяти процесса
type MemoryDenylist struct {
	entries map[string]time.Time
	now     func() time.Time
	mu      sync.Mutex
}

// NewMemoryDenylist создает пустой denylist в памяти
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke добавляет jti до момента until
func (d *MemoryDenylist) Revoke(_ context.Context, jti string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gc()
	if _, ok := d.entries[jti]; ok {
		return ErrAlreadyRevoked
	}
	d.entries[jti] = until
	return nil
}

// IsRevoked сообщает, отозван ли jti
func (d *MemoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	until, ok := d.entries[jti]
	if !ok {
		return false, nil
	}
	if !d.now().Before(until) {
		delete(d.entries, jti)
		return false, nil
	}
	return true, nil
}

// gc удаляет истекшие записи, вызывается под mu
func (d *MemoryDenylist) gc() {
	now := d.now()
	for jti, until := range d.entries {
		if !now.Before(until) {
			delete(d.entries, jti)
		}
	}
}
