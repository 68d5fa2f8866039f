// Package redis хранит отозванные токены в Redis, чтобы отзыв был виден
// всем экземплярам сервера и переживал перезапуск.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iudanet/gophchat/internal/server/token"
)

const keyPrefix = "gophchat:revoked:"

// Config - параметры подключения к Redis
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient создает клиента и проверяет соединение
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// Denylist реализует token.Denylist поверх Redis: ключ живет ровно
// до истечения отозванного токена.
type Denylist struct {
	client goredis.Cmdable
	now    func() time.Time
}

// NewDenylist создает denylist поверх клиента
func NewDenylist(client goredis.Cmdable) *Denylist {
	return &Denylist{client: client, now: time.Now}
}

// Revoke помечает jti отозванным до until. SET NX: повторный отзыв
// живого ключа дает token.ErrAlreadyRevoked.
func (d *Denylist) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	ok, err := d.client.SetNX(ctx, keyPrefix+jti, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return token.ErrAlreadyRevoked
	}
	return nil
}

// IsRevoked сообщает, отозван ли jti
func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}
