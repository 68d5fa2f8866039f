package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophchat/internal/client/storage"
)

// SaveCookies заменяет набор cookies host
func (s *Storage) SaveCookies(_ context.Context, host string, cookies []storage.Cookie) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCookies)
		if bucket == nil {
			return fmt.Errorf("cookies bucket not found")
		}

		if len(cookies) == 0 {
			return bucket.Delete([]byte(host))
		}

		data, err := json.Marshal(cookies)
		if err != nil {
			return fmt.Errorf("failed to marshal cookies: %w", err)
		}
		if err := bucket.Put([]byte(host), data); err != nil {
			return fmt.Errorf("failed to save cookies: %w", err)
		}
		return nil
	})
}

// LoadCookies возвращает cookies host
func (s *Storage) LoadCookies(_ context.Context, host string) ([]storage.Cookie, error) {
	var cookies []storage.Cookie

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCookies)
		if bucket == nil {
			return fmt.Errorf("cookies bucket not found")
		}

		data := bucket.Get([]byte(host))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &cookies); err != nil {
			return fmt.Errorf("failed to unmarshal cookies: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cookies, nil
}

// DeleteCookies удаляет cookies host
func (s *Storage) DeleteCookies(ctx context.Context, host string) error {
	return s.SaveCookies(ctx, host, nil)
}
