package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophchat/internal/client/storage"
)

var profileKey = []byte("current")

// SaveProfile stores the logged in user's profile
func (s *Storage) SaveProfile(_ context.Context, profile *storage.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is nil")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketProfile)
		if bucket == nil {
			return fmt.Errorf("profile bucket not found")
		}

		data, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("failed to marshal profile: %w", err)
		}

		if err := bucket.Put(profileKey, data); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		return nil
	})
}

// GetProfile retrieves the stored profile
func (s *Storage) GetProfile(_ context.Context) (*storage.Profile, error) {
	var profile *storage.Profile

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketProfile)
		if bucket == nil {
			return fmt.Errorf("profile bucket not found")
		}

		data := bucket.Get(profileKey)
		if data == nil {
			return storage.ErrProfileNotFound
		}

		profile = &storage.Profile{}
		if err := json.Unmarshal(data, profile); err != nil {
			return fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// DeleteProfile removes the stored profile (logout)
func (s *Storage) DeleteProfile(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketProfile)
		if bucket == nil {
			return fmt.Errorf("profile bucket not found")
		}
		return bucket.Delete(profileKey)
	})
}
