// Package bolt persists relation-type overrides in a local bbolt file.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketOverrides = []byte("relation_type_overrides")

type overrideRecord struct {
	Canonical string    `json:"canonical"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OverrideStore implements store.OverrideStore on a bbolt database.
type OverrideStore struct {
	db *bbolt.DB
}

func NewOverrideStore(path string) (*OverrideStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open override db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOverrides)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &OverrideStore{db: db}, nil
}

func (s *OverrideStore) GetOverrides(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOverrides).ForEach(func(k, v []byte) error {
			var rec overrideRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt override %q: %w", k, err)
			}
			out[string(k)] = rec.Canonical
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *OverrideStore) SetOverride(ctx context.Context, label string, canonical string) error {
	if label == "" || canonical == "" {
		return fmt.Errorf("override label and canonical must not be empty")
	}
	data, err := json.Marshal(overrideRecord{Canonical: canonical, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOverrides).Put([]byte(label), data)
	})
}

func (s *OverrideStore) DeleteOverride(ctx context.Context, label string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOverrides).Delete([]byte(label))
	})
}

func (s *OverrideStore) Close() error {
	return s.db.Close()
}
