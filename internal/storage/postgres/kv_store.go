package postgres

import (
	"context"
	"fmt"

	"sol-beast/internal/storage"
)

// KVStore is a PostgreSQL implementation of storage.KV.
// Backed by a single kv_store table keyed by text.
type KVStore struct {
	pool *Pool
}

// NewKVStore creates a new PostgreSQL KV store.
func NewKVStore(pool *Pool) *KVStore {
	return &KVStore{pool: pool}
}

// Compile-time interface check.
var _ storage.KV = (*KVStore)(nil)

// Get returns the stored value.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", false, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT value
		FROM kv_store
		WHERE key = $1
	`, key)

	var value string
	if err := row.Scan(&value); err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("select kv %s: %w", key, err)
	}

	return value, true, nil
}

// Set upserts a value.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("upsert kv %s: %w", key, err)
	}
	return nil
}

// Remove deletes a key.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete kv %s: %w", key, err)
	}
	return nil
}
