// Package storage persists JSON values under (namespace, key) pairs
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// KV is a durable key/value store backed by the kv_store table
type KV struct {
	db *sql.DB
}

func NewKV(db *sql.DB) *KV {
	return &KV{db: db}
}

// Get decodes the value stored under namespace/key into dest.
// It reports false, leaving dest untouched, when nothing is stored.
func (s *KV) Get(ctx context.Context, namespace, key string, dest any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage get %s/%s: %w", namespace, key, err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("storage decode %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// Set stores value as JSON under namespace/key, replacing any previous value
func (s *KV) Set(ctx context.Context, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage encode %s/%s: %w", namespace, key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv_store (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage set %s/%s: %w", namespace, key, err)
	}
	return nil
}
