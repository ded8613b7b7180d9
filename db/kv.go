/*
Copyright 2025 the fedibox authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fedibox/fedibox/data"
	"github.com/fedibox/fedibox/domain"
)

// KV is the JSON document store keyed by canonical activity URL.
// Values are canonicalized before write so replayed deliveries of
// the same activity are byte-identical and last-writer-wins is
// harmless.
type KV struct {
	DB *sql.DB
}

// Get returns the raw JSON stored under key. Lookup goes through the
// hash column: the key itself is too wide to index.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := kv.DB.QueryRowContext(
		ctx,
		`SELECT value FROM key_value WHERE key_hash = UNHEX(SHA2(?, 256))`,
		key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.ErrNotFound, "no value for %s", key)
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	return value, nil
}

// Set upserts raw JSON under key, canonicalized.
func (kv *KV) Set(ctx context.Context, key string, value []byte) error {
	canonical, err := data.Canonicalize(value)
	if err != nil {
		return fmt.Errorf("failed to canonicalize value for %s: %w", key, err)
	}

	if _, err := kv.DB.ExecContext(
		ctx,
		"INSERT INTO key_value (`key`, value) VALUES (?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)",
		key,
		canonical,
	); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// SetValue marshals v and stores it under key.
func (kv *KV) SetValue(ctx context.Context, key string, v any) error {
	canonical, err := data.CanonicalizeValue(v)
	if err != nil {
		return fmt.Errorf("failed to canonicalize value for %s: %w", key, err)
	}

	if _, err := kv.DB.ExecContext(
		ctx,
		"INSERT INTO key_value (`key`, value) VALUES (?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)",
		key,
		canonical,
	); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Delete removes key; absent keys are a no-op.
func (kv *KV) Delete(ctx context.Context, key string) error {
	if _, err := kv.DB.ExecContext(
		ctx,
		`DELETE FROM key_value WHERE key_hash = UNHEX(SHA2(?, 256))`,
		key,
	); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
