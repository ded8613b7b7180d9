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
	"time"
)

// BackoffSchedule maps the failure count to the wait before the next
// delivery attempt to the same inbox. Counts past the end stay at
// the cap.
var BackoffSchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// BackoffFor returns the wait after the given number of consecutive
// failures (1-based).
func BackoffFor(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > len(BackoffSchedule) {
		failures = len(BackoffSchedule)
	}
	return BackoffSchedule[failures-1]
}

// Backoff is one inbox's failure record.
type Backoff struct {
	InboxURL     string
	Failures     int
	BackoffUntil time.Time
}

// Backoffs tracks per-inbox delivery failures for admission control:
// a failing inbox is skipped at enqueue time until its backoff
// expires.
type Backoffs struct {
	DB *sql.DB
}

// Active returns the inbox's backoff record iff it is still in
// effect, nil otherwise.
func (b *Backoffs) Active(ctx context.Context, inbox string) (*Backoff, error) {
	var record Backoff
	err := b.DB.QueryRowContext(
		ctx,
		`SELECT inbox_url, failures, backoff_until FROM delivery_backoffs WHERE inbox_url_hash = UNHEX(SHA2(LOWER(?), 256)) AND backoff_until > NOW()`,
		inbox,
	).Scan(&record.InboxURL, &record.Failures, &record.BackoffUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch backoff for %s: %w", inbox, err)
	}
	return &record, nil
}

// IsActive reports whether the inbox is under active backoff.
func (b *Backoffs) IsActive(ctx context.Context, inbox string) (bool, error) {
	record, err := b.Active(ctx, inbox)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// RecordFailure bumps the inbox's failure count and pushes its
// backoff window out along the schedule.
func (b *Backoffs) RecordFailure(ctx context.Context, inbox string) error {
	var failures int
	err := b.DB.QueryRowContext(
		ctx,
		`SELECT failures FROM delivery_backoffs WHERE inbox_url_hash = UNHEX(SHA2(LOWER(?), 256))`,
		inbox,
	).Scan(&failures)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to fetch failures for %s: %w", inbox, err)
	}

	failures++
	until := time.Now().Add(BackoffFor(failures)).UTC()

	if _, err := b.DB.ExecContext(
		ctx,
		`INSERT INTO delivery_backoffs (inbox_url, failures, backoff_until) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE failures = VALUES(failures), backoff_until = VALUES(backoff_until)`,
		inbox,
		failures,
		until,
	); err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", inbox, err)
	}
	return nil
}

// Clear removes the inbox's failure record after a successful
// delivery. Absent records are a no-op.
func (b *Backoffs) Clear(ctx context.Context, inbox string) error {
	if _, err := b.DB.ExecContext(
		ctx,
		`DELETE FROM delivery_backoffs WHERE inbox_url_hash = UNHEX(SHA2(LOWER(?), 256))`,
		inbox,
	); err != nil {
		return fmt.Errorf("failed to clear backoff for %s: %w", inbox, err)
	}
	return nil
}
