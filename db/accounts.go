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

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/fedibox/fedibox/bus"
	"github.com/fedibox/fedibox/domain"
)

const accountColumns = `id, COALESCE(uuid, ''), username, COALESCE(name, ''), COALESCE(bio, ''), COALESCE(avatar_url, ''), COALESCE(banner_image_url, ''), COALESCE(url, ''), ap_id, COALESCE(ap_inbox_url, ''), COALESCE(ap_shared_inbox_url, ''), COALESCE(ap_outbox_url, ''), COALESCE(ap_followers_url, ''), COALESCE(ap_following_url, ''), COALESCE(ap_liked_url, ''), COALESCE(ap_public_key, ''), COALESCE(ap_private_key, '')`

// Accounts loads and saves Account aggregates. Save applies the
// aggregate's pending events transactionally and publishes them to
// the bus after commit.
type Accounts struct {
	DB  *sql.DB
	Bus *bus.Bus
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(
		&a.ID, &a.UUID, &a.Username, &a.Name, &a.Bio, &a.AvatarURL, &a.BannerImageURL, &a.URL,
		&a.APID, &a.APInbox, &a.APSharedInbox, &a.APOutbox, &a.APFollowers, &a.APFollowing, &a.APLiked,
		&a.APPublicKey, &a.APPrivateKey,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// backfillUUID assigns a UUID to a row that predates UUID assignment.
// Every reader goes through it so a pre-migration account gets one on
// first load, whichever query finds it.
func (r *Accounts) backfillUUID(ctx context.Context, account *domain.Account) error {
	if account.UUID != "" {
		return nil
	}

	account.UUID = uuid.NewString()
	if _, err := r.DB.ExecContext(
		ctx,
		`UPDATE accounts SET uuid = ? WHERE id = ? AND uuid IS NULL`,
		account.UUID,
		account.ID,
	); err != nil {
		return fmt.Errorf("failed to backfill uuid for account %d: %w", account.ID, err)
	}
	return nil
}

// ByID returns the account with the given row id.
func (r *Accounts) ByID(ctx context.Context, id int64) (*domain.Account, error) {
	account, err := scanAccount(r.DB.QueryRowContext(
		ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.ErrNotFound, "no account %d", id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch account %d: %w", id, err)
	}
	if err := r.backfillUUID(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// ByAPID returns the account with the given canonical URL. Matching
// is case-insensitive through the generated hash column.
func (r *Accounts) ByAPID(ctx context.Context, apID string) (*domain.Account, error) {
	account, err := scanAccount(r.DB.QueryRowContext(
		ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE ap_id_hash = UNHEX(SHA2(LOWER(?), 256))`,
		apID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.ErrNotFound, "no account %s", apID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", apID, err)
	}
	if err := r.backfillUUID(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// BySite returns the site's internal account.
func (r *Accounts) BySite(ctx context.Context, siteID int64) (*domain.Account, error) {
	account, err := scanAccount(r.DB.QueryRowContext(
		ctx,
		`SELECT `+accountColumns+` FROM accounts JOIN users ON users.account_id = accounts.id WHERE users.site_id = ?`,
		siteID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.ErrNotFound, "no account for site %d", siteID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch account for site %d: %w", siteID, err)
	}
	if err := r.backfillUUID(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// UserIDFor returns the users row id owning an internal account, or
// 0 when the account is external.
func (r *Accounts) UserIDFor(ctx context.Context, accountID int64) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT id FROM users WHERE account_id = ?`,
		accountID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to fetch user for account %d: %w", accountID, err)
	}
	return id, nil
}

// CreateExternal inserts an account discovered through federation,
// or returns the existing row when the apId (case-insensitively)
// already exists.
func (r *Accounts) CreateExternal(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	if existing, err := r.ByAPID(ctx, a.APID); err == nil {
		return existing, nil
	} else if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, err
	}

	_, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO accounts (uuid, username, name, bio, avatar_url, banner_image_url, url, ap_id, ap_inbox_url, ap_shared_inbox_url, ap_outbox_url, ap_followers_url, ap_following_url, ap_liked_url, ap_public_key, domain) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		a.Username,
		a.Name,
		a.Bio,
		a.AvatarURL,
		a.BannerImageURL,
		a.URL,
		a.APID,
		a.APInbox,
		a.APSharedInbox,
		a.APOutbox,
		a.APFollowers,
		a.APFollowing,
		a.APLiked,
		a.APPublicKey,
		a.Domain(),
	)
	if err != nil {
		if isDuplicate(err) {
			// Lost a race with a concurrent insert of the same actor.
			return r.ByAPID(ctx, a.APID)
		}
		return nil, fmt.Errorf("failed to insert account %s: %w", a.APID, err)
	}

	return r.ByAPID(ctx, a.APID)
}

// UpdateProfile overwrites the mutable profile fields, used when a
// remote actor sends Update(Person).
func (r *Accounts) UpdateProfile(ctx context.Context, a *domain.Account) error {
	if _, err := r.DB.ExecContext(
		ctx,
		`UPDATE accounts SET name = ?, bio = ?, avatar_url = ?, banner_image_url = ?, url = ?, ap_public_key = ? WHERE id = ?`,
		a.Name,
		a.Bio,
		a.AvatarURL,
		a.BannerImageURL,
		a.URL,
		a.APPublicKey,
		a.ID,
	); err != nil {
		return fmt.Errorf("failed to update account %d: %w", a.ID, err)
	}
	return nil
}

// Save updates the profile row and applies the aggregate's pending
// events. Everything runs in one transaction; the events go to the
// bus only after commit. On error the events stay on the aggregate.
func (r *Accounts) Save(ctx context.Context, a *domain.Account) error {
	events := a.PullEvents()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		a.Restore(events)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE accounts SET username = ?, name = ?, bio = ?, avatar_url = ?, banner_image_url = ? WHERE id = ?`,
		a.Username,
		a.Name,
		a.Bio,
		a.AvatarURL,
		a.BannerImageURL,
		a.ID,
	)
	if err != nil {
		a.Restore(events)
		return fmt.Errorf("failed to update account %d: %w", a.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		a.Restore(events)
		return fmt.Errorf("failed to check update of account %d: %w", a.ID, err)
	} else if n == 0 {
		a.Restore(events)
		return domain.E(domain.ErrNotFound, "no account %d", a.ID)
	}

	for _, event := range events {
		if err := applyAccountEvent(ctx, tx, event); err != nil {
			a.Restore(events)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		a.Restore(events)
		return fmt.Errorf("failed to commit account %d: %w", a.ID, err)
	}

	if r.Bus != nil {
		r.Bus.Publish(ctx, events...)
	}
	return nil
}

func applyAccountEvent(ctx context.Context, tx *sql.Tx, event domain.Event) error {
	switch e := event.(type) {
	case domain.AccountFollowed:
		if _, err := tx.ExecContext(
			ctx,
			`INSERT IGNORE INTO follows (follower_id, following_id) VALUES (?, ?)`,
			e.FollowerID,
			e.FollowingID,
		); err != nil {
			return fmt.Errorf("failed to insert follow %d->%d: %w", e.FollowerID, e.FollowingID, err)
		}

	case domain.AccountUnfollowed:
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM follows WHERE follower_id = ? AND following_id = ?`,
			e.FollowerID,
			e.FollowingID,
		); err != nil {
			return fmt.Errorf("failed to delete follow %d->%d: %w", e.FollowerID, e.FollowingID, err)
		}

	case domain.AccountBlocked:
		if _, err := tx.ExecContext(
			ctx,
			`INSERT IGNORE INTO blocks (blocker_id, blocked_id) VALUES (?, ?)`,
			e.BlockerID,
			e.BlockedID,
		); err != nil {
			return fmt.Errorf("failed to insert block %d->%d: %w", e.BlockerID, e.BlockedID, err)
		}
		// A block severs follows in both directions.
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM follows WHERE (follower_id = ? AND following_id = ?) OR (follower_id = ? AND following_id = ?)`,
			e.BlockerID,
			e.BlockedID,
			e.BlockedID,
			e.BlockerID,
		); err != nil {
			return fmt.Errorf("failed to sever follows %d<->%d: %w", e.BlockerID, e.BlockedID, err)
		}

	case domain.AccountUnblocked:
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?`,
			e.BlockerID,
			e.BlockedID,
		); err != nil {
			return fmt.Errorf("failed to delete block %d->%d: %w", e.BlockerID, e.BlockedID, err)
		}

	case domain.DomainBlocked:
		if _, err := tx.ExecContext(
			ctx,
			`INSERT IGNORE INTO domain_blocks (blocker_id, domain) VALUES (?, ?)`,
			e.BlockerID,
			e.Domain,
		); err != nil {
			return fmt.Errorf("failed to insert domain block %d->%s: %w", e.BlockerID, e.Domain, err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`DELETE follows FROM follows JOIN accounts ON accounts.id = follows.following_id WHERE follows.follower_id = ? AND accounts.domain_hash = UNHEX(SHA2(LOWER(?), 256))`,
			e.BlockerID,
			e.Domain,
		); err != nil {
			return fmt.Errorf("failed to sever follows to %s: %w", e.Domain, err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`DELETE follows FROM follows JOIN accounts ON accounts.id = follows.follower_id WHERE follows.following_id = ? AND accounts.domain_hash = UNHEX(SHA2(LOWER(?), 256))`,
			e.BlockerID,
			e.Domain,
		); err != nil {
			return fmt.Errorf("failed to sever follows from %s: %w", e.Domain, err)
		}

	case domain.DomainUnblocked:
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM domain_blocks WHERE blocker_id = ? AND domain_hash = UNHEX(SHA2(LOWER(?), 256))`,
			e.BlockerID,
			e.Domain,
		); err != nil {
			return fmt.Errorf("failed to delete domain block %d->%s: %w", e.BlockerID, e.Domain, err)
		}

	default:
		return fmt.Errorf("unknown account event %s", event.EventName())
	}

	return nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
