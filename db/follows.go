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
)

// Follows answers graph questions: edge membership, moderation
// checks, fan-out inbox lists and paginated collection rows.
type Follows struct {
	DB *sql.DB
}

// IsFollowing reports whether a follow edge exists.
func (f *Follows) IsFollowing(ctx context.Context, followerID, followingID int64) (bool, error) {
	var one int
	err := f.DB.QueryRowContext(
		ctx,
		`SELECT 1 FROM follows WHERE follower_id = ? AND following_id = ?`,
		followerID,
		followingID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to check follow %d->%d: %w", followerID, followingID, err)
	}
	return true, nil
}

// IsBlocked reports whether blocker blocks blocked, directly or
// through a domain block on blocked's domain.
func (f *Follows) IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error) {
	var one int
	err := f.DB.QueryRowContext(
		ctx,
		`SELECT 1 FROM blocks WHERE blocker_id = ? AND blocked_id = ?
		 UNION
		 SELECT 1 FROM domain_blocks JOIN accounts ON accounts.domain_hash = domain_blocks.domain_hash WHERE domain_blocks.blocker_id = ? AND accounts.id = ?
		 LIMIT 1`,
		blockerID,
		blockedID,
		blockerID,
		blockedID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to check block %d->%d: %w", blockerID, blockedID, err)
	}
	return true, nil
}

// FollowerCount returns the number of accounts following accountID.
func (f *Follows) FollowerCount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	if err := f.DB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM follows WHERE following_id = ?`,
		accountID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count followers of %d: %w", accountID, err)
	}
	return n, nil
}

// FollowingCount returns the number of accounts accountID follows.
func (f *Follows) FollowingCount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	if err := f.DB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM follows WHERE follower_id = ?`,
		accountID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count following of %d: %w", accountID, err)
	}
	return n, nil
}

// FollowerInboxes returns the distinct delivery inboxes of all
// followers of accountID. A follower advertising a shared inbox is
// collapsed into it, so one server receives each activity once.
func (f *Follows) FollowerInboxes(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := f.DB.QueryContext(
		ctx,
		`SELECT DISTINCT COALESCE(NULLIF(accounts.ap_shared_inbox_url, ''), accounts.ap_inbox_url) FROM follows JOIN accounts ON accounts.id = follows.follower_id WHERE follows.following_id = ? AND COALESCE(accounts.ap_inbox_url, '') != ''`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch follower inboxes of %d: %w", accountID, err)
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, fmt.Errorf("failed to scan inbox: %w", err)
		}
		inboxes = append(inboxes, inbox)
	}
	return inboxes, rows.Err()
}

// CollectionPage is one page of apIds plus the cursor of the next
// page, empty when this page is the last.
type CollectionPage struct {
	IDs  []string
	Next string
}

// Followers returns one page of follower apIds, newest first, ties
// broken by account id descending. The cursor is "<created_at
// unix>:<account id>" of the last row on the previous page.
func (f *Follows) Followers(ctx context.Context, accountID int64, cursor string, limit int) (*CollectionPage, error) {
	return f.edgePage(
		ctx,
		`SELECT accounts.ap_id, UNIX_TIMESTAMP(follows.created_at), accounts.id FROM follows JOIN accounts ON accounts.id = follows.follower_id WHERE follows.following_id = ?`,
		accountID,
		cursor,
		limit,
	)
}

// Following returns one page of followed apIds, newest first.
func (f *Follows) Following(ctx context.Context, accountID int64, cursor string, limit int) (*CollectionPage, error) {
	return f.edgePage(
		ctx,
		`SELECT accounts.ap_id, UNIX_TIMESTAMP(follows.created_at), accounts.id FROM follows JOIN accounts ON accounts.id = follows.following_id WHERE follows.follower_id = ?`,
		accountID,
		cursor,
		limit,
	)
}

func (f *Follows) edgePage(ctx context.Context, base string, accountID int64, cursor string, limit int) (*CollectionPage, error) {
	query := base
	args := []any{accountID}

	if cursor != "" {
		var ts, id int64
		if _, err := fmt.Sscanf(cursor, "%d:%d", &ts, &id); err != nil {
			return nil, fmt.Errorf("failed to parse cursor %q: %w", cursor, err)
		}
		query += ` AND (UNIX_TIMESTAMP(follows.created_at) < ? OR (UNIX_TIMESTAMP(follows.created_at) = ? AND accounts.id < ?))`
		args = append(args, ts, ts, id)
	}

	query += ` ORDER BY follows.created_at DESC, accounts.id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := f.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection page: %w", err)
	}
	defer rows.Close()

	var page CollectionPage
	var lastTS, lastID int64
	for rows.Next() {
		var apID string
		var ts, id int64
		if err := rows.Scan(&apID, &ts, &id); err != nil {
			return nil, fmt.Errorf("failed to scan collection row: %w", err)
		}
		if len(page.IDs) == limit {
			page.Next = fmt.Sprintf("%d:%d", lastTS, lastID)
			break
		}
		page.IDs = append(page.IDs, apID)
		lastTS, lastID = ts, id
	}
	return &page, rows.Err()
}

// Liked returns one page of apIds of posts the account liked, newest
// like first, ties broken by post id descending. The cursor is the
// post id of the last row on the previous page.
func (f *Follows) Liked(ctx context.Context, accountID int64, cursor string, limit int) (*CollectionPage, error) {
	return f.postPage(
		ctx,
		`SELECT posts.ap_id, posts.id FROM likes JOIN posts ON posts.id = likes.post_id WHERE likes.account_id = ? AND NOT posts.deleted`,
		accountID,
		cursor,
		limit,
	)
}

// Outbox returns one page of apIds of the account's own posts,
// newest first.
func (f *Follows) Outbox(ctx context.Context, accountID int64, cursor string, limit int) (*CollectionPage, error) {
	return f.postPage(
		ctx,
		`SELECT posts.ap_id, posts.id FROM posts WHERE posts.author_id = ? AND NOT posts.deleted`,
		accountID,
		cursor,
		limit,
	)
}

// OutboxCount returns the number of undeleted posts by the account.
func (f *Follows) OutboxCount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	if err := f.DB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM posts WHERE author_id = ? AND NOT deleted`,
		accountID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts of %d: %w", accountID, err)
	}
	return n, nil
}

// LikedCount returns the number of undeleted posts the account liked.
func (f *Follows) LikedCount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	if err := f.DB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM likes JOIN posts ON posts.id = likes.post_id WHERE likes.account_id = ? AND NOT posts.deleted`,
		accountID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count likes of %d: %w", accountID, err)
	}
	return n, nil
}

func (f *Follows) postPage(ctx context.Context, base string, accountID int64, cursor string, limit int) (*CollectionPage, error) {
	query := base
	args := []any{accountID}

	if cursor != "" {
		var id int64
		if _, err := fmt.Sscanf(cursor, "%d", &id); err != nil {
			return nil, fmt.Errorf("failed to parse cursor %q: %w", cursor, err)
		}
		query += ` AND posts.id < ?`
		args = append(args, id)
	}

	query += ` ORDER BY posts.id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := f.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch post page: %w", err)
	}
	defer rows.Close()

	var page CollectionPage
	var lastID int64
	for rows.Next() {
		var apID string
		var id int64
		if err := rows.Scan(&apID, &id); err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		if len(page.IDs) == limit {
			page.Next = fmt.Sprintf("%d", lastID)
			break
		}
		page.IDs = append(page.IDs, apID)
		lastID = id
	}
	return &page, rows.Err()
}

// RemoveAccountEdges severs every follow involving the account, used
// when a remote account announces its own deletion.
func (f *Follows) RemoveAccountEdges(ctx context.Context, accountID int64) error {
	if _, err := f.DB.ExecContext(
		ctx,
		`DELETE FROM follows WHERE follower_id = ? OR following_id = ?`,
		accountID,
		accountID,
	); err != nil {
		return fmt.Errorf("failed to remove edges of %d: %w", accountID, err)
	}
	return nil
}

// FollowerUserIDs returns the users row ids of all internal accounts
// following accountID, used for feed fan-out.
func (f *Follows) FollowerUserIDs(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := f.DB.QueryContext(
		ctx,
		`SELECT users.id FROM follows JOIN users ON users.account_id = follows.follower_id WHERE follows.following_id = ?`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch follower users of %d: %w", accountID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
