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
	"fmt"

	"github.com/fedibox/fedibox/domain"
)

// Feeds writes and reads the denormalised per-user feed rows.
type Feeds struct {
	DB *sql.DB
}

// Add inserts one feed row, ignoring duplicates so replayed events
// converge.
func (f *Feeds) Add(ctx context.Context, userID int64, post *domain.Post) error {
	if _, err := f.DB.ExecContext(
		ctx,
		`INSERT IGNORE INTO feeds (user_id, post_id, author_id, post_type, audience) VALUES (?, ?, ?, ?, ?)`,
		userID,
		post.ID,
		post.AuthorID,
		post.Type,
		post.Audience,
	); err != nil {
		return fmt.Errorf("failed to add post %d to feed of user %d: %w", post.ID, userID, err)
	}
	return nil
}

// RemovePost drops a deleted post from every feed.
func (f *Feeds) RemovePost(ctx context.Context, postID int64) error {
	if _, err := f.DB.ExecContext(
		ctx,
		`DELETE FROM feeds WHERE post_id = ?`,
		postID,
	); err != nil {
		return fmt.Errorf("failed to remove post %d from feeds: %w", postID, err)
	}
	return nil
}

// RemoveAuthor drops an author's posts from one user's feed, applied
// when the user's account blocks the author.
func (f *Feeds) RemoveAuthor(ctx context.Context, userID, authorID int64) error {
	if _, err := f.DB.ExecContext(
		ctx,
		`DELETE FROM feeds WHERE user_id = ? AND author_id = ?`,
		userID,
		authorID,
	); err != nil {
		return fmt.Errorf("failed to remove author %d from feed of user %d: %w", authorID, userID, err)
	}
	return nil
}

// FeedEntry is one row of a user's reverse-chronological feed.
type FeedEntry struct {
	PostID   int64
	AuthorID int64
	PostType domain.PostType
	Audience domain.Audience
}

// Page returns one page of the user's feed, newest first. The cursor
// is the feeds row id of the last entry on the previous page.
func (f *Feeds) Page(ctx context.Context, userID int64, cursor string, limit int) ([]FeedEntry, string, error) {
	query := `SELECT id, post_id, author_id, post_type, audience FROM feeds WHERE user_id = ?`
	args := []any{userID}

	if cursor != "" {
		var id int64
		if _, err := fmt.Sscanf(cursor, "%d", &id); err != nil {
			return nil, "", fmt.Errorf("failed to parse cursor %q: %w", cursor, err)
		}
		query += ` AND id < ?`
		args = append(args, id)
	}

	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := f.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch feed of user %d: %w", userID, err)
	}
	defer rows.Close()

	var entries []FeedEntry
	var next string
	var lastID int64
	for rows.Next() {
		var rowID int64
		var e FeedEntry
		if err := rows.Scan(&rowID, &e.PostID, &e.AuthorID, &e.PostType, &e.Audience); err != nil {
			return nil, "", fmt.Errorf("failed to scan feed row: %w", err)
		}
		if len(entries) == limit {
			next = fmt.Sprintf("%d", lastID)
			break
		}
		entries = append(entries, e)
		lastID = rowID
	}
	return entries, next, rows.Err()
}
