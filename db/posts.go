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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fedibox/fedibox/bus"
	"github.com/fedibox/fedibox/domain"
)

const postColumns = `id, uuid, type, audience, author_id, COALESCE(title, ''), COALESCE(excerpt, ''), COALESCE(summary, ''), COALESCE(content, ''), COALESCE(url, ''), COALESCE(image_url, ''), published_at, in_reply_to, thread_root, like_count, repost_count, reply_count, reading_time_minutes, attachments, authors, ap_id, deleted`

// Posts loads and saves Post aggregates. Save inserts new aggregates
// (assigning their id) or applies a partial update driven by the
// aggregate's dirty columns.
type Posts struct {
	DB  *sql.DB
	Bus *bus.Bus
}

func scanPost(row *sql.Row) (*domain.Post, error) {
	var p domain.Post
	var publishedAt sql.NullTime
	var attachments, authors []byte

	if err := row.Scan(
		&p.ID, &p.UUID, &p.Type, &p.Audience, &p.AuthorID,
		&p.Title, &p.Excerpt, &p.Summary, &p.Content, &p.URL, &p.ImageURL,
		&publishedAt, &p.InReplyTo, &p.ThreadRoot,
		&p.LikeCount, &p.RepostCount, &p.ReplyCount, &p.ReadingTimeMinutes,
		&attachments, &authors,
		&p.APID, &p.Deleted,
	); err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		p.PublishedAt = publishedAt.Time
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &p.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments of %s: %w", p.APID, err)
		}
	}
	if len(authors) > 0 {
		if err := json.Unmarshal(authors, &p.Authors); err != nil {
			return nil, fmt.Errorf("failed to decode authors of %s: %w", p.APID, err)
		}
	}

	return &p, nil
}

// ByID returns the post with the given row id.
func (r *Posts) ByID(ctx context.Context, id int64) (*domain.Post, error) {
	post, err := scanPost(r.DB.QueryRowContext(
		ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = ?`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.ErrNotFound, "no post %d", id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch post %d: %w", id, err)
	}
	return post, nil
}

// ByAPID returns the post with the given canonical URL, matched
// case-insensitively through the generated hash column.
func (r *Posts) ByAPID(ctx context.Context, apID string) (*domain.Post, error) {
	post, err := scanPost(r.DB.QueryRowContext(
		ctx,
		`SELECT `+postColumns+` FROM posts WHERE ap_id_hash = UNHEX(SHA2(LOWER(?), 256))`,
		apID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.ErrNotFound, "no post %s", apID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch post %s: %w", apID, err)
	}
	return post, nil
}

// Save inserts the post if it has no id yet, assigning the new id to
// the aggregate, or runs a partial update over the dirty columns.
// Event side-effects run in the same transaction and the events go
// to the bus after commit.
func (r *Posts) Save(ctx context.Context, p *domain.Post) error {
	return r.save(ctx, p, nil)
}

// SaveMapped inserts a new post together with its blog-side uuid
// mapping in one transaction, so a failed insert never strands the
// mapping and the webhook retry can start over. A conflict on the
// uuid reports post-already-exists.
func (r *Posts) SaveMapped(ctx context.Context, ghostUUID string, p *domain.Post) error {
	return r.save(ctx, p, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO ghost_ap_post_mappings (ghost_uuid, ap_id) VALUES (?, ?)`,
			ghostUUID,
			p.APID,
		); err != nil {
			if isDuplicate(err) {
				return domain.E(domain.ErrPostAlreadyExists, "ghost post %s already mapped", ghostUUID)
			}
			return fmt.Errorf("failed to map ghost post %s: %w", ghostUUID, err)
		}
		return nil
	})
}

func (r *Posts) save(ctx context.Context, p *domain.Post, pre func(tx *sql.Tx) error) error {
	events := p.PullEvents()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		p.Restore(events)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if pre != nil {
		if err := pre(tx); err != nil {
			p.Restore(events)
			return err
		}
	}

	if p.ID == 0 {
		if err := r.insert(ctx, tx, p); err != nil {
			p.Restore(events)
			return err
		}
	} else if len(p.Dirty()) > 0 {
		if err := r.update(ctx, tx, p); err != nil {
			p.Restore(events)
			return err
		}
	}

	for _, event := range events {
		if err := applyPostEvent(ctx, tx, event); err != nil {
			p.Restore(events)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		p.Restore(events)
		return fmt.Errorf("failed to commit post %s: %w", p.APID, err)
	}

	p.ClearDirty()
	if r.Bus != nil {
		r.Bus.Publish(ctx, events...)
	}
	return nil
}

func (r *Posts) insert(ctx context.Context, tx *sql.Tx, p *domain.Post) error {
	var attachments, authors any
	if len(p.Attachments) > 0 {
		b, err := json.Marshal(p.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments of %s: %w", p.APID, err)
		}
		attachments = b
	}
	if len(p.Authors) > 0 {
		b, err := json.Marshal(p.Authors)
		if err != nil {
			return fmt.Errorf("failed to encode authors of %s: %w", p.APID, err)
		}
		authors = b
	}

	var publishedAt any
	if !p.PublishedAt.IsZero() {
		publishedAt = p.PublishedAt.UTC()
	}

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO posts (uuid, type, audience, author_id, title, excerpt, summary, content, url, image_url, published_at, in_reply_to, thread_root, reading_time_minutes, attachments, authors, ap_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UUID, p.Type, p.Audience, p.AuthorID,
		p.Title, p.Excerpt, p.Summary, p.Content, p.URL, p.ImageURL,
		publishedAt, p.InReplyTo, p.ThreadRoot, p.ReadingTimeMinutes,
		attachments, authors, p.APID,
	)
	if err != nil {
		if isDuplicate(err) {
			return domain.E(domain.ErrPostAlreadyExists, "post %s already exists", p.APID)
		}
		return fmt.Errorf("failed to insert post %s: %w", p.APID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to fetch post id: %w", err)
	}
	p.ID = id

	if p.InReplyTo != nil {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE posts SET reply_count = reply_count + 1 WHERE id = ?`,
			*p.InReplyTo,
		); err != nil {
			return fmt.Errorf("failed to bump reply count of %d: %w", *p.InReplyTo, err)
		}
	}

	return nil
}

func (r *Posts) update(ctx context.Context, tx *sql.Tx, p *domain.Post) error {
	sets := make([]string, 0, len(p.Dirty()))
	args := make([]any, 0, len(p.Dirty())+1)

	for _, col := range p.Dirty() {
		var value any
		switch col {
		case "title":
			value = p.Title
		case "excerpt":
			value = p.Excerpt
		case "summary":
			value = p.Summary
		case "content":
			value = p.Content
		case "url":
			value = p.URL
		case "image_url":
			value = p.ImageURL
		case "reading_time_minutes":
			value = p.ReadingTimeMinutes
		case "deleted":
			value = p.Deleted
		default:
			return fmt.Errorf("unknown dirty column %s on post %d", col, p.ID)
		}
		sets = append(sets, col+" = ?")
		args = append(args, value)
	}

	args = append(args, p.ID)
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE posts SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	); err != nil {
		return fmt.Errorf("failed to update post %d: %w", p.ID, err)
	}

	return nil
}

func applyPostEvent(ctx context.Context, tx *sql.Tx, event domain.Event) error {
	switch e := event.(type) {
	case domain.PostCreated:
		// Row written by insert.

	case domain.PostDeleted:
		// Tombstone: drop the content but keep the row so the
		// canonical URL keeps resolving to a deleted marker.
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE posts SET title = NULL, excerpt = NULL, summary = NULL, content = NULL, image_url = NULL, deleted = 1 WHERE id = ?`,
			e.Post.ID,
		); err != nil {
			return fmt.Errorf("failed to tombstone post %d: %w", e.Post.ID, err)
		}

	case domain.MentionCreated:
		if _, err := tx.ExecContext(
			ctx,
			`INSERT IGNORE INTO mentions (post_id, account_id) VALUES (?, ?)`,
			e.PostID,
			e.MentionedID,
		); err != nil {
			return fmt.Errorf("failed to insert mention %d->%d: %w", e.PostID, e.MentionedID, err)
		}

	default:
		return fmt.Errorf("unknown post event %s", event.EventName())
	}

	return nil
}

// AddLike records a like edge and bumps the counter, in one
// transaction. Repeating the call converges: the conflicting edge
// insert skips the counter update and no event is published.
func (r *Posts) AddLike(ctx context.Context, postID, accountID int64) error {
	changed, err := r.edge(ctx, `INSERT IGNORE INTO likes (post_id, account_id) VALUES (?, ?)`, `UPDATE posts SET like_count = like_count + 1 WHERE id = ?`, postID, accountID)
	if err != nil {
		return fmt.Errorf("failed to like post %d: %w", postID, err)
	}
	if changed {
		r.publishCounter(ctx, postID, accountID, func(postID, authorID, accountID int64) domain.Event {
			return domain.PostLiked{PostID: postID, AuthorID: authorID, AccountID: accountID}
		})
	}
	return nil
}

// RemoveLike removes a like edge and decrements the counter. No-op
// when the edge is absent.
func (r *Posts) RemoveLike(ctx context.Context, postID, accountID int64) error {
	changed, err := r.edge(ctx, `DELETE FROM likes WHERE post_id = ? AND account_id = ?`, `UPDATE posts SET like_count = like_count - 1 WHERE id = ? AND like_count > 0`, postID, accountID)
	if err != nil {
		return fmt.Errorf("failed to unlike post %d: %w", postID, err)
	}
	if changed {
		r.publishCounter(ctx, postID, accountID, func(postID, authorID, accountID int64) domain.Event {
			return domain.PostDisliked{PostID: postID, AuthorID: authorID, AccountID: accountID}
		})
	}
	return nil
}

// AddRepost records a repost edge and bumps the counter.
func (r *Posts) AddRepost(ctx context.Context, postID, accountID int64) error {
	changed, err := r.edge(ctx, `INSERT IGNORE INTO reposts (post_id, account_id) VALUES (?, ?)`, `UPDATE posts SET repost_count = repost_count + 1 WHERE id = ?`, postID, accountID)
	if err != nil {
		return fmt.Errorf("failed to repost post %d: %w", postID, err)
	}
	if changed {
		r.publishCounter(ctx, postID, accountID, func(postID, authorID, accountID int64) domain.Event {
			return domain.PostReposted{PostID: postID, AuthorID: authorID, AccountID: accountID}
		})
	}
	return nil
}

// RemoveRepost removes a repost edge and decrements the counter.
func (r *Posts) RemoveRepost(ctx context.Context, postID, accountID int64) error {
	changed, err := r.edge(ctx, `DELETE FROM reposts WHERE post_id = ? AND account_id = ?`, `UPDATE posts SET repost_count = repost_count - 1 WHERE id = ? AND repost_count > 0`, postID, accountID)
	if err != nil {
		return fmt.Errorf("failed to derepost post %d: %w", postID, err)
	}
	if changed {
		r.publishCounter(ctx, postID, accountID, func(postID, authorID, accountID int64) domain.Event {
			return domain.PostDereposted{PostID: postID, AuthorID: authorID, AccountID: accountID}
		})
	}
	return nil
}

func (r *Posts) edge(ctx context.Context, edgeQuery, counterQuery string, postID, accountID int64) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, edgeQuery, postID, accountID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Edge already in the target state; counters stay put.
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, counterQuery, postID); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (r *Posts) publishCounter(ctx context.Context, postID, accountID int64, build func(postID, authorID, accountID int64) domain.Event) {
	if r.Bus == nil {
		return
	}

	var authorID int64
	if err := r.DB.QueryRowContext(ctx, `SELECT author_id FROM posts WHERE id = ?`, postID).Scan(&authorID); err != nil {
		return
	}
	r.Bus.Publish(ctx, build(postID, authorID, accountID))
}

// APIDForGhostUUID resolves a previously mapped article.
func (r *Posts) APIDForGhostUUID(ctx context.Context, ghostUUID string) (string, error) {
	var apID string
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT ap_id FROM ghost_ap_post_mappings WHERE ghost_uuid = ?`,
		ghostUUID,
	).Scan(&apID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.E(domain.ErrNotFound, "no mapping for ghost post %s", ghostUUID)
	} else if err != nil {
		return "", fmt.Errorf("failed to fetch mapping for %s: %w", ghostUUID, err)
	}
	return apID, nil
}

// Liked reports whether the account has a like edge on the post.
func (r *Posts) Liked(ctx context.Context, postID, accountID int64) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM likes WHERE post_id = ? AND account_id = ?`, postID, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to check like %d/%d: %w", postID, accountID, err)
	}
	return true, nil
}

// Reposted reports whether the account has a repost edge on the post.
func (r *Posts) Reposted(ctx context.Context, postID, accountID int64) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM reposts WHERE post_id = ? AND account_id = ?`, postID, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to check repost %d/%d: %w", postID, accountID, err)
	}
	return true, nil
}
