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
)

// NotificationType tags what a notification is about.
type NotificationType int

const (
	NotificationLike    NotificationType = 1
	NotificationRepost  NotificationType = 2
	NotificationReply   NotificationType = 3
	NotificationFollow  NotificationType = 4
	NotificationMention NotificationType = 5
)

// Notifications writes and reads per-user notification rows.
type Notifications struct {
	DB *sql.DB
}

// Add inserts one notification for the user, attributed to the
// acting account.
func (n *Notifications) Add(ctx context.Context, userID, accountID int64, t NotificationType, postID, inReplyToPostID *int64) error {
	if _, err := n.DB.ExecContext(
		ctx,
		"INSERT INTO notifications (user_id, account_id, event_type, post_id, in_reply_to_post_id) VALUES (?, ?, ?, ?, ?)",
		userID,
		accountID,
		t,
		postID,
		inReplyToPostID,
	); err != nil {
		return fmt.Errorf("failed to add notification for user %d: %w", userID, err)
	}
	return nil
}

// RemoveFromAccount deletes every notification the acting account
// produced for the user, applied when the user blocks the account.
func (n *Notifications) RemoveFromAccount(ctx context.Context, userID, accountID int64) error {
	if _, err := n.DB.ExecContext(
		ctx,
		"DELETE FROM notifications WHERE user_id = ? AND account_id = ?",
		userID,
		accountID,
	); err != nil {
		return fmt.Errorf("failed to remove notifications from %d for user %d: %w", accountID, userID, err)
	}
	return nil
}

// RemoveForPost deletes notifications referencing a deleted post.
func (n *Notifications) RemoveForPost(ctx context.Context, postID int64) error {
	if _, err := n.DB.ExecContext(
		ctx,
		"DELETE FROM notifications WHERE post_id = ?",
		postID,
	); err != nil {
		return fmt.Errorf("failed to remove notifications for post %d: %w", postID, err)
	}
	return nil
}

// Unread counts the user's unread notifications.
func (n *Notifications) Unread(ctx context.Context, userID int64) (int64, error) {
	var count int64
	if err := n.DB.QueryRowContext(
		ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND NOT `read`",
		userID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notifications of user %d: %w", userID, err)
	}
	return count, nil
}

// MarkRead flags all of the user's notifications as read.
func (n *Notifications) MarkRead(ctx context.Context, userID int64) error {
	if _, err := n.DB.ExecContext(
		ctx,
		"UPDATE notifications SET `read` = 1 WHERE user_id = ? AND NOT `read`",
		userID,
	); err != nil {
		return fmt.Errorf("failed to mark notifications of user %d: %w", userID, err)
	}
	return nil
}
