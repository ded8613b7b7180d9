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

package inbox

import (
	"context"

	"github.com/fedibox/fedibox/db"
	"github.com/fedibox/fedibox/domain"
)

type NotificationStore interface {
	Add(ctx context.Context, userID, accountID int64, t db.NotificationType, postID, inReplyToPostID *int64) error
	RemoveFromAccount(ctx context.Context, userID, accountID int64) error
	RemoveForPost(ctx context.Context, postID int64) error
}

type PostLookup interface {
	ByID(ctx context.Context, id int64) (*domain.Post, error)
}

type BlockLookup interface {
	IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error)
}

// NotifyProjector derives per-user notifications from like, repost,
// reply, follow and mention events. Blocked actors never produce
// notifications; a reply that also mentions its recipient produces a
// reply notification only.
type NotifyProjector struct {
	Users         UserStore
	Posts         PostLookup
	Blocks        BlockLookup
	Notifications NotificationStore
}

// Handle applies one event to the notification projection.
func (p *NotifyProjector) Handle(ctx context.Context, event domain.Event) error {
	switch e := event.(type) {
	case domain.PostLiked:
		return p.reaction(ctx, e.AuthorID, e.AccountID, db.NotificationLike, e.PostID)

	case domain.PostReposted:
		return p.reaction(ctx, e.AuthorID, e.AccountID, db.NotificationRepost, e.PostID)

	case domain.PostCreated:
		return p.reply(ctx, e.Post)

	case domain.PostDeleted:
		return p.Notifications.RemoveForPost(ctx, e.Post.ID)

	case domain.MentionCreated:
		return p.mention(ctx, e)

	case domain.AccountFollowed:
		return p.followed(ctx, e)

	case domain.AccountBlocked:
		userID, err := p.Users.UserIDFor(ctx, e.BlockerID)
		if err != nil || userID == 0 {
			return err
		}
		return p.Notifications.RemoveFromAccount(ctx, userID, e.BlockedID)
	}

	return nil
}

// notifiable returns the recipient's user id, or 0 when no
// notification should be written: external recipient, self-action or
// blocked actor.
func (p *NotifyProjector) notifiable(ctx context.Context, recipientID, actorID int64) (int64, error) {
	if recipientID == actorID {
		return 0, nil
	}

	userID, err := p.Users.UserIDFor(ctx, recipientID)
	if err != nil || userID == 0 {
		return 0, err
	}

	blocked, err := p.Blocks.IsBlocked(ctx, recipientID, actorID)
	if err != nil || blocked {
		return 0, err
	}

	return userID, nil
}

func (p *NotifyProjector) reaction(ctx context.Context, authorID, actorID int64, t db.NotificationType, postID int64) error {
	userID, err := p.notifiable(ctx, authorID, actorID)
	if err != nil || userID == 0 {
		return err
	}
	return p.Notifications.Add(ctx, userID, actorID, t, &postID, nil)
}

func (p *NotifyProjector) reply(ctx context.Context, post *domain.Post) error {
	if post.InReplyTo == nil {
		return nil
	}

	parent, err := p.Posts.ByID(ctx, *post.InReplyTo)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	userID, err := p.notifiable(ctx, parent.AuthorID, post.AuthorID)
	if err != nil || userID == 0 {
		return err
	}

	postID := post.ID
	return p.Notifications.Add(ctx, userID, post.AuthorID, db.NotificationReply, &postID, post.InReplyTo)
}

func (p *NotifyProjector) mention(ctx context.Context, e domain.MentionCreated) error {
	userID, err := p.notifiable(ctx, e.MentionedID, e.AuthorID)
	if err != nil || userID == 0 {
		return err
	}

	// A reply that mentions the post it replies to produces a reply
	// notification, not a second mention.
	post, err := p.Posts.ByID(ctx, e.PostID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if post.InReplyTo != nil {
		parent, err := p.Posts.ByID(ctx, *post.InReplyTo)
		if err == nil && parent.AuthorID == e.MentionedID {
			return nil
		}
	}

	postID := e.PostID
	return p.Notifications.Add(ctx, userID, e.AuthorID, db.NotificationMention, &postID, nil)
}

func (p *NotifyProjector) followed(ctx context.Context, e domain.AccountFollowed) error {
	userID, err := p.notifiable(ctx, e.FollowingID, e.FollowerID)
	if err != nil || userID == 0 {
		return err
	}
	return p.Notifications.Add(ctx, userID, e.FollowerID, db.NotificationFollow, nil, nil)
}
