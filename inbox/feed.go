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

	"github.com/fedibox/fedibox/domain"
)

type FeedStore interface {
	Add(ctx context.Context, userID int64, post *domain.Post) error
	RemovePost(ctx context.Context, postID int64) error
	RemoveAuthor(ctx context.Context, userID, authorID int64) error
}

type UserStore interface {
	UserIDFor(ctx context.Context, accountID int64) (int64, error)
}

type FollowerStore interface {
	FollowerUserIDs(ctx context.Context, accountID int64) ([]int64, error)
}

// FeedProjector derives the denormalised per-user feed rows from
// post and account events. It subscribes to the event bus; failures
// are logged there and never fail the primary write.
type FeedProjector struct {
	Users     UserStore
	Followers FollowerStore
	Posts     PostLookup
	Feeds     FeedStore
}

// Handle applies one event to the feed projection.
func (p *FeedProjector) Handle(ctx context.Context, event domain.Event) error {
	switch e := event.(type) {
	case domain.PostCreated:
		return p.postCreated(ctx, e.Post)

	case domain.PostDeleted:
		return p.Feeds.RemovePost(ctx, e.Post.ID)

	case domain.AccountBlocked:
		userID, err := p.Users.UserIDFor(ctx, e.BlockerID)
		if err != nil || userID == 0 {
			return err
		}
		return p.Feeds.RemoveAuthor(ctx, userID, e.BlockedID)
	}

	return nil
}

func (p *FeedProjector) postCreated(ctx context.Context, post *domain.Post) error {
	// Direct messages never enter feeds.
	if post.Audience == domain.AudienceDirect {
		return nil
	}

	added := map[int64]bool{}

	// The author sees their own post, if the author is local.
	if userID, err := p.Users.UserIDFor(ctx, post.AuthorID); err != nil {
		return err
	} else if userID != 0 {
		if err := p.Feeds.Add(ctx, userID, post); err != nil {
			return err
		}
		added[userID] = true
	}

	userIDs, err := p.Followers.FollowerUserIDs(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	for _, userID := range userIDs {
		if added[userID] {
			continue
		}
		if err := p.Feeds.Add(ctx, userID, post); err != nil {
			return err
		}
		added[userID] = true
	}

	// A reply to a local post reaches the parent's author even when
	// nobody follows the replier.
	if post.InReplyTo == nil {
		return nil
	}
	parent, err := p.Posts.ByID(ctx, *post.InReplyTo)
	if domain.IsKind(err, domain.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	userID, err := p.Users.UserIDFor(ctx, parent.AuthorID)
	if err != nil {
		return err
	}
	if userID == 0 || added[userID] {
		return nil
	}
	return p.Feeds.Add(ctx, userID, post)
}
