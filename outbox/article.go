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

package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
)

// ArticleInput is a blog post as extracted from a webhook payload.
type ArticleInput struct {
	UUID        string
	Title       string
	Excerpt     string
	Content     string
	URL         string
	ImageURL    string
	PublishedAt time.Time
	Authors     []domain.PostAuthor

	// Public is false for member-only and paid posts, which must
	// never federate.
	Public bool
}

// PublishArticle federates a newly published blog post. Publishing
// is idempotent by the post's blog-side UUID: a repeated webhook
// fails with post-already-exists. Private or empty posts retract any
// previously federated version instead.
func (s *Service) PublishArticle(ctx context.Context, site *domain.Site, author *domain.Account, in ArticleInput) (*domain.Post, error) {
	if !in.Public || in.Content == "" {
		if err := s.retract(ctx, site, author, in.UUID); err != nil {
			return nil, err
		}
		if !in.Public {
			return nil, domain.E(domain.ErrPrivateContent, "post %s is not public", in.UUID)
		}
		return nil, domain.E(domain.ErrMissingContent, "post %s has no content", in.UUID)
	}

	post, err := domain.NewArticle(site.Origin(), author, domain.ArticleParams{
		UUID:        in.UUID,
		Title:       in.Title,
		Excerpt:     in.Excerpt,
		Content:     s.sanitize(in.Content),
		URL:         in.URL,
		ImageURL:    in.ImageURL,
		PublishedAt: in.PublishedAt,
		Authors:     in.Authors,
	})
	if err != nil {
		return nil, err
	}

	// The uuid mapping and the post row commit together: a failed
	// insert leaves no stranded mapping behind for the webhook retry
	// to trip over.
	if err := s.Posts.SaveMapped(ctx, in.UUID, post); err != nil {
		return nil, err
	}

	if err := s.sendCreate(ctx, site, author, post, nil); err != nil {
		return nil, err
	}
	return post, nil
}

// UpdateArticle federates an edit to an already published post. An
// update for a post that was never published behaves like a publish.
func (s *Service) UpdateArticle(ctx context.Context, site *domain.Site, author *domain.Account, in ArticleInput) (*domain.Post, error) {
	if !in.Public || in.Content == "" {
		if err := s.retract(ctx, site, author, in.UUID); err != nil {
			return nil, err
		}
		if !in.Public {
			return nil, domain.E(domain.ErrPrivateContent, "post %s is not public", in.UUID)
		}
		return nil, domain.E(domain.ErrMissingContent, "post %s has no content", in.UUID)
	}

	apID, err := s.Posts.APIDForGhostUUID(ctx, in.UUID)
	if domain.IsKind(err, domain.ErrNotFound) {
		return s.PublishArticle(ctx, site, author, in)
	} else if err != nil {
		return nil, err
	}

	post, err := s.Posts.ByAPID(ctx, apID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != author.ID {
		return nil, domain.E(domain.ErrNotAuthor, "account %d does not own %s", author.ID, apID)
	}

	if err := post.SetTitle(in.Title); err != nil {
		return nil, err
	}
	if err := post.SetContent(s.sanitize(in.Content)); err != nil {
		return nil, err
	}
	if err := post.SetExcerpt(in.Excerpt); err != nil {
		return nil, err
	}
	if err := post.SetImageURL(in.ImageURL); err != nil {
		return nil, err
	}
	if err := post.SetURL(in.URL); err != nil {
		return nil, err
	}

	if err := s.Posts.Save(ctx, post); err != nil {
		return nil, err
	}

	object := ObjectFor(post, author)
	object.Updated = ap.Time{Time: time.Now().UTC()}

	id, err := activityID(site.Origin(), string(ap.Update))
	if err != nil {
		return nil, err
	}

	activity := publicActivity(id, ap.Update, author, object)
	if err := s.fanOut(ctx, author, activity); err != nil {
		return nil, err
	}
	return post, nil
}

// DeleteArticle federates the deletion of a published post.
func (s *Service) DeleteArticle(ctx context.Context, site *domain.Site, author *domain.Account, ghostUUID string) error {
	return s.retract(ctx, site, author, ghostUUID)
}

// retract soft-deletes the post mapped to ghostUUID, if any, and
// sends Delete to followers. Unmapped posts are a no-op.
func (s *Service) retract(ctx context.Context, site *domain.Site, author *domain.Account, ghostUUID string) error {
	apID, err := s.Posts.APIDForGhostUUID(ctx, ghostUUID)
	if domain.IsKind(err, domain.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	post, err := s.Posts.ByAPID(ctx, apID)
	if err != nil {
		return err
	}
	if post.Deleted {
		return nil
	}

	if err := post.Delete(author.ID); err != nil {
		return err
	}
	if err := s.Posts.Save(ctx, post); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Retracting post", "post", apID, "ghostUuid", ghostUUID)

	id, err := activityID(site.Origin(), string(ap.Delete))
	if err != nil {
		return err
	}

	activity := publicActivity(id, ap.Delete, author, &ap.Object{
		ID:   post.APID,
		Type: ap.Tombstone,
	})
	return s.fanOut(ctx, author, activity)
}
