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

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
)

// CreateNote publishes a note to the author's followers and returns
// the stored post.
func (s *Service) CreateNote(ctx context.Context, site *domain.Site, author *domain.Account, content string) (*domain.Post, error) {
	post, err := domain.NewNote(site.Origin(), author, s.sanitize(content), domain.AudiencePublic)
	if err != nil {
		return nil, err
	}

	if err := s.Posts.Save(ctx, post); err != nil {
		return nil, err
	}

	if err := s.sendCreate(ctx, site, author, post, nil); err != nil {
		return nil, err
	}
	return post, nil
}

// Reply publishes a note replying to the post at parentAPID. The
// parent's author is addressed directly in addition to followers.
func (s *Service) Reply(ctx context.Context, site *domain.Site, author *domain.Account, parentAPID, content string) (*domain.Post, error) {
	parent, err := s.postByAPID(ctx, parentAPID)
	if err != nil {
		return nil, err
	}

	post, err := domain.NewReply(site.Origin(), author, parent, s.sanitize(content))
	if err != nil {
		return nil, err
	}

	if err := s.Posts.Save(ctx, post); err != nil {
		return nil, err
	}

	var extra []string
	parentAuthor, err := s.Accounts.ByID(ctx, parent.AuthorID)
	if err == nil && !parentAuthor.IsInternal() {
		inbox := parentAuthor.APSharedInbox
		if inbox == "" {
			inbox = parentAuthor.APInbox
		}
		extra = append(extra, inbox)
	}

	if err := s.sendCreate(ctx, site, author, post, extra, withInReplyTo(parent.APID)); err != nil {
		return nil, err
	}
	return post, nil
}

type objectOption func(*ap.Object)

func withInReplyTo(apID string) objectOption {
	return func(o *ap.Object) {
		o.InReplyTo = apID
	}
}

// sendCreate wraps the post in Create and fans it out to followers
// plus any extra inboxes.
func (s *Service) sendCreate(ctx context.Context, site *domain.Site, author *domain.Account, post *domain.Post, extra []string, opts ...objectOption) error {
	object := ObjectFor(post, author)
	for _, opt := range opts {
		opt(object)
	}

	id, err := activityID(site.Origin(), string(ap.Create))
	if err != nil {
		return err
	}

	activity := publicActivity(id, ap.Create, author, object)
	activity.Published = object.Published

	inboxes, err := s.Follows.FollowerInboxes(ctx, author.ID)
	if err != nil {
		return err
	}
	inboxes = append(inboxes, extra...)

	return s.dispatch(ctx, author, activity, dedupe(inboxes)...)
}
