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

// postByAPID fetches a post by canonical URL, pulling a remote post
// into the local store on first reference.
func (s *Service) postByAPID(ctx context.Context, apID string) (*domain.Post, error) {
	post, err := s.Posts.ByAPID(ctx, apID)
	if err == nil {
		return post, nil
	}
	if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, err
	}

	object, err := s.Resolver.ResolveObject(ctx, apID)
	if err != nil {
		return nil, err
	}
	if object.Type != ap.Note && object.Type != ap.Article && object.Type != ap.Page {
		return nil, domain.E(domain.ErrNotAPost, "%s is a %s", apID, object.Type)
	}
	if object.AttributedTo == "" {
		return nil, domain.E(domain.ErrMissingAuthor, "%s has no author", apID)
	}

	author, err := s.resolveTarget(ctx, object.AttributedTo)
	if err != nil {
		return nil, err
	}

	t := domain.PostTypeNote
	if object.Type == ap.Article || object.Type == ap.Page {
		t = domain.PostTypeArticle
	}

	post, err = domain.NewRemotePost(object.ID, t, author, object.Content, object.Name, object.URL, object.Published.Time)
	if err != nil {
		return nil, err
	}
	if err := s.Posts.Save(ctx, post); err != nil {
		if domain.IsKind(err, domain.ErrPostAlreadyExists) {
			return s.Posts.ByAPID(ctx, apID)
		}
		return nil, err
	}

	return post, nil
}

// reactTargets returns the inboxes to notify about a reaction: the
// post author's inbox when the author is external.
func (s *Service) reactTargets(ctx context.Context, actor *domain.Account, post *domain.Post) ([]string, *domain.Account, error) {
	author, err := s.Accounts.ByID(ctx, post.AuthorID)
	if err != nil {
		return nil, nil, err
	}

	var inboxes []string
	if !author.IsInternal() && author.ID != actor.ID {
		inbox := author.APSharedInbox
		if inbox == "" {
			inbox = author.APInbox
		}
		inboxes = append(inboxes, inbox)
	}
	return inboxes, author, nil
}

// Like records a like on the post at apID and notifies its author.
func (s *Service) Like(ctx context.Context, site *domain.Site, actor *domain.Account, apID string) error {
	post, err := s.postByAPID(ctx, apID)
	if err != nil {
		return err
	}

	if err := s.Posts.AddLike(ctx, post.ID, actor.ID); err != nil {
		return err
	}

	inboxes, author, err := s.reactTargets(ctx, actor, post)
	if err != nil {
		return err
	}

	id, err := activityID(site.Origin(), string(ap.Like))
	if err != nil {
		return err
	}

	activity := publicActivity(id, ap.Like, actor, post.APID)
	activity.To.Add(author.APID)
	return s.dispatch(ctx, actor, activity, inboxes...)
}

// Unlike removes a like and sends Undo(Like) to the author.
func (s *Service) Unlike(ctx context.Context, site *domain.Site, actor *domain.Account, apID string) error {
	post, err := s.postByAPID(ctx, apID)
	if err != nil {
		return err
	}

	if err := s.Posts.RemoveLike(ctx, post.ID, actor.ID); err != nil {
		return err
	}

	inboxes, author, err := s.reactTargets(ctx, actor, post)
	if err != nil {
		return err
	}

	id, err := activityID(site.Origin(), string(ap.Undo))
	if err != nil {
		return err
	}
	innerID, err := activityID(site.Origin(), string(ap.Like))
	if err != nil {
		return err
	}

	inner := publicActivity(innerID, ap.Like, actor, post.APID)
	inner.Context = nil

	activity := publicActivity(id, ap.Undo, actor, inner)
	activity.To.Add(author.APID)
	return s.dispatch(ctx, actor, activity, inboxes...)
}

// Repost announces the post at apID to the actor's followers and
// notifies the author.
func (s *Service) Repost(ctx context.Context, site *domain.Site, actor *domain.Account, apID string) error {
	post, err := s.postByAPID(ctx, apID)
	if err != nil {
		return err
	}

	if err := s.Posts.AddRepost(ctx, post.ID, actor.ID); err != nil {
		return err
	}

	inboxes, author, err := s.reactTargets(ctx, actor, post)
	if err != nil {
		return err
	}

	followerInboxes, err := s.Follows.FollowerInboxes(ctx, actor.ID)
	if err != nil {
		return err
	}
	inboxes = append(inboxes, followerInboxes...)

	id, err := activityID(site.Origin(), string(ap.Announce))
	if err != nil {
		return err
	}

	activity := publicActivity(id, ap.Announce, actor, post.APID)
	activity.To.Add(author.APID)
	return s.dispatch(ctx, actor, activity, dedupe(inboxes)...)
}

// Derepost undoes an announce.
func (s *Service) Derepost(ctx context.Context, site *domain.Site, actor *domain.Account, apID string) error {
	post, err := s.postByAPID(ctx, apID)
	if err != nil {
		return err
	}

	if err := s.Posts.RemoveRepost(ctx, post.ID, actor.ID); err != nil {
		return err
	}

	inboxes, author, err := s.reactTargets(ctx, actor, post)
	if err != nil {
		return err
	}

	followerInboxes, err := s.Follows.FollowerInboxes(ctx, actor.ID)
	if err != nil {
		return err
	}
	inboxes = append(inboxes, followerInboxes...)

	id, err := activityID(site.Origin(), string(ap.Undo))
	if err != nil {
		return err
	}
	innerID, err := activityID(site.Origin(), string(ap.Announce))
	if err != nil {
		return err
	}

	inner := publicActivity(innerID, ap.Announce, actor, post.APID)
	inner.Context = nil

	activity := publicActivity(id, ap.Undo, actor, inner)
	activity.To.Add(author.APID)
	return s.dispatch(ctx, actor, activity, dedupe(inboxes)...)
}

func dedupe(inboxes []string) []string {
	seen := make(map[string]struct{}, len(inboxes))
	out := inboxes[:0]
	for _, inbox := range inboxes {
		if _, ok := seen[inbox]; ok || inbox == "" {
			continue
		}
		seen[inbox] = struct{}{}
		out = append(out, inbox)
	}
	return out
}
