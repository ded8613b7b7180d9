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

// Package outbox builds, persists and dispatches locally originated
// activities: follows, likes, reposts, notes and the article
// lifecycle driven by blog webhooks.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/queue"
)

// ActorResolver discovers remote actors by URL or handle.
type ActorResolver interface {
	ResolveActor(ctx context.Context, id string) (*ap.Actor, error)
	ResolveHandle(ctx context.Context, user, host string) (*ap.Actor, error)
	ResolveObject(ctx context.Context, id string) (*ap.Object, error)
}

// KVStore mirrors built activities by their canonical URL.
type KVStore interface {
	Set(ctx context.Context, key string, value []byte) error
}

// AccountStore loads and saves account rows.
type AccountStore interface {
	ByID(ctx context.Context, id int64) (*domain.Account, error)
	ByAPID(ctx context.Context, apID string) (*domain.Account, error)
	CreateExternal(ctx context.Context, a *domain.Account) (*domain.Account, error)
	Save(ctx context.Context, a *domain.Account) error
}

// PostStore persists post aggregates, their reaction edges and the
// blog uuid mappings.
type PostStore interface {
	ByAPID(ctx context.Context, apID string) (*domain.Post, error)
	Save(ctx context.Context, p *domain.Post) error
	SaveMapped(ctx context.Context, ghostUUID string, p *domain.Post) error
	APIDForGhostUUID(ctx context.Context, ghostUUID string) (string, error)
	AddLike(ctx context.Context, postID, accountID int64) error
	RemoveLike(ctx context.Context, postID, accountID int64) error
	AddRepost(ctx context.Context, postID, accountID int64) error
	RemoveRepost(ctx context.Context, postID, accountID int64) error
}

// FollowGraph reads the follower graph for fan-out.
type FollowGraph interface {
	FollowerInboxes(ctx context.Context, accountID int64) ([]string, error)
	IsFollowing(ctx context.Context, followerID, followingID int64) (bool, error)
}

// Service implements the local side of federation. Every operation
// returns a tagged domain error on failure.
type Service struct {
	Config   *cfg.Config
	Accounts AccountStore
	Posts    PostStore
	Follows  FollowGraph
	KV       KVStore
	Queue    queue.Queue
	Resolver ActorResolver

	Sanitizer *bluemonday.Policy
}

// DeliveryPayload is the body of a queued outbox message: the signed
// bytes are produced at delivery time from the stored activity and
// the sender's key.
type DeliveryPayload struct {
	SenderID int64           `json:"senderId"`
	Activity json.RawMessage `json:"activity"`
}

func (s *Service) sanitize(html string) string {
	if s.Sanitizer == nil {
		return html
	}
	return s.Sanitizer.Sanitize(html)
}

// resolveTarget turns a handle ("@user@host") or actor URL into a
// local account row, creating one for newly discovered actors.
func (s *Service) resolveTarget(ctx context.Context, target string) (*domain.Account, error) {
	var actor *ap.Actor
	var err error

	if strings.HasPrefix(target, "https://") {
		if existing, err := s.Accounts.ByAPID(ctx, target); err == nil {
			return existing, nil
		}
		actor, err = s.Resolver.ResolveActor(ctx, target)
	} else {
		var user, host string
		user, host, err = ap.ParseHandle(target)
		if err != nil {
			return nil, domain.Wrap(domain.ErrLookup, err)
		}
		actor, err = s.Resolver.ResolveHandle(ctx, user, host)
	}
	if err != nil {
		return nil, err
	}

	return s.Accounts.CreateExternal(ctx, AccountFromActor(actor))
}

// AccountFromActor maps a fetched actor document onto an account row.
func AccountFromActor(actor *ap.Actor) *domain.Account {
	account := &domain.Account{
		Username:      actor.PreferredUsername,
		Name:          actor.Name,
		Bio:           actor.Summary,
		URL:           actor.URL,
		APID:          actor.ID,
		APInbox:       actor.Inbox,
		APSharedInbox: actor.SharedInbox(),
		APOutbox:      actor.Outbox,
		APFollowers:   actor.Followers,
		APFollowing:   actor.Following,
		APLiked:       actor.Liked,
		APPublicKey:   actor.PublicKey.PublicKeyPem,
	}
	if actor.Icon != nil {
		account.AvatarURL = actor.Icon.URL
	}
	if actor.Image != nil {
		account.BannerImageURL = actor.Image.URL
	}
	if account.Username == "" {
		account.Username = ap.Host(actor.ID)
	}
	return account
}

// store mirrors the activity in the KV store and enqueues one
// delivery per target inbox.
func (s *Service) dispatch(ctx context.Context, sender *domain.Account, activity *ap.Activity, inboxes ...string) error {
	raw, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", activity.ID, err)
	}

	if s.KV != nil {
		if err := s.KV.Set(ctx, activity.ID, raw); err != nil {
			return fmt.Errorf("failed to store %s: %w", activity.ID, err)
		}
	}

	payload, err := json.Marshal(DeliveryPayload{SenderID: sender.ID, Activity: raw})
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", activity.ID, err)
	}

	for _, inbox := range inboxes {
		if inbox == "" {
			continue
		}
		if err := s.Queue.Enqueue(ctx, queue.Message{
			ID:      activity.ID,
			Type:    queue.TypeOutbox,
			Inbox:   inbox,
			Payload: payload,
		}); err != nil {
			return fmt.Errorf("failed to enqueue %s to %s: %w", activity.ID, inbox, err)
		}
	}

	slog.InfoContext(ctx, "Dispatched activity", "id", activity.ID, "type", activity.Type, "inboxes", len(inboxes))
	return nil
}

// fanOut dispatches a public activity to every follower inbox.
func (s *Service) fanOut(ctx context.Context, sender *domain.Account, activity *ap.Activity) error {
	inboxes, err := s.Follows.FollowerInboxes(ctx, sender.ID)
	if err != nil {
		return err
	}
	return s.dispatch(ctx, sender, activity, inboxes...)
}

// publicActivity addresses an activity to the world plus the
// sender's followers.
func publicActivity(id string, t ap.ActivityType, sender *domain.Account, object any) *ap.Activity {
	activity := &ap.Activity{
		Context: ap.Context,
		ID:      id,
		Type:    t,
		Actor:   sender.APID,
		Object:  object,
	}
	activity.To.Add(ap.Public)
	if sender.APFollowers != "" {
		activity.CC.Add(sender.APFollowers)
	}
	return activity
}

// directActivity addresses an activity to one recipient only.
func directActivity(id string, t ap.ActivityType, sender *domain.Account, recipient string, object any) *ap.Activity {
	activity := &ap.Activity{
		Context: ap.Context,
		ID:      id,
		Type:    t,
		Actor:   sender.APID,
		Object:  object,
	}
	activity.To.Add(recipient)
	return activity
}

// ObjectFor renders a post as an ActivityStreams object.
func ObjectFor(post *domain.Post, author *domain.Account) *ap.Object {
	t := ap.Article
	if post.Type == domain.PostTypeNote {
		t = ap.Note
	}

	object := &ap.Object{
		ID:           post.APID,
		Type:         t,
		AttributedTo: author.APID,
		Name:         post.Title,
		Summary:      post.Excerpt,
		Content:      post.Content,
		Image:        post.ImageURL,
		URL:          post.URL,
	}
	if !post.PublishedAt.IsZero() {
		object.Published = ap.Time{Time: post.PublishedAt}
	}

	switch post.Audience {
	case domain.AudiencePublic:
		object.To.Add(ap.Public)
		if author.APFollowers != "" {
			object.CC.Add(author.APFollowers)
		}
	case domain.AudienceFollowersOnly:
		if author.APFollowers != "" {
			object.To.Add(author.APFollowers)
		}
	}

	for _, a := range post.Attachments {
		object.Attachment = append(object.Attachment, ap.Attachment{
			Type:      a.Type,
			MediaType: a.MediaType,
			URL:       a.URL,
			Name:      a.Name,
		})
	}

	return object
}
