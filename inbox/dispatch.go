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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/outbox"
)

// Dispatcher applies one incoming activity to a tenant's state.
/// Dispatch is idempotent: every effect is keyed by a canonical id,
// so redelivered messages converge.
type Dispatcher struct {
	Config   *cfg.Config
	Sites    SiteStore
	Accounts AccountStore
	Posts    PostStore
	Graph    GraphStore
	KV       KVStore
	Resolver Resolver
	Acceptor Acceptor
}

// Dispatch handles one verified activity addressed to a tenant. A
// nil return acknowledges the activity, including silent drops.
func (d *Dispatcher) Dispatch(ctx context.Context, siteID int64, senderID string, raw json.RawMessage, activity *ap.Activity) error {
	site, err := d.Sites.ByID(ctx, siteID)
	if err != nil {
		return err
	}

	recipient, err := d.Accounts.BySite(ctx, site.ID)
	if err != nil {
		return err
	}

	// Non-public creates never enter the store.
	if activity.Type == ap.Create && !activity.IsPublic() {
		slog.InfoContext(ctx, "Dropping non-public activity", "id", activity.ID, "actor", activity.Actor)
		return nil
	}

	sender, err := d.resolveSender(ctx, senderID)
	if err != nil {
		// Best effort: an unreachable sender is acknowledged, not retried.
		slog.InfoContext(ctx, "Cannot resolve sender", "actor", senderID, "error", err)
		return nil
	}

	blocked, err := d.Graph.IsBlocked(ctx, recipient.ID, sender.ID)
	if err != nil {
		return err
	}
	if blocked {
		slog.InfoContext(ctx, "Dropping activity from blocked sender", "id", activity.ID, "actor", sender.APID)
		return nil
	}

	switch activity.Type {
	case ap.Follow:
		err = d.follow(ctx, site, sender, recipient, activity)
	case ap.Accept:
		err = d.accept(ctx, activity)
	case ap.Undo:
		err = d.undo(ctx, sender, recipient, activity)
	case ap.Create:
		err = d.create(ctx, sender, recipient, activity)
	case ap.Announce:
		err = d.announce(ctx, sender, activity)
	case ap.Like:
		err = d.like(ctx, sender, activity)
	case ap.Delete:
		err = d.delete(ctx, sender, activity)
	case ap.Update:
		err = d.update(ctx, sender, activity)
	default:
		slog.InfoContext(ctx, "Ignoring activity", "id", activity.ID, "type", activity.Type)
		return nil
	}
	if err != nil {
		return err
	}

	// Mirror the verbatim activity under its canonical id.
	if err := d.KV.Set(ctx, activity.ID, raw); err != nil {
		return fmt.Errorf("failed to mirror %s: %w", activity.ID, err)
	}

	return nil
}

func (d *Dispatcher) resolveSender(ctx context.Context, id string) (*domain.Account, error) {
	if account, err := d.Accounts.ByAPID(ctx, id); err == nil {
		return account, nil
	} else if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, err
	}

	actor, err := d.Resolver.ResolveActor(ctx, id)
	if err != nil {
		return nil, err
	}

	return d.Accounts.CreateExternal(ctx, outbox.AccountFromActor(actor))
}

func (d *Dispatcher) follow(ctx context.Context, site *domain.Site, sender, recipient *domain.Account, activity *ap.Activity) error {
	if objectID := activity.ObjectID(); objectID != "" && objectID != recipient.APID {
		return domain.E(domain.ErrNotFound, "no local actor %s", objectID)
	}

	sender.Follow(recipient)
	if err := d.Accounts.Save(ctx, sender); err != nil {
		return err
	}

	inbox := sender.APInbox
	if inbox == "" {
		return domain.E(domain.ErrLookup, "follower %s has no inbox", sender.APID)
	}

	return d.Acceptor.AcceptFollow(ctx, site, recipient, activity, inbox)
}

// accept records acknowledgement of an outbound Follow. No state
// changes beyond the KV record.
func (d *Dispatcher) accept(ctx context.Context, activity *ap.Activity) error {
	inner, ok := activity.Object.(*ap.Activity)
	if !ok || inner.Type != ap.Follow {
		slog.InfoContext(ctx, "Ignoring accept", "id", activity.ID)
		return nil
	}

	raw, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	return d.KV.Set(ctx, "follow-accepted:"+inner.ID, raw)
}

func (d *Dispatcher) undo(ctx context.Context, sender, recipient *domain.Account, activity *ap.Activity) error {
	inner, ok := activity.Object.(*ap.Activity)
	if !ok {
		// An Undo of a bare id cannot be classified; drop it.
		slog.InfoContext(ctx, "Ignoring undo of unknown object", "id", activity.ID)
		return nil
	}

	switch inner.Type {
	case ap.Follow:
		// Undo may arrive before the Follow it undoes; deleting an
		// absent edge is success.
		sender.Unfollow(recipient)
		return d.Accounts.Save(ctx, sender)

	case ap.Like:
		post, err := d.Posts.ByAPID(ctx, inner.ObjectID())
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		return d.Posts.RemoveLike(ctx, post.ID, sender.ID)

	case ap.Announce:
		post, err := d.Posts.ByAPID(ctx, inner.ObjectID())
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		return d.Posts.RemoveRepost(ctx, post.ID, sender.ID)
	}

	slog.InfoContext(ctx, "Ignoring undo", "id", activity.ID, "inner", inner.Type)
	return nil
}

func (d *Dispatcher) create(ctx context.Context, sender, recipient *domain.Account, activity *ap.Activity) error {
	object, ok := activity.Object.(*ap.Object)
	if !ok {
		return domain.E(domain.ErrInvalidType, "create without object: %s", activity.ID)
	}
	if object.Type != ap.Note && object.Type != ap.Article && object.Type != ap.Page {
		slog.InfoContext(ctx, "Ignoring create", "id", activity.ID, "object", object.Type)
		return nil
	}

	if len(object.To.OrderedMap)+len(object.CC.OrderedMap) > d.Config.MaxRecipients {
		slog.WarnContext(ctx, "Post has too many recipients", "id", activity.ID, "to", len(object.To.OrderedMap), "cc", len(object.CC.OrderedMap))
		return nil
	}

	// Only keep posts from followed senders, or replies to local posts.
	followed, err := d.Graph.IsFollowing(ctx, recipient.ID, sender.ID)
	if err != nil {
		return err
	}

	var parent *domain.Post
	if object.InReplyTo != "" {
		if p, err := d.Posts.ByAPID(ctx, object.InReplyTo); err == nil {
			parent = p
		} else if !domain.IsKind(err, domain.ErrNotFound) {
			return err
		}
	}

	replyToLocal := parent != nil && parent.AuthorID == recipient.ID
	if !followed && !replyToLocal {
		slog.InfoContext(ctx, "Dropping post from unfollowed sender", "id", activity.ID, "actor", sender.APID)
		return nil
	}

	if _, err := d.Posts.ByAPID(ctx, object.ID); err == nil {
		return nil
	} else if !domain.IsKind(err, domain.ErrNotFound) {
		return err
	}

	t := domain.PostTypeNote
	if object.Type == ap.Article || object.Type == ap.Page {
		t = domain.PostTypeArticle
	}

	post, err := domain.NewRemotePost(object.ID, t, sender, object.Content, object.Name, object.URL, object.Published.Time)
	if err != nil {
		return err
	}

	if parent != nil {
		parentID := parent.ID
		post.InReplyTo = &parentID
		root := parentID
		if parent.ThreadRoot != nil {
			root = *parent.ThreadRoot
		}
		post.ThreadRoot = &root
	}

	if err := d.Posts.Save(ctx, post); err != nil {
		if domain.IsKind(err, domain.ErrPostAlreadyExists) {
			return nil
		}
		return err
	}

	// Mentions become events only after the post has an id.
	for _, href := range object.Mentions() {
		mentioned, err := d.Accounts.ByAPID(ctx, href)
		if err != nil {
			continue
		}
		post.Mention(mentioned.ID)
	}
	return d.Posts.Save(ctx, post)
}

// announce ensures the boosted post exists locally, fetching it if
// needed, and records the repost.
func (d *Dispatcher) announce(ctx context.Context, sender *domain.Account, activity *ap.Activity) error {
	objectID := activity.ObjectID()
	if objectID == "" {
		return domain.E(domain.ErrInvalidType, "announce without object: %s", activity.ID)
	}

	post, err := d.ensurePost(ctx, objectID)
	if err != nil {
		if domain.IsKind(err, domain.ErrLookup) || domain.IsKind(err, domain.ErrNotAPost) {
			slog.InfoContext(ctx, "Cannot fetch announced object", "id", objectID, "error", err)
			return nil
		}
		return err
	}

	return d.Posts.AddRepost(ctx, post.ID, sender.ID)
}

func (d *Dispatcher) like(ctx context.Context, sender *domain.Account, activity *ap.Activity) error {
	post, err := d.Posts.ByAPID(ctx, activity.ObjectID())
	if domain.IsKind(err, domain.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	return d.Posts.AddLike(ctx, post.ID, sender.ID)
}

// delete handles both account and post deletion. Senders may only
// delete what they own.
func (d *Dispatcher) delete(ctx context.Context, sender *domain.Account, activity *ap.Activity) error {
	objectID := activity.ObjectID()
	if objectID == "" {
		return domain.E(domain.ErrInvalidType, "delete without object: %s", activity.ID)
	}

	if objectID == sender.APID {
		return d.Graph.RemoveAccountEdges(ctx, sender.ID)
	}

	post, err := d.Posts.ByAPID(ctx, objectID)
	if domain.IsKind(err, domain.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if err := post.Delete(sender.ID); err != nil {
		if domain.IsKind(err, domain.ErrNotAuthor) {
			slog.InfoContext(ctx, "Ignoring delete by non-author", "id", activity.ID, "actor", sender.APID)
			return nil
		}
		return err
	}
	return d.Posts.Save(ctx, post)
}

// update refreshes a profile or edits a post in place.
func (d *Dispatcher) update(ctx context.Context, sender *domain.Account, activity *ap.Activity) error {
	object, ok := activity.Object.(*ap.Object)
	if !ok {
		slog.InfoContext(ctx, "Ignoring update", "id", activity.ID)
		return nil
	}

	if object.ID == sender.APID {
		actor, err := d.Resolver.ResolveActor(ctx, sender.APID)
		if err != nil {
			return nil
		}
		refreshed := outbox.AccountFromActor(actor)
		refreshed.ID = sender.ID
		return d.Accounts.UpdateProfile(ctx, refreshed)
	}

	post, err := d.Posts.ByAPID(ctx, object.ID)
	if domain.IsKind(err, domain.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if post.AuthorID != sender.ID {
		slog.InfoContext(ctx, "Ignoring update by non-author", "id", activity.ID, "actor", sender.APID)
		return nil
	}

	if post.Type == domain.PostTypeArticle && object.Name != "" {
		if err := post.SetTitle(object.Name); err != nil {
			return err
		}
	}
	if object.Content != "" {
		if err := post.SetContent(object.Content); err != nil {
			return err
		}
	}
	return d.Posts.Save(ctx, post)
}

func (d *Dispatcher) ensurePost(ctx context.Context, apID string) (*domain.Post, error) {
	post, err := d.Posts.ByAPID(ctx, apID)
	if err == nil {
		return post, nil
	}
	if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, err
	}

	object, err := d.Resolver.ResolveObject(ctx, apID)
	if err != nil {
		return nil, err
	}
	if object.Type != ap.Note && object.Type != ap.Article && object.Type != ap.Page {
		return nil, domain.E(domain.ErrNotAPost, "%s is a %s", apID, object.Type)
	}
	if object.AttributedTo == "" {
		return nil, domain.E(domain.ErrMissingAuthor, "%s has no author", apID)
	}

	author, err := d.resolveSender(ctx, object.AttributedTo)
	if err != nil {
		return nil, domain.Wrap(domain.ErrLookup, err)
	}

	t := domain.PostTypeNote
	if object.Type == ap.Article || object.Type == ap.Page {
		t = domain.PostTypeArticle
	}

	post, err = domain.NewRemotePost(object.ID, t, author, object.Content, object.Name, object.URL, object.Published.Time)
	if err != nil {
		return nil, err
	}
	if err := d.Posts.Save(ctx, post); err != nil {
		if domain.IsKind(err, domain.ErrPostAlreadyExists) {
			return d.Posts.ByAPID(ctx, apID)
		}
		return nil, err
	}
	return post, nil
}
