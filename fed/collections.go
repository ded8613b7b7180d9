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

package fed

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	"github.com/fedibox/fedibox/db"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/outbox"
)

// collection is an OrderedCollection container pointing at its first
// page.
type collection struct {
	Context    any    `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int64  `json:"totalItems"`
	First      string `json:"first,omitempty"`
}

// collectionPage is one page of an OrderedCollection.
type collectionPage struct {
	Context      any    `json:"@context"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	PartOf       string `json:"partOf"`
	OrderedItems []any  `json:"orderedItems"`
	Next         string `json:"next,omitempty"`
}

type pageFunc func(ctx context.Context, accountID int64, cursor string, limit int) (*db.CollectionPage, error)
type countFunc func(ctx context.Context, accountID int64) (int64, error)

// serveCollection renders either the container (no cursor) or one
// page of items, reverse chronological.
func (l *Listener) serveCollection(w http.ResponseWriter, r *http.Request, base string, count countFunc, page pageFunc) {
	account, err := l.siteAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}

	cursor := r.URL.Query().Get("cursor")
	if cursor == "" && !r.URL.Query().Has("cursor") {
		total, err := count(r.Context(), account.ID)
		if err != nil {
			l.error(w, r, err)
			return
		}

		l.json(w, r, http.StatusOK, collection{
			Context:    "https://www.w3.org/ns/activitystreams",
			ID:         base,
			Type:       "OrderedCollection",
			TotalItems: total,
			First:      base + "?cursor=",
		})
		return
	}

	p, err := page(r.Context(), account.ID, cursor, l.Config.ItemsPerPage)
	if err != nil {
		l.error(w, r, err)
		return
	}

	items := make([]any, 0, len(p.IDs))
	for _, id := range p.IDs {
		items = append(items, id)
	}

	out := collectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		ID:           base + "?cursor=" + url.QueryEscape(cursor),
		Type:         "OrderedCollectionPage",
		PartOf:       base,
		OrderedItems: items,
	}
	if p.Next != "" {
		out.Next = base + "?cursor=" + url.QueryEscape(p.Next)
	}

	l.json(w, r, http.StatusOK, out)
}

func (l *Listener) followers(w http.ResponseWriter, r *http.Request) {
	account, err := l.siteAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}
	l.serveCollection(w, r, account.APFollowers, l.Follows.FollowerCount, l.Follows.Followers)
}

func (l *Listener) following(w http.ResponseWriter, r *http.Request) {
	account, err := l.siteAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}
	l.serveCollection(w, r, account.APFollowing, l.Follows.FollowingCount, l.Follows.Following)
}

func (l *Listener) liked(w http.ResponseWriter, r *http.Request) {
	account, err := l.siteAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}
	l.serveCollection(w, r, account.APLiked, l.Follows.LikedCount, l.Follows.Liked)
}

func (l *Listener) outboxCollection(w http.ResponseWriter, r *http.Request) {
	account, err := l.siteAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}
	l.serveCollection(w, r, account.APOutbox, l.Follows.OutboxCount, l.Follows.Outbox)
}

// inboxCollection serves the site's own feed. It is not a federated
// endpoint: the caller authenticates with the tenant's webhook
// secret as a bearer token.
func (l *Listener) inboxCollection(w http.ResponseWriter, r *http.Request) {
	site := siteFrom(r.Context())

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(site.WebhookSecret)) == 0 {
		l.error(w, r, domain.E(domain.ErrSignatureInvalid, "invalid inbox token"))
		return
	}

	account, err := l.siteAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}

	userID, err := l.Accounts.UserIDFor(r.Context(), account.ID)
	if err != nil {
		l.error(w, r, err)
		return
	}

	entries, next, err := l.Feeds.Page(r.Context(), userID, r.URL.Query().Get("cursor"), l.Config.ItemsPerPage)
	if err != nil {
		l.error(w, r, err)
		return
	}

	items := make([]any, 0, len(entries))
	for _, entry := range entries {
		post, err := l.Posts.ByID(r.Context(), entry.PostID)
		if err != nil {
			continue
		}
		author, err := l.Accounts.ByID(r.Context(), entry.AuthorID)
		if err != nil {
			continue
		}
		items = append(items, outbox.ObjectFor(post, author))
	}

	base := account.APInbox
	out := collectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		ID:           base,
		Type:         "OrderedCollectionPage",
		PartOf:       base,
		OrderedItems: items,
	}
	if next != "" {
		out.Next = base + "?cursor=" + url.QueryEscape(next)
	}

	l.json(w, r, http.StatusOK, out)
}
