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
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/outbox"
)

// actor serves the tenant's actor document.
func (l *Listener) actor(w http.ResponseWriter, r *http.Request) {
	account, err := l.siteAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}

	l.json(w, r, http.StatusOK, actorDocument(account))
}

func actorDocument(account *domain.Account) *ap.Actor {
	actor := &ap.Actor{
		Context:           ap.Context,
		ID:                account.APID,
		Type:              ap.Person,
		PreferredUsername: account.Username,
		Name:              account.Name,
		Summary:           account.Bio,
		URL:               account.URL,
		Inbox:             account.APInbox,
		Outbox:            account.APOutbox,
		Followers:         account.APFollowers,
		Following:         account.APFollowing,
		Liked:             account.APLiked,
		PublicKey: ap.PublicKey{
			ID:           account.APID + "#main-key",
			Owner:        account.APID,
			PublicKeyPem: account.APPublicKey,
		},
	}

	if account.APSharedInbox != "" {
		actor.Endpoints = map[string]string{"sharedInbox": account.APSharedInbox}
	}
	if account.AvatarURL != "" {
		actor.Icon = &ap.Attachment{Type: "Image", URL: account.AvatarURL}
	}
	if account.BannerImageURL != "" {
		actor.Image = &ap.Attachment{Type: "Image", URL: account.BannerImageURL}
	}

	return actor
}

// object serves a post by the trailing UUID of its canonical URL.
func (l *Listener) object(w http.ResponseWriter, r *http.Request) {
	site := siteFrom(r.Context())

	kind := domain.PostTypeArticle
	if strings.Contains(chi.RouteContext(r.Context()).RoutePattern(), "/note/") {
		kind = domain.PostTypeNote
	}

	apID := domain.APIDFor(site.Origin(), kind, chi.URLParam(r, "id"))

	post, err := l.Posts.ByAPID(r.Context(), apID)
	if err != nil {
		l.error(w, r, err)
		return
	}

	author, err := l.Accounts.ByID(r.Context(), post.AuthorID)
	if err != nil {
		l.error(w, r, err)
		return
	}

	if post.Deleted {
		l.json(w, r, http.StatusOK, &ap.Object{
			Context: ap.Context,
			ID:      post.APID,
			Type:    ap.Tombstone,
		})
		return
	}

	object := outbox.ObjectFor(post, author)
	object.Context = ap.Context
	l.json(w, r, http.StatusOK, object)
}
