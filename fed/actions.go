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
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/outbox"
)

// actionAccount loads the acting account for a local action. Actions
// always act as the site's single account; the {handle} route
// parameter names the follow target, not the actor.
func (l *Listener) actionAccount(r *http.Request) (*domain.Site, *domain.Account, error) {
	site := siteFrom(r.Context())
	account, err := l.Accounts.BySite(r.Context(), site.ID)
	return site, account, err
}

func (l *Listener) actionFollow(w http.ResponseWriter, r *http.Request) {
	site, account, err := l.actionAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}

	if err := l.Outbox.Follow(r.Context(), site, account, chi.URLParam(r, "handle")); err != nil {
		l.error(w, r, err)
		return
	}
	l.json(w, r, http.StatusOK, map[string]any{})
}

func (l *Listener) actionUnfollow(w http.ResponseWriter, r *http.Request) {
	site, account, err := l.actionAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}

	if err := l.Outbox.Unfollow(r.Context(), site, account, chi.URLParam(r, "handle")); err != nil {
		l.error(w, r, err)
		return
	}
	l.json(w, r, http.StatusOK, map[string]any{})
}

// postAction runs one of the reactions keyed by an URL-encoded
// canonical post URL.
func (l *Listener) postAction(w http.ResponseWriter, r *http.Request, action func(context.Context, *domain.Site, *domain.Account, string) error) {
	site, account, err := l.actionAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}

	apID, err := url.PathUnescape(chi.URLParam(r, "url"))
	if err != nil {
		l.error(w, r, domain.Wrap(domain.ErrInvalidType, err))
		return
	}

	if err := action(r.Context(), site, account, apID); err != nil {
		l.error(w, r, err)
		return
	}
	l.json(w, r, http.StatusOK, map[string]any{})
}

func (l *Listener) actionLike(w http.ResponseWriter, r *http.Request) {
	l.postAction(w, r, l.Outbox.Like)
}

func (l *Listener) actionUnlike(w http.ResponseWriter, r *http.Request) {
	l.postAction(w, r, l.Outbox.Unlike)
}

func (l *Listener) actionRepost(w http.ResponseWriter, r *http.Request) {
	l.postAction(w, r, l.Outbox.Repost)
}

func (l *Listener) actionDerepost(w http.ResponseWriter, r *http.Request) {
	l.postAction(w, r, l.Outbox.Derepost)
}

type noteRequest struct {
	Content string `json:"content"`
}

func (l *Listener) actionNote(w http.ResponseWriter, r *http.Request) {
	site, account, err := l.actionAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}

	var req noteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, l.Config.MaxRequestBodySize)).Decode(&req); err != nil {
		l.error(w, r, domain.Wrap(domain.ErrInvalidType, err))
		return
	}

	post, err := l.Outbox.CreateNote(r.Context(), site, account, req.Content)
	if err != nil {
		l.error(w, r, err)
		return
	}

	l.json(w, r, http.StatusOK, outbox.ObjectFor(post, account))
}

func (l *Listener) actionReply(w http.ResponseWriter, r *http.Request) {
	site, account, err := l.actionAccount(r)
	if err != nil {
		l.error(w, r, err)
		return
	}

	parent, err := url.PathUnescape(chi.URLParam(r, "url"))
	if err != nil {
		l.error(w, r, domain.Wrap(domain.ErrInvalidType, err))
		return
	}

	var req noteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, l.Config.MaxRequestBodySize)).Decode(&req); err != nil {
		l.error(w, r, domain.Wrap(domain.ErrInvalidType, err))
		return
	}

	post, err := l.Outbox.Reply(r.Context(), site, account, parent, req.Content)
	if err != nil {
		l.error(w, r, err)
		return
	}

	l.json(w, r, http.StatusOK, outbox.ObjectFor(post, account))
}
