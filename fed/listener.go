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

// Package fed is the federation edge: the HTTP listener serving the
// ActivityPub surface of every tenant, signed delivery to remote
// inboxes and the document loader.
package fed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/db"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/outbox"
	"github.com/fedibox/fedibox/queue"
	"github.com/fedibox/fedibox/webhook"
)

const apContentType = `application/activity+json`

// Listener serves the per-tenant ActivityPub surface. The tenant is
// selected by the request's host.
type Listener struct {
	Config   *cfg.Config
	Sites    *db.Sites
	Accounts *db.Accounts
	Posts    *db.Posts
	Follows  *db.Follows
	Feeds    *db.Feeds
	Resolver *Resolver
	Queue    queue.Queue
	Outbox   *outbox.Service
	Webhook  *webhook.Handler
}

type contextKey int

const siteKey contextKey = 0

func siteFrom(ctx context.Context) *domain.Site {
	site, _ := ctx.Value(siteKey).(*domain.Site)
	return site
}

// Router builds the HTTP routes. The push subscription endpoint is
// mounted outside the tenant prefix: it is called by the queue
// transport, not by federated peers.
func (l *Listener) Router(push http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/.well-known/webfinger", l.withSiteFunc(l.webfinger))
	r.Get("/.well-known/nodeinfo", l.withSiteFunc(l.nodeinfoIndex))
	r.Get("/nodeinfo/2.1", l.withSiteFunc(l.nodeinfo))

	if push != nil {
		r.Post("/internal/queue/push", push)
	}

	r.Route("/.ghost/activitypub", func(r chi.Router) {
		r.Use(l.withSite)

		r.Get("/users/{handle}", l.actor)
		r.Get("/inbox/{handle}", l.inboxCollection)
		r.Post("/inbox/{handle}", l.postInbox)
		r.Get("/outbox/{handle}", l.outboxCollection)
		r.Get("/followers/{handle}", l.followers)
		r.Get("/following/{handle}", l.following)
		r.Get("/liked/{handle}", l.liked)
		r.Get("/article/{id}", l.object)
		r.Get("/note/{id}", l.object)

		r.Post("/actions/follow/{handle}", l.actionFollow)
		r.Post("/actions/unfollow/{handle}", l.actionUnfollow)
		r.Post("/actions/like/{url}", l.actionLike)
		r.Post("/actions/unlike/{url}", l.actionUnlike)
		r.Post("/actions/repost/{url}", l.actionRepost)
		r.Post("/actions/derepost/{url}", l.actionDerepost)
		r.Post("/actions/note", l.actionNote)
		r.Post("/actions/reply/{url}", l.actionReply)

		r.Post("/webhooks/post/published", l.Webhook.PostPublished)
		r.Post("/webhooks/post/updated", l.Webhook.PostUpdated)
		r.Post("/webhooks/post/deleted", l.Webhook.PostDeleted)
	})

	return r
}

// withSite resolves the tenant by the request host and rejects
// disabled tenants.
func (l *Listener) withSite(next http.Handler) http.Handler {
	return l.withSiteFunc(next.ServeHTTP)
}

func (l *Listener) withSiteFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}

		site, err := l.Sites.ByHost(r.Context(), strings.ToLower(host))
		if err != nil {
			l.error(w, r, err)
			return
		}
		if site.Disabled {
			l.error(w, r, domain.E(domain.ErrSiteDisabled, "site %s is disabled", site.Host))
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), siteKey, site)))
	}
}

// siteAccount loads the site's internal account and checks the
// {handle} path parameter against its username.
func (l *Listener) siteAccount(r *http.Request) (*domain.Account, error) {
	site := siteFrom(r.Context())

	account, err := l.Accounts.BySite(r.Context(), site.ID)
	if err != nil {
		return nil, err
	}

	if handle := chi.URLParam(r, "handle"); handle != "" && handle != account.Username {
		return nil, domain.E(domain.ErrNotFound, "no user %s", handle)
	}

	return account, nil
}

func (l *Listener) json(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", apContentType)
	w.WriteHeader(status)
	l.writeJSON(w, r, v)
}

// writeJSON encodes without touching headers; the caller sets the
// content type first.
func (l *Listener) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(r.Context(), "Failed to encode response", "path", r.URL.Path, "error", err)
	}
}

// error maps a domain error kind to its HTTP status. Untagged errors
// are internal and never leak details to the client.
func (l *Listener) error(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch domain.KindOf(err) {
	case domain.ErrNotFound, domain.ErrLookup:
		status = http.StatusNotFound
	case domain.ErrInvalidType, domain.ErrMissingContent, domain.ErrNotAPost, domain.ErrMissingAuthor, domain.ErrSelfFollow:
		status = http.StatusBadRequest
	case domain.ErrAlreadyFollowing, domain.ErrNotFollowing, domain.ErrPostAlreadyExists:
		status = http.StatusConflict
	case domain.ErrSignatureInvalid:
		status = http.StatusUnauthorized
	case domain.ErrSiteDisabled, domain.ErrNotAuthor, domain.ErrPrivateContent:
		status = http.StatusForbidden
	case domain.ErrQueueNotReady:
		status = http.StatusTooManyRequests
	case domain.ErrUpstream:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", status)
		return
	}

	slog.InfoContext(r.Context(), "Request rejected", "method", r.Method, "path", r.URL.Path, "kind", domain.KindOf(err), "error", err)

	if status == http.StatusUnauthorized {
		// Signature failures carry no body.
		w.WriteHeader(status)
		return
	}

	http.Error(w, string(domain.KindOf(err)), status)
}
