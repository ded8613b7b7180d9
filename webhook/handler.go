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

package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/outbox"
)

type SiteStore interface {
	ByHost(ctx context.Context, host string) (*domain.Site, error)
}

type AccountStore interface {
	BySite(ctx context.Context, siteID int64) (*domain.Account, error)
}

// ArticleOutbox is the slice of the outbox that federates the blog
// post lifecycle.
type ArticleOutbox interface {
	PublishArticle(ctx context.Context, site *domain.Site, author *domain.Account, in outbox.ArticleInput) (*domain.Post, error)
	UpdateArticle(ctx context.Context, site *domain.Site, author *domain.Account, in outbox.ArticleInput) (*domain.Post, error)
	DeleteArticle(ctx context.Context, site *domain.Site, author *domain.Account, ghostUUID string) error
}

// Handler terminates blog webhooks for all tenants. The tenant is
// looked up by the request host and authenticates the payload with
// its own secret.
type Handler struct {
	Config   *cfg.Config
	Sites    SiteStore
	Accounts AccountStore
	Outbox   ArticleOutbox
}

// postResponse is the body of a successful publish or update: the
// blog learns which canonical URL its post federated under.
type postResponse struct {
	UUID string `json:"uuid"`
	APID string `json:"ap_id"`
	URL  string `json:"url"`
}

// authenticate resolves the tenant and verifies the signature over
// the raw body. Signature failures always produce a bare 401.
func (h *Handler) authenticate(r *http.Request) (*domain.Site, *domain.Account, []byte, error) {
	host := r.Host
	if split, _, err := net.SplitHostPort(host); err == nil {
		host = split
	}

	site, err := h.Sites.ByHost(r.Context(), strings.ToLower(host))
	if err != nil {
		return nil, nil, nil, err
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.Config.MaxRequestBodySize))
	if err != nil {
		return nil, nil, nil, domain.Wrap(domain.ErrInvalidType, err)
	}

	if err := VerifySignature(r.Header.Get("X-Ghost-Signature"), body, site.WebhookSecret, h.Config.WebhookTolerance, time.Now()); err != nil {
		return nil, nil, nil, err
	}

	account, err := h.Accounts.BySite(r.Context(), site.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	return site, account, body, nil
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, site *domain.Site, account *domain.Account, post *GhostPost) (*domain.Post, error)) {
	site, account, body, err := h.authenticate(r)
	if err != nil {
		h.error(w, r, err)
		return
	}

	post, err := parsePayload(body)
	if err != nil {
		h.error(w, r, err)
		return
	}

	mapped, err := op(r.Context(), site, account, post)
	if err != nil {
		h.error(w, r, err)
		return
	}

	if mapped == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Echo the federation mapping back so the blog learns the
	// canonical URL of its post.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(postResponse{
		UUID: mapped.UUID,
		APID: mapped.APID,
		URL:  mapped.URL,
	})
}

// PostPublished federates a newly published blog post.
func (h *Handler) PostPublished(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context, site *domain.Site, account *domain.Account, post *GhostPost) (*domain.Post, error) {
		mapped, err := h.Outbox.PublishArticle(ctx, site, account, post.ArticleInput())
		if domain.IsKind(err, domain.ErrPrivateContent) || domain.IsKind(err, domain.ErrMissingContent) {
			// Not an error from the blog's point of view: the
			// post simply never federates.
			slog.InfoContext(ctx, "Skipping non-federable post", "ghostUuid", post.UUID, "kind", domain.KindOf(err))
			return nil, nil
		}
		return mapped, err
	})
}

// PostUpdated federates an edit, or retracts the post if it became
// private.
func (h *Handler) PostUpdated(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context, site *domain.Site, account *domain.Account, post *GhostPost) (*domain.Post, error) {
		mapped, err := h.Outbox.UpdateArticle(ctx, site, account, post.ArticleInput())
		if domain.IsKind(err, domain.ErrPrivateContent) || domain.IsKind(err, domain.ErrMissingContent) {
			slog.InfoContext(ctx, "Retracted non-federable post", "ghostUuid", post.UUID, "kind", domain.KindOf(err))
			return nil, nil
		}
		return mapped, err
	})
}

// PostDeleted retracts a deleted blog post.
func (h *Handler) PostDeleted(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context, site *domain.Site, account *domain.Account, post *GhostPost) (*domain.Post, error) {
		return nil, h.Outbox.DeleteArticle(ctx, site, account, post.UUID)
	})
}

func (h *Handler) error(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)

	slog.InfoContext(r.Context(), "Webhook rejected", "path", r.URL.Path, "kind", kind, "error", err)

	switch kind {
	case domain.ErrSignatureInvalid:
		// No body on authentication failures.
		w.WriteHeader(http.StatusUnauthorized)
	case domain.ErrInvalidType, domain.ErrMissingAuthor:
		http.Error(w, string(kind), http.StatusBadRequest)
	case domain.ErrPostAlreadyExists:
		http.Error(w, string(kind), http.StatusConflict)
	case domain.ErrNotFound:
		http.Error(w, string(kind), http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
