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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/outbox"
)

type mockSites struct {
	site *domain.Site
}

func (m *mockSites) ByHost(ctx context.Context, host string) (*domain.Site, error) {
	if m.site != nil && m.site.Host == host {
		return m.site, nil
	}
	return nil, domain.E(domain.ErrNotFound, "no site for host %s", host)
}

type mockAccounts struct {
	account *domain.Account
}

func (m *mockAccounts) BySite(ctx context.Context, siteID int64) (*domain.Account, error) {
	return m.account, nil
}

type mockOutbox struct {
	published []outbox.ArticleInput
	updated   []outbox.ArticleInput
	deleted   []string
	post      *domain.Post
	err       error
}

func (m *mockOutbox) PublishArticle(ctx context.Context, site *domain.Site, author *domain.Account, in outbox.ArticleInput) (*domain.Post, error) {
	m.published = append(m.published, in)
	return m.post, m.err
}

func (m *mockOutbox) UpdateArticle(ctx context.Context, site *domain.Site, author *domain.Account, in outbox.ArticleInput) (*domain.Post, error) {
	m.updated = append(m.updated, in)
	return m.post, m.err
}

func (m *mockOutbox) DeleteArticle(ctx context.Context, site *domain.Site, author *domain.Account, ghostUUID string) error {
	m.deleted = append(m.deleted, ghostUUID)
	return m.err
}

func newHandler(out *mockOutbox) *Handler {
	c := &cfg.Config{}
	c.FillDefaults()
	return &Handler{
		Config:   c,
		Sites:    &mockSites{site: &domain.Site{ID: 1, Host: "blog.example", WebhookSecret: "secret"}},
		Accounts: &mockAccounts{account: &domain.Account{ID: 1, APID: "https://blog.example/.ghost/activitypub/users/index", APPrivateKey: "key"}},
		Outbox:   out,
	}
}

func webhookRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()

	r := httptest.NewRequest(http.MethodPost, "https://blog.example/.ghost/activitypub/webhooks/post/published", bytes.NewReader(body))
	r.Header.Set("X-Ghost-Signature", sign(body, "secret", time.Now()))
	return r
}

func TestHandlerPostPublished(t *testing.T) {
	out := &mockOutbox{post: &domain.Post{
		ID:   7,
		UUID: "f00f5f3a-1c33-44a8-ae39-43578bfa4768",
		APID: "https://blog.example/.ghost/activitypub/article/abc",
		URL:  "https://blog.example/hello/",
	}}
	h := newHandler(out)

	body := []byte(`{"post":{"current":{"uuid":"g-1","title":"Hello","html":"<p>x</p>","url":"https://blog.example/hello/","visibility":"public"}}}`)
	w := httptest.NewRecorder()
	h.PostPublished(w, webhookRequest(t, body))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, out.published, 1)
	assert.Equal(t, "g-1", out.published[0].UUID)

	// The blog learns where its post federated to.
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp struct {
		UUID string `json:"uuid"`
		APID string `json:"ap_id"`
		URL  string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, out.post.UUID, resp.UUID)
	assert.Equal(t, out.post.APID, resp.APID)
	assert.Equal(t, out.post.URL, resp.URL)
}

func TestHandlerPostPublishedPrivate(t *testing.T) {
	out := &mockOutbox{err: domain.E(domain.ErrPrivateContent, "not public")}
	h := newHandler(out)

	body := []byte(`{"post":{"current":{"uuid":"g-1","visibility":"members"}}}`)
	w := httptest.NewRecorder()
	h.PostPublished(w, webhookRequest(t, body))

	// Private posts are acknowledged without a mapping.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestHandlerPostPublishedConflict(t *testing.T) {
	out := &mockOutbox{err: domain.E(domain.ErrPostAlreadyExists, "already mapped")}
	h := newHandler(out)

	body := []byte(`{"post":{"current":{"uuid":"g-1","html":"<p>x</p>","visibility":"public"}}}`)
	w := httptest.NewRecorder()
	h.PostPublished(w, webhookRequest(t, body))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), string(domain.ErrPostAlreadyExists))
}

func TestHandlerPostUpdated(t *testing.T) {
	out := &mockOutbox{post: &domain.Post{UUID: "p", APID: "https://blog.example/.ghost/activitypub/article/abc", URL: "https://blog.example/hello/"}}
	h := newHandler(out)

	body := []byte(`{"post":{"current":{"uuid":"g-1","title":"Hello 2","html":"<p>y</p>","visibility":"public"}}}`)
	w := httptest.NewRecorder()
	h.PostUpdated(w, webhookRequest(t, body))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, out.updated, 1)
	assert.Contains(t, w.Body.String(), out.post.APID)
}

func TestHandlerPostDeleted(t *testing.T) {
	out := &mockOutbox{}
	h := newHandler(out)

	body := []byte(`{"post":{"previous":{"uuid":"g-1"}}}`)
	w := httptest.NewRecorder()
	h.PostDeleted(w, webhookRequest(t, body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.Equal(t, []string{"g-1"}, out.deleted)
}

func TestHandlerBadSignature(t *testing.T) {
	out := &mockOutbox{}
	h := newHandler(out)

	body := []byte(`{"post":{"current":{"uuid":"g-1"}}}`)
	r := httptest.NewRequest(http.MethodPost, "https://blog.example/.ghost/activitypub/webhooks/post/published", bytes.NewReader(body))
	r.Header.Set("X-Ghost-Signature", sign(body, "wrong", time.Now()))

	w := httptest.NewRecorder()
	h.PostPublished(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.Empty(t, out.published)
}

func TestHandlerUnknownHost(t *testing.T) {
	out := &mockOutbox{}
	h := newHandler(out)

	body := []byte(`{"post":{"current":{"uuid":"g-1"}}}`)
	r := httptest.NewRequest(http.MethodPost, "https://other.example/.ghost/activitypub/webhooks/post/published", bytes.NewReader(body))
	r.Header.Set("X-Ghost-Signature", sign(body, "secret", time.Now()))

	w := httptest.NewRecorder()
	h.PostPublished(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
