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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/domain"
)

// KVStore caches fetched documents by canonical URL.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Resolver is the document loader: it fetches remote actors and
// objects over HTTPS and caches actors in the KV store.
type Resolver struct {
	Config *cfg.Config
	Client *http.Client
	KV     KVStore
}

type cachedActor struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Actor     *ap.Actor `json:"actor"`
}

// ResolveActor returns the actor document behind an actor URL or key
// id, consulting the cache first. The fragment of a key id is
// dropped before fetching.
func (r *Resolver) ResolveActor(ctx context.Context, id string) (*ap.Actor, error) {
	id, _, _ = strings.Cut(id, "#")

	if _, err := ap.Origin(id); err != nil {
		return nil, domain.Wrap(domain.ErrLookup, err)
	}

	key := "actor:" + strings.ToLower(id)
	if r.KV != nil {
		if raw, err := r.KV.Get(ctx, key); err == nil {
			var cached cachedActor
			if err := json.Unmarshal(raw, &cached); err == nil && cached.Actor != nil && time.Since(cached.FetchedAt) < r.Config.ResolverCacheTTL {
				return cached.Actor, nil
			}
		}
	}

	raw, err := r.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	var actor ap.Actor
	if err := json.Unmarshal(raw, &actor); err != nil {
		return nil, domain.Wrap(domain.ErrLookup, fmt.Errorf("failed to decode actor %s: %w", id, err))
	}
	if actor.ID == "" || actor.Inbox == "" {
		return nil, domain.E(domain.ErrLookup, "incomplete actor %s", id)
	}

	if r.KV != nil {
		cached, err := json.Marshal(cachedActor{FetchedAt: time.Now().UTC(), Actor: &actor})
		if err == nil {
			if err := r.KV.Set(ctx, key, cached); err != nil {
				slog.WarnContext(ctx, "Failed to cache actor", "actor", id, "error", err)
			}
		}
	}

	return &actor, nil
}

// ResolveObject fetches a remote post by its canonical URL.
func (r *Resolver) ResolveObject(ctx context.Context, id string) (*ap.Object, error) {
	raw, err := r.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	var object ap.Object
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, domain.Wrap(domain.ErrLookup, fmt.Errorf("failed to decode object %s: %w", id, err))
	}
	if object.ID == "" {
		return nil, domain.E(domain.ErrLookup, "incomplete object %s", id)
	}
	return &object, nil
}

type webfingerResponse struct {
	Links []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// ResolveHandle discovers an actor through WebFinger on the handle's
// host, then fetches the actor document.
func (r *Resolver) ResolveHandle(ctx context.Context, user, host string) (*ap.Actor, error) {
	u := fmt.Sprintf(
		"https://%s/.well-known/webfinger?resource=%s",
		host,
		url.QueryEscape(fmt.Sprintf("acct:%s@%s", user, host)),
	)

	raw, err := r.fetch(ctx, u)
	if err != nil {
		return nil, err
	}

	var finger webfingerResponse
	if err := json.Unmarshal(raw, &finger); err != nil {
		return nil, domain.Wrap(domain.ErrLookup, fmt.Errorf("failed to decode webfinger for %s@%s: %w", user, host, err))
	}

	for _, link := range finger.Links {
		if link.Rel == "self" && link.Href != "" && strings.Contains(link.Type, "activity+json") {
			return r.ResolveActor(ctx, link.Href)
		}
	}

	return nil, domain.E(domain.ErrLookup, "no actor link for %s@%s", user, host)
}

func (r *Resolver) fetch(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Config.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, domain.Wrap(domain.ErrLookup, err)
	}
	req.Header.Set("Accept", `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.ErrLookup, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.E(domain.ErrLookup, "failed to fetch %s: %d", id, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, r.Config.MaxResponseBodySize))
	if err != nil {
		return nil, domain.Wrap(domain.ErrLookup, err)
	}
	return raw, nil
}
