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

// Package inbox dispatches incoming federated activities and derives
// the feed and notification projections from domain events.
package inbox

import (
	"context"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
)

// The dispatcher depends on narrow store interfaces so activity
// handling is testable without a database.

type AccountStore interface {
	BySite(ctx context.Context, siteID int64) (*domain.Account, error)
	ByID(ctx context.Context, id int64) (*domain.Account, error)
	ByAPID(ctx context.Context, apID string) (*domain.Account, error)
	CreateExternal(ctx context.Context, a *domain.Account) (*domain.Account, error)
	UpdateProfile(ctx context.Context, a *domain.Account) error
	Save(ctx context.Context, a *domain.Account) error
}

type PostStore interface {
	ByAPID(ctx context.Context, apID string) (*domain.Post, error)
	Save(ctx context.Context, p *domain.Post) error
	AddLike(ctx context.Context, postID, accountID int64) error
	RemoveLike(ctx context.Context, postID, accountID int64) error
	AddRepost(ctx context.Context, postID, accountID int64) error
	RemoveRepost(ctx context.Context, postID, accountID int64) error
}

type SiteStore interface {
	ByID(ctx context.Context, id int64) (*domain.Site, error)
}

type GraphStore interface {
	IsFollowing(ctx context.Context, followerID, followingID int64) (bool, error)
	IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error)
	RemoveAccountEdges(ctx context.Context, accountID int64) error
}

type KVStore interface {
	Set(ctx context.Context, key string, value []byte) error
}

type Resolver interface {
	ResolveActor(ctx context.Context, id string) (*ap.Actor, error)
	ResolveObject(ctx context.Context, id string) (*ap.Object, error)
}

// Acceptor acknowledges incoming follows.
type Acceptor interface {
	AcceptFollow(ctx context.Context, site *domain.Site, followee *domain.Account, follow *ap.Activity, followerInbox string) error
}
