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

package domain

// Event is a domain event recorded by an aggregate. Repositories
// apply each event's side-effect in the same transaction as the
// aggregate save and publish the event to the in-process bus after
// commit.
type Event interface {
	EventName() string
}

type AccountFollowed struct {
	FollowerID  int64
	FollowingID int64
}

func (AccountFollowed) EventName() string { return "account.followed" }

type AccountUnfollowed struct {
	FollowerID  int64
	FollowingID int64
}

func (AccountUnfollowed) EventName() string { return "account.unfollowed" }

type AccountBlocked struct {
	BlockerID int64
	BlockedID int64
}

func (AccountBlocked) EventName() string { return "account.blocked" }

type AccountUnblocked struct {
	BlockerID int64
	BlockedID int64
}

func (AccountUnblocked) EventName() string { return "account.unblocked" }

type DomainBlocked struct {
	BlockerID int64
	Domain    string
}

func (DomainBlocked) EventName() string { return "domain.blocked" }

type DomainUnblocked struct {
	BlockerID int64
	Domain    string
}

func (DomainUnblocked) EventName() string { return "domain.unblocked" }

type PostCreated struct {
	Post *Post
}

func (PostCreated) EventName() string { return "post.created" }

type PostDeleted struct {
	Post *Post
}

func (PostDeleted) EventName() string { return "post.deleted" }

type PostLiked struct {
	PostID    int64
	AuthorID  int64
	AccountID int64
}

func (PostLiked) EventName() string { return "post.liked" }

type PostDisliked struct {
	PostID    int64
	AuthorID  int64
	AccountID int64
}

func (PostDisliked) EventName() string { return "post.disliked" }

type PostReposted struct {
	PostID    int64
	AuthorID  int64
	AccountID int64
}

func (PostReposted) EventName() string { return "post.reposted" }

type PostDereposted struct {
	PostID    int64
	AuthorID  int64
	AccountID int64
}

func (PostDereposted) EventName() string { return "post.dereposted" }

type MentionCreated struct {
	PostID      int64
	AuthorID    int64
	MentionedID int64
}

func (MentionCreated) EventName() string { return "mention.created" }
