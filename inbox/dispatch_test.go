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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/domain"
)

type mockSites struct {
	site *domain.Site
}

func (m *mockSites) ByID(ctx context.Context, id int64) (*domain.Site, error) {
	if m.site == nil || m.site.ID != id {
		return nil, domain.E(domain.ErrNotFound, "no site %d", id)
	}
	return m.site, nil
}

type mockAccounts struct {
	accounts []*domain.Account
	nextID   int64

	saved    [][]domain.Event
	profiles []*domain.Account
}

func (m *mockAccounts) BySite(ctx context.Context, siteID int64) (*domain.Account, error) {
	for _, a := range m.accounts {
		if a.IsInternal() {
			return a, nil
		}
	}
	return nil, domain.E(domain.ErrNotFound, "no account for site %d", siteID)
}

func (m *mockAccounts) ByID(ctx context.Context, id int64) (*domain.Account, error) {
	for _, a := range m.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, domain.E(domain.ErrNotFound, "no account %d", id)
}

func (m *mockAccounts) ByAPID(ctx context.Context, apID string) (*domain.Account, error) {
	for _, a := range m.accounts {
		if a.APID == apID {
			return a, nil
		}
	}
	return nil, domain.E(domain.ErrNotFound, "no account %s", apID)
}

func (m *mockAccounts) CreateExternal(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	m.nextID++
	a.ID = m.nextID
	m.accounts = append(m.accounts, a)
	return a, nil
}

func (m *mockAccounts) UpdateProfile(ctx context.Context, a *domain.Account) error {
	m.profiles = append(m.profiles, a)
	return nil
}

func (m *mockAccounts) Save(ctx context.Context, a *domain.Account) error {
	m.saved = append(m.saved, a.PullEvents())
	return nil
}

type mockPosts struct {
	posts  []*domain.Post
	nextID int64

	likes    map[[2]int64]bool
	reposts  map[[2]int64]bool
	saveErr  error
	saved    []*domain.Post
	events   [][]domain.Event
	unsliked [][2]int64
}

func newMockPosts() *mockPosts {
	return &mockPosts{likes: map[[2]int64]bool{}, reposts: map[[2]int64]bool{}}
}

func (m *mockPosts) ByAPID(ctx context.Context, apID string) (*domain.Post, error) {
	for _, p := range m.posts {
		if p.APID == apID {
			return p, nil
		}
	}
	return nil, domain.E(domain.ErrNotFound, "no post %s", apID)
}

func (m *mockPosts) Save(ctx context.Context, p *domain.Post) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if p.ID == 0 {
		m.nextID++
		p.ID = m.nextID
		m.posts = append(m.posts, p)
	}
	m.events = append(m.events, p.PullEvents())
	m.saved = append(m.saved, p)
	return nil
}

func (m *mockPosts) AddLike(ctx context.Context, postID, accountID int64) error {
	m.likes[[2]int64{postID, accountID}] = true
	return nil
}

func (m *mockPosts) RemoveLike(ctx context.Context, postID, accountID int64) error {
	m.unsliked = append(m.unsliked, [2]int64{postID, accountID})
	delete(m.likes, [2]int64{postID, accountID})
	return nil
}

func (m *mockPosts) AddRepost(ctx context.Context, postID, accountID int64) error {
	m.reposts[[2]int64{postID, accountID}] = true
	return nil
}

func (m *mockPosts) RemoveRepost(ctx context.Context, postID, accountID int64) error {
	delete(m.reposts, [2]int64{postID, accountID})
	return nil
}

type mockGraph struct {
	following map[[2]int64]bool
	blocked   map[[2]int64]bool
	severed   []int64
}

func newMockGraph() *mockGraph {
	return &mockGraph{following: map[[2]int64]bool{}, blocked: map[[2]int64]bool{}}
}

func (m *mockGraph) IsFollowing(ctx context.Context, followerID, followingID int64) (bool, error) {
	return m.following[[2]int64{followerID, followingID}], nil
}

func (m *mockGraph) IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error) {
	return m.blocked[[2]int64{blockerID, blockedID}], nil
}

func (m *mockGraph) RemoveAccountEdges(ctx context.Context, accountID int64) error {
	m.severed = append(m.severed, accountID)
	return nil
}

type mockKV struct {
	values map[string][]byte
}

func (m *mockKV) Set(ctx context.Context, key string, value []byte) error {
	if m.values == nil {
		m.values = map[string][]byte{}
	}
	m.values[key] = value
	return nil
}

type mockResolver struct {
	actors  map[string]*ap.Actor
	objects map[string]*ap.Object
}

func (m *mockResolver) ResolveActor(ctx context.Context, id string) (*ap.Actor, error) {
	if actor, ok := m.actors[id]; ok {
		return actor, nil
	}
	return nil, domain.E(domain.ErrLookup, "cannot fetch %s", id)
}

func (m *mockResolver) ResolveObject(ctx context.Context, id string) (*ap.Object, error) {
	if object, ok := m.objects[id]; ok {
		return object, nil
	}
	return nil, domain.E(domain.ErrLookup, "cannot fetch %s", id)
}

type acceptCall struct {
	Follow *ap.Activity
	Inbox  string
}

type mockAcceptor struct {
	accepted []acceptCall
}

func (m *mockAcceptor) AcceptFollow(ctx context.Context, site *domain.Site, followee *domain.Account, follow *ap.Activity, followerInbox string) error {
	m.accepted = append(m.accepted, acceptCall{follow, followerInbox})
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	sites      *mockSites
	accounts   *mockAccounts
	posts      *mockPosts
	graph      *mockGraph
	kv         *mockKV
	resolver   *mockResolver
	acceptor   *mockAcceptor

	recipient *domain.Account
	sender    *domain.Account
}

const (
	recipientAPID = "https://blog.example/.ghost/activitypub/users/index"
	senderAPID    = "https://mastodon.example/users/bob"
)

func newFixture() *fixture {
	recipient := &domain.Account{
		ID:           1,
		Username:     "index",
		APID:         recipientAPID,
		APInbox:      "https://blog.example/.ghost/activitypub/inbox/index",
		APPrivateKey: "key",
	}
	sender := &domain.Account{
		ID:      2,
		APID:    senderAPID,
		APInbox: "https://mastodon.example/users/bob/inbox",
	}

	f := &fixture{
		sites:     &mockSites{site: &domain.Site{ID: 1, Host: "blog.example"}},
		accounts:  &mockAccounts{accounts: []*domain.Account{recipient, sender}, nextID: 2},
		posts:     newMockPosts(),
		graph:     newMockGraph(),
		kv:        &mockKV{},
		resolver:  &mockResolver{actors: map[string]*ap.Actor{}, objects: map[string]*ap.Object{}},
		acceptor:  &mockAcceptor{},
		recipient: recipient,
		sender:    sender,
	}
	c := &cfg.Config{}
	c.FillDefaults()
	f.dispatcher = &Dispatcher{
		Config:   c,
		Sites:    f.sites,
		Accounts: f.accounts,
		Posts:    f.posts,
		Graph:    f.graph,
		KV:       f.kv,
		Resolver: f.resolver,
		Acceptor: f.acceptor,
	}
	return f
}

func (f *fixture) dispatch(t *testing.T, raw string) error {
	t.Helper()

	var activity ap.Activity
	require.NoError(t, json.Unmarshal([]byte(raw), &activity))
	return f.dispatcher.Dispatch(context.Background(), 1, activity.Actor, json.RawMessage(raw), &activity)
}

func TestDispatchFollow(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/1",
		"type": "Follow",
		"actor": "`+senderAPID+`",
		"object": "`+recipientAPID+`"
	}`))

	require.Len(t, f.accounts.saved, 1)
	assert.Equal(t, []domain.Event{domain.AccountFollowed{FollowerID: 2, FollowingID: 1}}, f.accounts.saved[0])

	require.Len(t, f.acceptor.accepted, 1)
	assert.Equal(t, "https://mastodon.example/users/bob/inbox", f.acceptor.accepted[0].Inbox)
	assert.Equal(t, "https://mastodon.example/activities/1", f.acceptor.accepted[0].Follow.ID)

	// The verbatim activity is mirrored under its id.
	assert.Contains(t, f.kv.values, "https://mastodon.example/activities/1")
}

func TestDispatchFollowWrongTarget(t *testing.T) {
	f := newFixture()

	err := f.dispatch(t, `{
		"id": "https://mastodon.example/activities/1",
		"type": "Follow",
		"actor": "`+senderAPID+`",
		"object": "https://blog.example/.ghost/activitypub/users/nobody"
	}`)
	assert.True(t, domain.IsKind(err, domain.ErrNotFound))
	assert.Empty(t, f.accounts.saved)
	assert.Empty(t, f.acceptor.accepted)
}

func TestDispatchBlockedSender(t *testing.T) {
	f := newFixture()
	f.graph.blocked[[2]int64{1, 2}] = true

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/1",
		"type": "Follow",
		"actor": "`+senderAPID+`",
		"object": "`+recipientAPID+`"
	}`))

	assert.Empty(t, f.accounts.saved)
	assert.Empty(t, f.acceptor.accepted)
	assert.Empty(t, f.kv.values)
}

func TestDispatchUnknownSenderCreated(t *testing.T) {
	f := newFixture()
	f.resolver.actors["https://pleroma.example/users/eve"] = &ap.Actor{
		ID:                "https://pleroma.example/users/eve",
		Type:              "Person",
		PreferredUsername: "eve",
		Inbox:             "https://pleroma.example/users/eve/inbox",
	}
	f.graph.following[[2]int64{1, 3}] = true

	require.NoError(t, f.dispatch(t, `{
		"id": "https://pleroma.example/activities/1",
		"type": "Follow",
		"actor": "https://pleroma.example/users/eve",
		"object": "`+recipientAPID+`"
	}`))

	created, err := f.accounts.ByAPID(context.Background(), "https://pleroma.example/users/eve")
	require.NoError(t, err)
	assert.Equal(t, "eve", created.Username)
	require.Len(t, f.acceptor.accepted, 1)
}

func TestDispatchUnresolvableSender(t *testing.T) {
	f := newFixture()

	// The sender is gone; the activity is acknowledged, not retried.
	require.NoError(t, f.dispatch(t, `{
		"id": "https://gone.example/activities/1",
		"type": "Follow",
		"actor": "https://gone.example/users/x",
		"object": "`+recipientAPID+`"
	}`))
	assert.Empty(t, f.accounts.saved)
}

func TestDispatchUndoFollow(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/2",
		"type": "Undo",
		"actor": "`+senderAPID+`",
		"object": {
			"id": "https://mastodon.example/activities/1",
			"type": "Follow",
			"actor": "`+senderAPID+`",
			"object": "`+recipientAPID+`"
		}
	}`))

	require.Len(t, f.accounts.saved, 1)
	assert.Equal(t, []domain.Event{domain.AccountUnfollowed{FollowerID: 2, FollowingID: 1}}, f.accounts.saved[0])
}

func TestDispatchUndoLike(t *testing.T) {
	f := newFixture()
	f.posts.posts = append(f.posts.posts, &domain.Post{ID: 7, AuthorID: 1, APID: "https://blog.example/.ghost/activitypub/note/n1"})

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/3",
		"type": "Undo",
		"actor": "`+senderAPID+`",
		"object": {
			"id": "https://mastodon.example/activities/2",
			"type": "Like",
			"actor": "`+senderAPID+`",
			"object": "https://blog.example/.ghost/activitypub/note/n1"
		}
	}`))

	assert.Equal(t, [][2]int64{{7, 2}}, f.posts.unsliked)

	// Undoing a like of an unknown post is acknowledged.
	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/4",
		"type": "Undo",
		"actor": "`+senderAPID+`",
		"object": {
			"id": "https://mastodon.example/activities/9",
			"type": "Like",
			"actor": "`+senderAPID+`",
			"object": "https://elsewhere.example/notes/1"
		}
	}`))
}

func TestDispatchCreateFromFollowed(t *testing.T) {
	f := newFixture()
	f.graph.following[[2]int64{1, 2}] = true

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/5",
		"type": "Create",
		"actor": "`+senderAPID+`",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {
			"id": "https://mastodon.example/notes/1",
			"type": "Note",
			"attributedTo": "`+senderAPID+`",
			"content": "<p>hi</p>"
		}
	}`))

	post, err := f.posts.ByAPID(context.Background(), "https://mastodon.example/notes/1")
	require.NoError(t, err)
	assert.Equal(t, domain.PostTypeNote, post.Type)
	assert.Equal(t, int64(2), post.AuthorID)
	assert.Equal(t, "<p>hi</p>", post.Content)

	// Redelivery converges: the post is not stored twice.
	saves := len(f.posts.saved)
	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/5",
		"type": "Create",
		"actor": "`+senderAPID+`",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {
			"id": "https://mastodon.example/notes/1",
			"type": "Note",
			"attributedTo": "`+senderAPID+`",
			"content": "<p>hi</p>"
		}
	}`))
	assert.Equal(t, saves, len(f.posts.saved))
}

func TestDispatchCreateFromUnfollowed(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/5",
		"type": "Create",
		"actor": "`+senderAPID+`",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {
			"id": "https://mastodon.example/notes/1",
			"type": "Note",
			"attributedTo": "`+senderAPID+`",
			"content": "<p>hi</p>"
		}
	}`))

	assert.Empty(t, f.posts.saved)
}

func TestDispatchCreateNonPublic(t *testing.T) {
	f := newFixture()
	f.graph.following[[2]int64{1, 2}] = true

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/5",
		"type": "Create",
		"actor": "`+senderAPID+`",
		"to": ["`+recipientAPID+`"],
		"object": {
			"id": "https://mastodon.example/notes/1",
			"type": "Note",
			"attributedTo": "`+senderAPID+`",
			"content": "<p>psst</p>"
		}
	}`))

	assert.Empty(t, f.posts.saved)
	assert.Empty(t, f.kv.values)
}

func TestDispatchCreateTooManyRecipients(t *testing.T) {
	f := newFixture()
	f.graph.following[[2]int64{1, 2}] = true
	f.dispatcher.Config.MaxRecipients = 3

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/5",
		"type": "Create",
		"actor": "`+senderAPID+`",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {
			"id": "https://mastodon.example/notes/1",
			"type": "Note",
			"attributedTo": "`+senderAPID+`",
			"to": ["https://www.w3.org/ns/activitystreams#Public"],
			"cc": ["https://a.example/u/1", "https://a.example/u/2", "https://a.example/u/3"],
			"content": "<p>spam</p>"
		}
	}`))

	assert.Empty(t, f.posts.saved)
}

func TestDispatchCreateReplyToLocal(t *testing.T) {
	f := newFixture()
	root := int64(3)
	f.posts.posts = append(f.posts.posts, &domain.Post{
		ID:         7,
		AuthorID:   1,
		APID:       "https://blog.example/.ghost/activitypub/note/n1",
		ThreadRoot: &root,
	})

	// The sender is not followed, but replies to local posts are kept.
	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/6",
		"type": "Create",
		"actor": "`+senderAPID+`",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {
			"id": "https://mastodon.example/notes/2",
			"type": "Note",
			"attributedTo": "`+senderAPID+`",
			"inReplyTo": "https://blog.example/.ghost/activitypub/note/n1",
			"content": "<p>re</p>"
		}
	}`))

	post, err := f.posts.ByAPID(context.Background(), "https://mastodon.example/notes/2")
	require.NoError(t, err)
	require.NotNil(t, post.InReplyTo)
	assert.Equal(t, int64(7), *post.InReplyTo)
	require.NotNil(t, post.ThreadRoot)
	assert.Equal(t, int64(3), *post.ThreadRoot)
}

func TestDispatchCreateWithMention(t *testing.T) {
	f := newFixture()
	f.graph.following[[2]int64{1, 2}] = true

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/7",
		"type": "Create",
		"actor": "`+senderAPID+`",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {
			"id": "https://mastodon.example/notes/3",
			"type": "Note",
			"attributedTo": "`+senderAPID+`",
			"content": "<p>hey @index</p>",
			"tag": [{"type": "Mention", "href": "`+recipientAPID+`"}]
		}
	}`))

	// The second save carries the mention event.
	require.Len(t, f.posts.events, 2)
	assert.Equal(t, []domain.Event{domain.MentionCreated{PostID: 1, AuthorID: 2, MentionedID: 1}}, f.posts.events[1])
}

func TestDispatchAnnounceFetchesObject(t *testing.T) {
	f := newFixture()
	f.resolver.objects["https://pleroma.example/objects/1"] = &ap.Object{
		ID:           "https://pleroma.example/objects/1",
		Type:         ap.Article,
		AttributedTo: senderAPID,
		Name:         "Hello",
		Content:      "<p>world</p>",
	}

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/8",
		"type": "Announce",
		"actor": "`+senderAPID+`",
		"object": "https://pleroma.example/objects/1"
	}`))

	post, err := f.posts.ByAPID(context.Background(), "https://pleroma.example/objects/1")
	require.NoError(t, err)
	assert.Equal(t, domain.PostTypeArticle, post.Type)
	assert.True(t, f.posts.reposts[[2]int64{post.ID, 2}])
}

func TestDispatchAnnounceUnfetchable(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/8",
		"type": "Announce",
		"actor": "`+senderAPID+`",
		"object": "https://gone.example/objects/1"
	}`))
	assert.Empty(t, f.posts.reposts)
}

func TestDispatchLike(t *testing.T) {
	f := newFixture()
	f.posts.posts = append(f.posts.posts, &domain.Post{ID: 7, AuthorID: 1, APID: "https://blog.example/.ghost/activitypub/note/n1"})

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/9",
		"type": "Like",
		"actor": "`+senderAPID+`",
		"object": "https://blog.example/.ghost/activitypub/note/n1"
	}`))
	assert.True(t, f.posts.likes[[2]int64{7, 2}])

	// Likes of unknown posts are acknowledged and dropped.
	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/10",
		"type": "Like",
		"actor": "`+senderAPID+`",
		"object": "https://elsewhere.example/notes/9"
	}`))
	assert.Len(t, f.posts.likes, 1)
}

func TestDispatchDeleteAccount(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/11",
		"type": "Delete",
		"actor": "`+senderAPID+`",
		"object": "`+senderAPID+`"
	}`))
	assert.Equal(t, []int64{2}, f.graph.severed)
}

func TestDispatchDeletePost(t *testing.T) {
	f := newFixture()
	f.posts.posts = append(f.posts.posts, &domain.Post{ID: 7, AuthorID: 2, APID: "https://mastodon.example/notes/1"})

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/12",
		"type": "Delete",
		"actor": "`+senderAPID+`",
		"object": "https://mastodon.example/notes/1"
	}`))

	post, err := f.posts.ByAPID(context.Background(), "https://mastodon.example/notes/1")
	require.NoError(t, err)
	assert.True(t, post.Deleted)
}

func TestDispatchDeletePostNonAuthor(t *testing.T) {
	f := newFixture()
	f.posts.posts = append(f.posts.posts, &domain.Post{ID: 7, AuthorID: 1, APID: "https://blog.example/.ghost/activitypub/note/n1"})

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/13",
		"type": "Delete",
		"actor": "`+senderAPID+`",
		"object": "https://blog.example/.ghost/activitypub/note/n1"
	}`))

	post, err := f.posts.ByAPID(context.Background(), "https://blog.example/.ghost/activitypub/note/n1")
	require.NoError(t, err)
	assert.False(t, post.Deleted)
	assert.Empty(t, f.posts.saved)
}

func TestDispatchUpdatePost(t *testing.T) {
	f := newFixture()
	f.posts.posts = append(f.posts.posts, &domain.Post{
		ID:       7,
		AuthorID: 2,
		Type:     domain.PostTypeArticle,
		Title:    "Old",
		APID:     "https://mastodon.example/articles/1",
	})

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/14",
		"type": "Update",
		"actor": "`+senderAPID+`",
		"object": {
			"id": "https://mastodon.example/articles/1",
			"type": "Article",
			"name": "New",
			"content": "<p>edited</p>"
		}
	}`))

	post, err := f.posts.ByAPID(context.Background(), "https://mastodon.example/articles/1")
	require.NoError(t, err)
	assert.Equal(t, "New", post.Title)
	assert.Equal(t, "<p>edited</p>", post.Content)
}

func TestDispatchUpdateProfile(t *testing.T) {
	f := newFixture()
	f.resolver.actors[senderAPID] = &ap.Actor{
		ID:                senderAPID,
		Type:              "Person",
		PreferredUsername: "bob",
		Name:              "Bob 2.0",
		Inbox:             "https://mastodon.example/users/bob/inbox",
	}

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/15",
		"type": "Update",
		"actor": "`+senderAPID+`",
		"object": {
			"id": "`+senderAPID+`",
			"type": "Person",
			"name": "Bob 2.0"
		}
	}`))

	require.Len(t, f.accounts.profiles, 1)
	assert.Equal(t, int64(2), f.accounts.profiles[0].ID)
	assert.Equal(t, "Bob 2.0", f.accounts.profiles[0].Name)
}

func TestDispatchUnknownType(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.dispatch(t, `{
		"id": "https://mastodon.example/activities/16",
		"type": "Move",
		"actor": "`+senderAPID+`"
	}`))
	assert.Empty(t, f.kv.values)
}
