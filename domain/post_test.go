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

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func internalAccount(id int64) *Account {
	return &Account{
		ID:           id,
		Username:     "index",
		APID:         "https://blog.example/.ghost/activitypub/users/index",
		APPrivateKey: "key",
	}
}

func TestNewArticle(t *testing.T) {
	author := internalAccount(1)

	post, err := NewArticle("https://blog.example", author, ArticleParams{
		UUID:        "abc-123",
		Title:       "Hello",
		Content:     "<p>world</p>",
		URL:         "https://blog.example/hello/",
		PublishedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, PostTypeArticle, post.Type)
	assert.Equal(t, AudiencePublic, post.Audience)
	assert.Equal(t, "https://blog.example/.ghost/activitypub/article/abc-123", post.APID)
	assert.Equal(t, int64(1), post.ReadingTimeMinutes)

	events := post.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "post.created", events[0].EventName())
	assert.Empty(t, post.PullEvents())
}

func TestNewArticleExternalAuthor(t *testing.T) {
	_, err := NewArticle("https://blog.example", &Account{ID: 2}, ArticleParams{
		UUID:    "abc-123",
		Content: "<p>hi</p>",
	})
	assert.True(t, IsKind(err, ErrMissingAuthor))
}

func TestNewArticleNoContent(t *testing.T) {
	_, err := NewArticle("https://blog.example", internalAccount(1), ArticleParams{
		UUID:    "abc-123",
		Content: "  \n ",
	})
	assert.True(t, IsKind(err, ErrMissingContent))
}

func TestNewNote(t *testing.T) {
	post, err := NewNote("https://blog.example", internalAccount(1), "<p>hi</p>", AudiencePublic)
	require.NoError(t, err)

	assert.Equal(t, PostTypeNote, post.Type)
	assert.Empty(t, post.Title)
	assert.Equal(t, post.APID, post.URL)
	assert.True(t, strings.HasPrefix(post.APID, "https://blog.example/.ghost/activitypub/note/"))
}

func TestNewNoteNoContent(t *testing.T) {
	_, err := NewNote("https://blog.example", internalAccount(1), "", AudiencePublic)
	assert.True(t, IsKind(err, ErrMissingContent))
}

func TestNewReplyThreadRoot(t *testing.T) {
	author := internalAccount(1)

	parent := &Post{ID: 10, AuthorID: 2, APID: "https://other.example/notes/1"}
	reply, err := NewReply("https://blog.example", author, parent, "<p>re</p>")
	require.NoError(t, err)
	require.NotNil(t, reply.InReplyTo)
	assert.Equal(t, int64(10), *reply.InReplyTo)
	require.NotNil(t, reply.ThreadRoot)
	assert.Equal(t, int64(10), *reply.ThreadRoot)

	// A reply deeper in the thread keeps the original root.
	root := int64(5)
	parent.ThreadRoot = &root
	deeper, err := NewReply("https://blog.example", author, parent, "<p>re re</p>")
	require.NoError(t, err)
	assert.Equal(t, int64(5), *deeper.ThreadRoot)
}

func TestNewReplyDeletedParent(t *testing.T) {
	parent := &Post{ID: 10, AuthorID: 2, Deleted: true}
	_, err := NewReply("https://blog.example", internalAccount(1), parent, "<p>re</p>")
	assert.True(t, IsKind(err, ErrNotFound))
}

func TestDelete(t *testing.T) {
	post := &Post{ID: 1, AuthorID: 1}

	assert.True(t, IsKind(post.Delete(2), ErrNotAuthor))
	assert.False(t, post.Deleted)

	require.NoError(t, post.Delete(1))
	assert.True(t, post.Deleted)
	assert.Len(t, post.PullEvents(), 1)

	// Deleting twice changes nothing.
	require.NoError(t, post.Delete(1))
	assert.Empty(t, post.PullEvents())
}

func TestMutateDeleted(t *testing.T) {
	post := &Post{ID: 1, AuthorID: 1, Type: PostTypeArticle, Deleted: true}

	assert.True(t, IsKind(post.SetTitle("x"), ErrNotFound))
	assert.True(t, IsKind(post.SetContent("x"), ErrNotFound))
}

func TestSetTitleOnNote(t *testing.T) {
	post := &Post{ID: 1, AuthorID: 1, Type: PostTypeNote}
	assert.True(t, IsKind(post.SetTitle("x"), ErrInvalidType))
}

func TestDirtyTracking(t *testing.T) {
	post := &Post{ID: 1, AuthorID: 1, Type: PostTypeArticle}

	require.NoError(t, post.SetTitle("a"))
	require.NoError(t, post.SetTitle("b"))
	require.NoError(t, post.SetContent("<p>c</p>"))

	assert.Equal(t, []string{"title", "content", "reading_time_minutes"}, post.Dirty())

	post.ClearDirty()
	assert.Empty(t, post.Dirty())
}

func TestMention(t *testing.T) {
	post := &Post{ID: 1, AuthorID: 1}

	post.Mention(1)
	assert.Empty(t, post.PullEvents())

	post.Mention(2)
	events := post.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, MentionCreated{PostID: 1, AuthorID: 1, MentionedID: 2}, events[0])
}

func TestRestore(t *testing.T) {
	post := &Post{ID: 1, AuthorID: 1}
	post.Mention(2)

	events := post.PullEvents()
	post.Mention(3)
	post.Restore(events)

	restored := post.PullEvents()
	require.Len(t, restored, 2)
	assert.Equal(t, int64(2), restored[0].(MentionCreated).MentionedID)
	assert.Equal(t, int64(3), restored[1].(MentionCreated).MentionedID)
}

func TestReadingTime(t *testing.T) {
	assert.EqualValues(t, 0, ReadingTime(""))
	assert.EqualValues(t, 0, ReadingTime("<p> </p>"))
	assert.EqualValues(t, 1, ReadingTime("<p>just a few words</p>"))
	assert.EqualValues(t, 1, ReadingTime(strings.Repeat("word ", 275)))
	assert.EqualValues(t, 2, ReadingTime(strings.Repeat("word ", 276)))
	assert.EqualValues(t, 3, ReadingTime("<p>"+strings.Repeat("word ", 600)+"</p>"))
}
