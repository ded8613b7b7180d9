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
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PostType string

const (
	PostTypeArticle PostType = "Article"
	PostTypeNote    PostType = "Note"
)

type Audience string

const (
	AudiencePublic        Audience = "public"
	AudienceFollowersOnly Audience = "followers_only"
	AudienceDirect        Audience = "direct"
)

// PostAuthor is byline metadata carried over from the originating blog.
type PostAuthor struct {
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// PostAttachment is an embedded media item.
type PostAttachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
}

// Post is an article or note authored by an Account.
type Post struct {
	ID       int64
	UUID     string
	Type     PostType
	Audience Audience
	AuthorID int64

	Title    string
	Excerpt  string
	Summary  string
	Content  string
	URL      string
	ImageURL string

	PublishedAt time.Time
	InReplyTo   *int64
	ThreadRoot  *int64

	LikeCount          int64
	RepostCount        int64
	ReplyCount         int64
	ReadingTimeMinutes int64

	Attachments []PostAttachment
	Authors     []PostAuthor

	APID    string
	Deleted bool

	dirty  []string
	events []Event
}

// APIDFor derives the canonical URL of an internal-authored post.
func APIDFor(siteOrigin string, t PostType, id string) string {
	kind := "article"
	if t == PostTypeNote {
		kind = "note"
	}
	return fmt.Sprintf("%s/.ghost/activitypub/%s/%s", siteOrigin, kind, id)
}

// ArticleParams carries the blog-provided fields of a published article.
type ArticleParams struct {
	UUID        string
	Title       string
	Excerpt     string
	Content     string
	URL         string
	ImageURL    string
	PublishedAt time.Time
	Authors     []PostAuthor
}

// NewArticle creates an Article for an internal author. The canonical
// URL is derived deterministically from the site origin and the
// article's UUID.
func NewArticle(siteOrigin string, author *Account, p ArticleParams) (*Post, error) {
	if !author.IsInternal() {
		return nil, E(ErrMissingAuthor, "article author %s is not internal", author.APID)
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, E(ErrMissingContent, "article %s has no content", p.UUID)
	}

	post := &Post{
		UUID:               p.UUID,
		Type:               PostTypeArticle,
		Audience:           AudiencePublic,
		AuthorID:           author.ID,
		Title:              p.Title,
		Excerpt:            p.Excerpt,
		Content:            p.Content,
		URL:                p.URL,
		ImageURL:           p.ImageURL,
		PublishedAt:        p.PublishedAt,
		ReadingTimeMinutes: ReadingTime(p.Content),
		Authors:            p.Authors,
		APID:               APIDFor(siteOrigin, PostTypeArticle, p.UUID),
	}

	post.record(PostCreated{Post: post})
	return post, nil
}

// NewNote creates a Note for an internal author. Notes have no title.
func NewNote(siteOrigin string, author *Account, content string, audience Audience) (*Post, error) {
	if strings.TrimSpace(content) == "" {
		return nil, E(ErrMissingContent, "note has no content")
	}

	id := uuid.NewString()
	post := &Post{
		UUID:        id,
		Type:        PostTypeNote,
		Audience:    audience,
		AuthorID:    author.ID,
		Content:     content,
		PublishedAt: time.Now().UTC(),
		APID:        APIDFor(siteOrigin, PostTypeNote, id),
	}
	post.URL = post.APID

	post.record(PostCreated{Post: post})
	return post, nil
}

// NewReply creates a Note replying to another post. The thread root
// follows the parent's root, or the parent itself when the parent
// started the thread.
func NewReply(siteOrigin string, author *Account, parent *Post, content string) (*Post, error) {
	if parent.Deleted {
		return nil, E(ErrNotFound, "cannot reply to deleted post %s", parent.APID)
	}

	post, err := NewNote(siteOrigin, author, content, AudiencePublic)
	if err != nil {
		return nil, err
	}

	parentID := parent.ID
	post.InReplyTo = &parentID
	root := parentID
	if parent.ThreadRoot != nil {
		root = *parent.ThreadRoot
	}
	post.ThreadRoot = &root

	return post, nil
}

// NewRemotePost wraps a federated object that arrived via the inbox.
func NewRemotePost(apID string, t PostType, author *Account, content, title, u string, published time.Time) (*Post, error) {
	if t == PostTypeNote && title != "" {
		title = ""
	}

	post := &Post{
		UUID:        uuid.NewString(),
		Type:        t,
		Audience:    AudiencePublic,
		AuthorID:    author.ID,
		Title:       title,
		Content:     content,
		URL:         u,
		PublishedAt: published,
		APID:        apID,
	}
	if post.URL == "" {
		post.URL = apID
	}

	post.record(PostCreated{Post: post})
	return post, nil
}

// Delete soft-deletes the post. Only the author may delete it; any
// later mutation is rejected.
func (p *Post) Delete(by int64) error {
	if by != p.AuthorID {
		return E(ErrNotAuthor, "account %d cannot delete post %d", by, p.ID)
	}
	if p.Deleted {
		return nil
	}

	p.Deleted = true
	p.markDirty("deleted")
	p.record(PostDeleted{Post: p})
	return nil
}

func (p *Post) SetTitle(title string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	if p.Type == PostTypeNote {
		return E(ErrInvalidType, "notes have no title")
	}
	p.Title = title
	p.markDirty("title")
	return nil
}

func (p *Post) SetContent(content string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.Content = content
	p.ReadingTimeMinutes = ReadingTime(content)
	p.markDirty("content", "reading_time_minutes")
	return nil
}

func (p *Post) SetExcerpt(excerpt string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.Excerpt = excerpt
	p.markDirty("excerpt")
	return nil
}

func (p *Post) SetImageURL(u string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.ImageURL = u
	p.markDirty("image_url")
	return nil
}

func (p *Post) SetURL(u string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.URL = u
	p.markDirty("url")
	return nil
}

// Mention records that the post mentions another account.
func (p *Post) Mention(accountID int64) {
	if accountID == p.AuthorID {
		return
	}
	p.record(MentionCreated{PostID: p.ID, AuthorID: p.AuthorID, MentionedID: accountID})
}

func (p *Post) mutable() error {
	if p.Deleted {
		return E(ErrNotFound, "post %s is deleted", p.APID)
	}
	return nil
}

func (p *Post) markDirty(cols ...string) {
	for _, col := range cols {
		found := false
		for _, d := range p.dirty {
			if d == col {
				found = true
				break
			}
		}
		if !found {
			p.dirty = append(p.dirty, col)
		}
	}
}

// Dirty returns the columns changed since the post was loaded.
func (p *Post) Dirty() []string {
	return p.dirty
}

// ClearDirty resets change tracking after a successful save.
func (p *Post) ClearDirty() {
	p.dirty = nil
}

func (p *Post) record(e Event) {
	p.events = append(p.events, e)
}

// PullEvents returns and clears the recorded events, in order.
func (p *Post) PullEvents() []Event {
	events := p.events
	p.events = nil
	return events
}

// Restore puts pulled events back, used when a save fails before
// commit so a retry sees the same pending events.
func (p *Post) Restore(events []Event) {
	p.events = append(events, p.events...)
}

var tagRegex = regexp.MustCompile(`<[^>]*>`)

// ReadingTime estimates reading time in minutes from HTML content,
// using the same 275 words per minute the originating blog platform
// assumes. Always at least one minute for non-empty content.
func ReadingTime(html string) int64 {
	text := strings.TrimSpace(tagRegex.ReplaceAllString(html, " "))
	if text == "" {
		return 0
	}

	words := int64(len(strings.Fields(text)))
	minutes := words / 275
	if words%275 != 0 || minutes == 0 {
		minutes++
	}
	return minutes
}
