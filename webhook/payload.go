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
	"encoding/json"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/outbox"
)

// GhostPost is the post shape the blog platform sends in webhooks.
type GhostPost struct {
	UUID          string  `json:"uuid"`
	Title         string  `json:"title"`
	HTML          string  `json:"html"`
	Excerpt       string  `json:"excerpt"`
	CustomExcerpt string  `json:"custom_excerpt"`
	FeatureImage  string  `json:"feature_image"`
	PublishedAt   ap.Time `json:"published_at"`
	URL           string  `json:"url"`
	Visibility    string  `json:"visibility"`
	Authors       []struct {
		Name         string `json:"name"`
		ProfileImage string `json:"profile_image"`
	} `json:"authors"`
}

type payload struct {
	Post struct {
		Current  *GhostPost `json:"current"`
		Previous *GhostPost `json:"previous"`
	} `json:"post"`
}

// parsePayload decodes {post:{current:...}} and rejects payloads
// without a usable post UUID.
func parsePayload(body []byte) (*GhostPost, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.Wrap(domain.ErrInvalidType, err)
	}

	post := p.Post.Current
	if post == nil || post.UUID == "" {
		post = p.Post.Previous
	}
	if post == nil || post.UUID == "" {
		return nil, domain.E(domain.ErrInvalidType, "no post in payload")
	}
	return post, nil
}

// ArticleInput converts the webhook shape into the outbox's input.
func (p *GhostPost) ArticleInput() outbox.ArticleInput {
	excerpt := p.CustomExcerpt
	if excerpt == "" {
		excerpt = p.Excerpt
	}

	in := outbox.ArticleInput{
		UUID:        p.UUID,
		Title:       p.Title,
		Excerpt:     excerpt,
		Content:     p.HTML,
		URL:         p.URL,
		ImageURL:    p.FeatureImage,
		PublishedAt: p.PublishedAt.Time,
		Public:      p.Visibility == "public",
	}

	for _, a := range p.Authors {
		in.Authors = append(in.Authors, domain.PostAuthor{
			Name:         a.Name,
			ProfileImage: a.ProfileImage,
		})
	}

	return in
}
