package bluesky

import (
	"time"

	"searchindex/internal/domain"
)

// searchPostsResponse is the app.bsky.feed.searchPosts response body.
type searchPostsResponse struct {
	Cursor string    `json:"cursor"`
	Posts  []apiPost `json:"posts"`
}

// apiPost is a post view as returned by the AppView.
type apiPost struct {
	URI    string     `json:"uri"`
	CID    string     `json:"cid"`
	Author apiAuthor  `json:"author"`
	Record Record     `json:"record"`
	Embed  *embedView `json:"embed,omitempty"`
}

type apiAuthor struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

// Record is the content of an app.bsky.feed.post record.
type Record struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs,omitempty"`
	Facets    []Facet  `json:"facets,omitempty"`
}

// Facet annotates a byte span of post text with rich-text features.
type Facet struct {
	Index    FacetIndex     `json:"index"`
	Features []FacetFeature `json:"features"`
}

// FacetIndex is a byte span into the post text.
type FacetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature is one rich-text feature of a facet. Type is the lexicon
// $type; only one of Tag, DID or URI is set, depending on Type.
type FacetFeature struct {
	Type string `json:"$type"`
	Tag  string `json:"tag,omitempty"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
}

const (
	featureTag     = "app.bsky.richtext.facet#tag"
	featureMention = "app.bsky.richtext.facet#mention"
	featureLink    = "app.bsky.richtext.facet#link"
)

// embedView is an app.bsky.embed.images#view embed.
type embedView struct {
	Type   string      `json:"$type"`
	Images []imageView `json:"images,omitempty"`
}

type imageView struct {
	Thumb       string       `json:"thumb"`
	Fullsize    string       `json:"fullsize"`
	Alt         string       `json:"alt"`
	AspectRatio *aspectRatio `json:"aspectRatio,omitempty"`
}

type aspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ExtractTokens pulls the hashtag, mention and link tokens out of the post
// text using its facets. Token text is the annotated span of the body
// (hashtags keep their '#', mentions their '@'); a link facet whose span is a
// shortened display form falls back to the feature's full URI.
func ExtractTokens(text string, facets []Facet) (hashtags, mentions, links []domain.Token) {
	for _, facet := range facets {
		start, end := facet.Index.ByteStart, facet.Index.ByteEnd
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		span := text[start:end]

		for _, feature := range facet.Features {
			token := domain.Token{Text: span, Start: start, End: end}
			switch feature.Type {
			case featureTag:
				if feature.Tag != "" {
					token.Text = "#" + feature.Tag
				}
				hashtags = append(hashtags, token)
			case featureMention:
				mentions = append(mentions, token)
			case featureLink:
				if feature.URI != "" {
					token.Text = feature.URI
				}
				links = append(links, token)
			}
		}
	}
	return hashtags, mentions, links
}

// convertPost maps a post view to the domain's fetched-post record.
func convertPost(p apiPost) domain.FetchedPost {
	createdAt, err := time.Parse(time.RFC3339, p.Record.CreatedAt)
	if err != nil {
		createdAt = time.Now().UTC()
	}

	hashtags, mentions, links := ExtractTokens(p.Record.Text, p.Record.Facets)

	fp := domain.FetchedPost{
		ID:        p.URI,
		Text:      p.Record.Text,
		CreatedAt: createdAt,
		Author: domain.FetchedAuthor{
			Handle:      p.Author.Handle,
			DisplayName: p.Author.DisplayName,
		},
		Hashtags: hashtags,
		Mentions: mentions,
		Links:    links,
	}

	if p.Embed != nil {
		for _, img := range p.Embed.Images {
			item := domain.MediaItem{URL: img.Fullsize}
			if img.AspectRatio != nil && img.AspectRatio.Height > 0 {
				item.AspectRatio = float64(img.AspectRatio.Width) / float64(img.AspectRatio.Height)
			}
			fp.Media = append(fp.Media, item)
		}
	}

	return fp
}
