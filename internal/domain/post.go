package domain

import "time"

// Post is a persisted social post. Posts are deduplicated by ExternalID and
// only retained while at least one Reference links to them.
type Post struct {
	// ID is the store-assigned identifier. Zero until persisted.
	ID int64

	// ExternalID is the unique identifier assigned by the remote service.
	ExternalID string

	// Text is the post body.
	Text string

	// PostedAt is when the post was created on the remote service.
	PostedAt time.Time

	// AuthorID identifies the owning Author.
	AuthorID int64
}

// Author is a persisted post author, one row per handle. Authors are only
// retained while at least one Post belongs to them.
type Author struct {
	// ID is the store-assigned identifier. Zero until persisted.
	ID int64

	// Handle is the unique, case-sensitive account handle.
	Handle string

	// DisplayName is the name shown alongside the handle. The first name
	// seen for a handle wins; re-encounters do not update it.
	DisplayName string
}

// AuthorActivity is an Author together with the number of matching posts,
// as returned by the author query surface.
type AuthorActivity struct {
	Author

	// PostCount is the number of the author's posts matching the query.
	PostCount int64
}

// FetchedPost is a post record as delivered by the network collaborator.
// It carries the extracted reference tokens needed for reconciliation.
type FetchedPost struct {
	// ID is the remote service's unique identifier for the post.
	ID string

	// Text is the post body.
	Text string

	// CreatedAt is the remote creation timestamp.
	CreatedAt time.Time

	// Author identifies who wrote the post.
	Author FetchedAuthor

	// Hashtags, Mentions and Links are the keyword tokens extracted from
	// the post body. Hashtag text includes the leading '#', mention text
	// the leading '@'.
	Hashtags []Token
	Mentions []Token
	Links    []Token

	// Media lists embedded images.
	Media []MediaItem
}

// FetchedAuthor is the author information attached to a FetchedPost.
type FetchedAuthor struct {
	Handle      string
	DisplayName string
}

// Token is a reference token extracted from post text. Start and End are
// byte offsets into the body, kept for presentation highlighting.
type Token struct {
	Text  string
	Start int
	End   int
}

// MediaItem is an embedded image reference.
type MediaItem struct {
	URL         string
	AspectRatio float64
}
