package domain

// ReferenceKind classifies a Reference.
type ReferenceKind string

const (
	KindHashtag     ReferenceKind = "hashtag"
	KindUserMention ReferenceKind = "user-mention"
	KindLink        ReferenceKind = "link"
	KindImage       ReferenceKind = "image"
)

// Reference is a deduplicated token (hashtag, user-mention, link or embedded
// image) observed in posts fetched for a search term. References are unique
// per (search term, keyword, kind), keyword compared case-insensitively.
type Reference struct {
	// ID is the store-assigned identifier. Zero until persisted.
	ID int64

	// SearchTerm is the query under which this reference was observed.
	SearchTerm string

	// Keyword is the token text, e.g. "#golang" or "@someone.example".
	Keyword string

	// Kind classifies the token.
	Kind ReferenceKind

	// MentionCount is the number of distinct posts linked to this
	// reference. Maintained only by the reconciler's link path, never
	// recomputed.
	MentionCount int64
}
