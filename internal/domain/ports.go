package domain

import (
	"context"
)

// Store is the entity store: it owns all persisted Posts, Authors and
// References and hands out transactions for mutating them. Reads outside a
// transaction observe only committed state.
type Store interface {
	// Begin opens a mutation transaction. The caller must end it with
	// Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// PostsContaining retrieves posts whose body text contains term,
	// case-insensitively, newest first.
	PostsContaining(ctx context.Context, term string) ([]Post, error)

	// ReferencesForTerm retrieves references scoped to searchTerm with a
	// mention count above 1, ordered by kind, then mention count
	// descending, then keyword case-insensitively ascending.
	ReferencesForTerm(ctx context.Context, searchTerm string) ([]Reference, error)

	// AuthorsPosting retrieves authors with at least one post whose text
	// contains term, with matching-post counts, ordered by handle
	// case-insensitively ascending.
	AuthorsPosting(ctx context.Context, term string) ([]AuthorActivity, error)
}

// Tx is a single mutation transaction against the Store. All lookups observe
// rows created earlier in the same transaction. None of the mutations are
// visible outside the transaction until Commit.
type Tx interface {
	// PostsByExternalIDs retrieves the posts matching any of the given
	// external identifiers, keyed by external identifier.
	PostsByExternalIDs(ctx context.Context, externalIDs []string) (map[string]*Post, error)

	// PostByExternalID retrieves a single post, or nil if absent.
	PostByExternalID(ctx context.Context, externalID string) (*Post, error)

	// CreatePost inserts a new post and sets post.ID.
	CreatePost(ctx context.Context, post *Post) error

	// DeletePost removes a post and its reference links.
	DeletePost(ctx context.Context, id int64) error

	// AuthorByHandle retrieves an author by exact handle, or nil if absent.
	AuthorByHandle(ctx context.Context, handle string) (*Author, error)

	// CreateAuthor inserts a new author and sets author.ID.
	CreateAuthor(ctx context.Context, author *Author) error

	// ReferencesMatching retrieves all references matching the uniqueness
	// key: searchTerm exact, keyword case-insensitive, kind exact. A
	// correctly maintained store returns at most one.
	ReferencesMatching(ctx context.Context, searchTerm, keyword string, kind ReferenceKind) ([]Reference, error)

	// CreateReference inserts a new reference and sets ref.ID.
	CreateReference(ctx context.Context, ref *Reference) error

	// DeleteReference removes a reference and its post links.
	DeleteReference(ctx context.Context, id int64) error

	// PostLinked reports whether the post is already in the reference's
	// linked-post set.
	PostLinked(ctx context.Context, refID, postID int64) (bool, error)

	// LinkPost adds the post to the reference's linked-post set.
	LinkPost(ctx context.Context, refID, postID int64) error

	// IncrementMentions increments a reference's mention count by one.
	IncrementMentions(ctx context.Context, refID int64) error

	// DeleteReferencesByTerm removes every reference scoped to searchTerm,
	// returning the number removed.
	DeleteReferencesByTerm(ctx context.Context, searchTerm string) (int64, error)

	// DeleteOrphanPosts removes posts with no linked references, returning
	// the number removed.
	DeleteOrphanPosts(ctx context.Context) (int64, error)

	// DeleteOrphanAuthors removes authors with no posts, returning the
	// number removed.
	DeleteOrphanAuthors(ctx context.Context) (int64, error)

	// DeleteUnlinkedReferences removes references whose linked-post set is
	// empty, returning the number removed.
	DeleteUnlinkedReferences(ctx context.Context) (int64, error)

	// Commit makes the transaction's mutations durable.
	Commit() error

	// Rollback discards the transaction's mutations. Safe to call after a
	// failed Commit.
	Rollback() error
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// HistoryRepository defines persistence operations for the search history
// list. The list is small and saved whole.
type HistoryRepository interface {
	// LoadHistory retrieves the saved history terms, most recent first.
	LoadHistory(ctx context.Context) ([]string, error)

	// SaveHistory replaces the saved history terms.
	SaveHistory(ctx context.Context, terms []string) error
}

// Fetcher is the network collaborator that retrieves search results from the
// remote service.
type Fetcher interface {
	// SearchPosts fetches up to limit posts matching term.
	SearchPosts(ctx context.Context, term string, limit int) ([]FetchedPost, error)
}
