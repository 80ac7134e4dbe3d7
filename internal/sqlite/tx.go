package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"searchindex/internal/domain"
)

// Tx implements domain.Tx on a SQLite transaction. Lookups observe rows
// created earlier in the same transaction.
type Tx struct {
	tx *sql.Tx
}

// PostsByExternalIDs retrieves the posts matching any of the given external
// identifiers, keyed by external identifier.
func (t *Tx) PostsByExternalIDs(ctx context.Context, externalIDs []string) (map[string]*domain.Post, error) {
	posts := make(map[string]*domain.Post, len(externalIDs))
	if len(externalIDs) == 0 {
		return posts, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(externalIDs)), ",")
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, external_id, text, posted_at, author_id
		FROM posts
		WHERE external_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query posts by external ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Text, &p.PostedAt, &p.AuthorID); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts[p.ExternalID] = &p
	}
	return posts, rows.Err()
}

// PostByExternalID retrieves a single post, or nil if absent.
func (t *Tx) PostByExternalID(ctx context.Context, externalID string) (*domain.Post, error) {
	var p domain.Post
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, external_id, text, posted_at, author_id
		FROM posts
		WHERE external_id = ?`,
		externalID,
	).Scan(&p.ID, &p.ExternalID, &p.Text, &p.PostedAt, &p.AuthorID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query post by external id: %w", err)
	}
	return &p, nil
}

// CreatePost inserts a new post and sets post.ID.
func (t *Tx) CreatePost(ctx context.Context, post *domain.Post) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO posts (external_id, text, posted_at, author_id)
		VALUES (?, ?, ?, ?)`,
		post.ExternalID, post.Text, post.PostedAt, post.AuthorID,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	post.ID, err = res.LastInsertId()
	return err
}

// DeletePost removes a post; its reference links cascade.
func (t *Tx) DeletePost(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	return err
}

// AuthorByHandle retrieves an author by exact handle, or nil if absent.
func (t *Tx) AuthorByHandle(ctx context.Context, handle string) (*domain.Author, error) {
	var a domain.Author
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, handle, display_name
		FROM authors
		WHERE handle = ?`,
		handle,
	).Scan(&a.ID, &a.Handle, &a.DisplayName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query author by handle: %w", err)
	}
	return &a, nil
}

// CreateAuthor inserts a new author and sets author.ID.
func (t *Tx) CreateAuthor(ctx context.Context, author *domain.Author) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO authors (handle, display_name)
		VALUES (?, ?)`,
		author.Handle, author.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("insert author: %w", err)
	}
	author.ID, err = res.LastInsertId()
	return err
}

// ReferencesMatching retrieves all references matching the uniqueness key:
// searchTerm exact, keyword case-insensitive, kind exact.
func (t *Tx) ReferencesMatching(ctx context.Context, searchTerm, keyword string, kind domain.ReferenceKind) ([]domain.Reference, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, search_term, keyword, kind, mention_count
		FROM refs
		WHERE search_term = ? AND keyword = ? COLLATE NOCASE AND kind = ?`,
		searchTerm, keyword, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var refs []domain.Reference
	for rows.Next() {
		var r domain.Reference
		if err := rows.Scan(&r.ID, &r.SearchTerm, &r.Keyword, &r.Kind, &r.MentionCount); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// CreateReference inserts a new reference and sets ref.ID.
func (t *Tx) CreateReference(ctx context.Context, ref *domain.Reference) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO refs (search_term, keyword, kind, mention_count)
		VALUES (?, ?, ?, ?)`,
		ref.SearchTerm, ref.Keyword, string(ref.Kind), ref.MentionCount,
	)
	if err != nil {
		return fmt.Errorf("insert reference: %w", err)
	}
	ref.ID, err = res.LastInsertId()
	return err
}

// DeleteReference removes a reference; its post links cascade.
func (t *Tx) DeleteReference(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM refs WHERE id = ?`, id)
	return err
}

// PostLinked reports whether the post is in the reference's linked-post set.
func (t *Tx) PostLinked(ctx context.Context, refID, postID int64) (bool, error) {
	var linked bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM post_refs WHERE ref_id = ? AND post_id = ?)`,
		refID, postID,
	).Scan(&linked)
	return linked, err
}

// LinkPost adds the post to the reference's linked-post set.
func (t *Tx) LinkPost(ctx context.Context, refID, postID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO post_refs (post_id, ref_id) VALUES (?, ?)`,
		postID, refID,
	)
	return err
}

// IncrementMentions increments a reference's mention count by one.
func (t *Tx) IncrementMentions(ctx context.Context, refID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE refs SET mention_count = mention_count + 1 WHERE id = ?`,
		refID,
	)
	return err
}

// DeleteReferencesByTerm removes every reference scoped to searchTerm. The
// match is case-insensitive: an evicted term purges all casings it was ever
// searched under.
func (t *Tx) DeleteReferencesByTerm(ctx context.Context, searchTerm string) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM refs WHERE search_term = ? COLLATE NOCASE`,
		searchTerm,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOrphanPosts removes posts with no linked references.
func (t *Tx) DeleteOrphanPosts(ctx context.Context) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM posts WHERE id NOT IN (SELECT post_id FROM post_refs)`,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOrphanAuthors removes authors with no posts.
func (t *Tx) DeleteOrphanAuthors(ctx context.Context) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM authors WHERE id NOT IN (SELECT author_id FROM posts)`,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteUnlinkedReferences removes references whose linked-post set is empty.
func (t *Tx) DeleteUnlinkedReferences(ctx context.Context) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM refs WHERE id NOT IN (SELECT ref_id FROM post_refs)`,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Commit makes the transaction's mutations durable.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback discards the transaction's mutations. Calling it after Commit is a
// no-op error swallowed by database/sql semantics, so callers may defer it.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
