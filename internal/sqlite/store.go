// Package sqlite implements the entity store on an embedded SQLite database.
// Entities are arena-style rows keyed by integer ids; every relationship is
// an id-to-id link resolved through queries, never a live object reference.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"searchindex/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements domain.Store, domain.CursorRepository and
// domain.HistoryRepository on a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path, applies pending
// migrations, and returns the store. The caller should call Close when the
// store is no longer needed.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"foreign_keys(1)",
			"journal_mode(WAL)",
			"busy_timeout(5000)",
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite allows a single writer, and the domain layer
	// serializes transactions anyway. This also keeps in-memory databases
	// on one shared handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens a mutation transaction.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// PostsContaining retrieves posts whose text contains term,
// case-insensitively, newest first.
func (s *Store) PostsContaining(ctx context.Context, term string) ([]domain.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, text, posted_at, author_id
		FROM posts
		WHERE instr(lower(text), lower(?)) > 0
		ORDER BY posted_at DESC, id DESC`,
		term,
	)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Text, &p.PostedAt, &p.AuthorID); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ReferencesForTerm retrieves references scoped to searchTerm mentioned by
// more than one post, ordered by kind, then mention count descending, then
// keyword case-insensitively ascending.
func (s *Store) ReferencesForTerm(ctx context.Context, searchTerm string) ([]domain.Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, search_term, keyword, kind, mention_count
		FROM refs
		WHERE search_term = ? AND mention_count > 1
		ORDER BY kind ASC, mention_count DESC, keyword COLLATE NOCASE ASC`,
		searchTerm,
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

// AuthorsPosting retrieves authors with at least one post whose text contains
// term, with matching-post counts, ordered by handle case-insensitively.
func (s *Store) AuthorsPosting(ctx context.Context, term string) ([]domain.AuthorActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.handle, a.display_name, COUNT(p.id)
		FROM authors a
		JOIN posts p ON p.author_id = a.id
		WHERE instr(lower(p.text), lower(?)) > 0
		GROUP BY a.id, a.handle, a.display_name
		ORDER BY a.handle COLLATE NOCASE ASC`,
		term,
	)
	if err != nil {
		return nil, fmt.Errorf("query authors: %w", err)
	}
	defer rows.Close()

	var authors []domain.AuthorActivity
	for rows.Next() {
		var a domain.AuthorActivity
		if err := rows.Scan(&a.ID, &a.Handle, &a.DisplayName, &a.PostCount); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		authors = append(authors, a)
	}
	return authors, rows.Err()
}

// GetCursor retrieves the saved firehose cursor for a service.
func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = ?`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the firehose cursor for a service.
func (s *Store) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET
			cursor_value = excluded.cursor_value,
			updated_at = excluded.updated_at`,
		service, cursor, time.Now().UTC(),
	)
	return err
}

// LoadHistory retrieves the saved history terms, most recent first.
func (s *Store) LoadHistory(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term FROM history ORDER BY position ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, fmt.Errorf("scan history term: %w", err)
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}

// SaveHistory replaces the saved history terms.
func (s *Store) SaveHistory(ctx context.Context, terms []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	for i, term := range terms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (position, term) VALUES (?, ?)`, i, term,
		); err != nil {
			return fmt.Errorf("insert history term: %w", err)
		}
	}
	return tx.Commit()
}
