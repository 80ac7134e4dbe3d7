package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"searchindex/internal/metrics"
)

// IngestStats summarizes one committed ingestion batch.
type IngestStats struct {
	// PostsCreated is the number of posts newly inserted.
	PostsCreated int

	// PostsMatched is the number of posts already present by external ID.
	PostsMatched int

	// ReferencesCreated is the number of references newly inserted.
	ReferencesCreated int

	// OrphansRemoved is the number of rows removed by the pre-commit
	// orphan sweep.
	OrphansRemoved int64
}

// Ingestor reconciles batches of fetched posts into the store. Each batch is
// one transaction: on any failure nothing from the batch persists. Batches
// are serialized; the store sees a single writer.
type Ingestor struct {
	store  Store
	logger *slog.Logger

	mu sync.Mutex
}

// NewIngestor creates an Ingestor backed by the given store.
func NewIngestor(store Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:  store,
		logger: logger,
	}
}

// Ingest reconciles fetched posts for searchTerm in a single transaction.
// Posts already present by external ID gain the new term's references; new
// posts are created together with their author and references. Before commit
// the orphan sweep removes reference-less posts and post-less authors. On any
// error the transaction is rolled back and nothing persists.
func (ing *Ingestor) Ingest(ctx context.Context, searchTerm string, fetched []FetchedPost) (IngestStats, error) {
	return ing.run(ctx, searchTerm, len(fetched), func(w *ingestTx) error {
		_, err := w.findOrCreatePosts(ctx, fetched)
		return err
	})
}

// IngestOne reconciles a single fetched post for searchTerm, with the same
// transactional guarantees as Ingest.
func (ing *Ingestor) IngestOne(ctx context.Context, searchTerm string, fetched FetchedPost) (IngestStats, error) {
	return ing.run(ctx, searchTerm, 1, func(w *ingestTx) error {
		_, err := w.findOrCreatePost(ctx, fetched)
		return err
	})
}

// run executes one ingestion transaction: reconcile, sweep orphans to a fixed
// point, commit. Any error rolls the transaction back with nothing persisted.
func (ing *Ingestor) run(ctx context.Context, searchTerm string, nposts int, reconcile func(w *ingestTx) error) (IngestStats, error) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	logger := ing.logger.With("run_id", uuid.NewString(), "term", searchTerm)

	tx, err := ing.store.Begin(ctx)
	if err != nil {
		return IngestStats{}, fmt.Errorf("begin ingest transaction: %w", err)
	}

	var stats IngestStats
	w := &ingestTx{
		tx:         tx,
		searchTerm: searchTerm,
		authors:    make(map[string]*Author),
		stats:      &stats,
		logger:     logger,
	}

	if err := reconcile(w); err != nil {
		rollback(tx, logger)
		metrics.IngestBatches.WithLabelValues("rolled_back").Inc()
		logger.Error("ingest rolled back", "posts", nposts, "error", err)
		return IngestStats{}, err
	}

	removed, err := sweepOrphans(ctx, tx)
	if err != nil {
		rollback(tx, logger)
		metrics.IngestBatches.WithLabelValues("rolled_back").Inc()
		logger.Error("ingest rolled back", "posts", nposts, "error", err)
		return IngestStats{}, err
	}
	stats.OrphansRemoved = removed

	if err := tx.Commit(); err != nil {
		rollback(tx, logger)
		metrics.IngestBatches.WithLabelValues("rolled_back").Inc()
		return IngestStats{}, fmt.Errorf("%w: %w", ErrCommit, err)
	}

	metrics.IngestBatches.WithLabelValues("committed").Inc()
	metrics.PostsCreated.Add(float64(stats.PostsCreated))
	metrics.PostsMatched.Add(float64(stats.PostsMatched))
	metrics.ReferencesCreated.Add(float64(stats.ReferencesCreated))
	metrics.OrphansRemoved.Add(float64(stats.OrphansRemoved))

	logger.Info("ingest committed",
		"posts", nposts,
		"posts_created", stats.PostsCreated,
		"posts_matched", stats.PostsMatched,
		"references_created", stats.ReferencesCreated,
		"orphans_removed", stats.OrphansRemoved,
	)
	return stats, nil
}

// PurgeTerm removes every reference scoped to searchTerm and, transitively,
// any posts and authors orphaned by the removal. Runs as its own transaction.
// Returns the number of references removed.
func (ing *Ingestor) PurgeTerm(ctx context.Context, searchTerm string) (int64, error) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	logger := ing.logger.With("term", searchTerm)

	tx, err := ing.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin purge transaction: %w", err)
	}

	deleted, err := tx.DeleteReferencesByTerm(ctx, searchTerm)
	if err != nil {
		rollback(tx, logger)
		return 0, fmt.Errorf("delete references for term %q: %w", searchTerm, err)
	}

	removed, err := sweepOrphans(ctx, tx)
	if err != nil {
		rollback(tx, logger)
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		rollback(tx, logger)
		return 0, fmt.Errorf("%w: %w", ErrCommit, err)
	}

	metrics.OrphansRemoved.Add(float64(removed))
	logger.Info("purged search term", "references_deleted", deleted, "orphans_removed", removed)
	return deleted, nil
}

func rollback(tx Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil {
		logger.Error("transaction rollback failed", "error", err)
	}
}

// sweepOrphans removes reference-less posts, post-less authors and post-less
// references, repeating until a full pass removes nothing. Removing a post
// can orphan its author or empty a reference's linked-post set, so a single
// pass is not enough.
func sweepOrphans(ctx context.Context, tx Tx) (int64, error) {
	var total int64
	for {
		posts, err := tx.DeleteOrphanPosts(ctx)
		if err != nil {
			return total, fmt.Errorf("sweep orphan posts: %w", err)
		}
		authors, err := tx.DeleteOrphanAuthors(ctx)
		if err != nil {
			return total, fmt.Errorf("sweep orphan authors: %w", err)
		}
		refs, err := tx.DeleteUnlinkedReferences(ctx)
		if err != nil {
			return total, fmt.Errorf("sweep unlinked references: %w", err)
		}

		pass := posts + authors + refs
		total += pass
		if pass == 0 {
			return total, nil
		}
	}
}

// ingestTx carries the working state for one ingestion transaction. All of it
// is discarded when the transaction ends.
type ingestTx struct {
	tx         Tx
	searchTerm string

	// authors memoizes handles resolved in this transaction so a batch can
	// never create the same author twice.
	authors map[string]*Author

	stats  *IngestStats
	logger *slog.Logger
}

// findOrCreatePosts reconciles the batch in input order. Existing posts are
// found with one batched lookup; each failure deletes the posts created
// earlier in this call before propagating.
func (w *ingestTx) findOrCreatePosts(ctx context.Context, fetched []FetchedPost) ([]*Post, error) {
	externalIDs := lo.Uniq(lo.Map(fetched, func(fp FetchedPost, _ int) string {
		return fp.ID
	}))

	existing, err := w.tx.PostsByExternalIDs(ctx, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("batch post lookup: %w: %w", ErrLookup, err)
	}

	posts := make([]*Post, 0, len(fetched))
	var created []*Post
	for _, fp := range fetched {
		if post, ok := existing[fp.ID]; ok {
			if err := w.insertAllReferences(ctx, fp, post.ID); err != nil {
				w.unwindPosts(ctx, created)
				return nil, err
			}
			posts = append(posts, post)
			w.stats.PostsMatched++
			continue
		}

		post, err := w.createPost(ctx, fp)
		if err != nil {
			w.unwindPosts(ctx, created)
			return nil, err
		}
		created = append(created, post)
		// A batch may carry the same external ID twice; the second
		// occurrence must take the found path.
		existing[fp.ID] = post
		posts = append(posts, post)
	}
	return posts, nil
}

// findOrCreatePost reconciles a single fetched post.
func (w *ingestTx) findOrCreatePost(ctx context.Context, fp FetchedPost) (*Post, error) {
	post, err := w.tx.PostByExternalID(ctx, fp.ID)
	if err != nil {
		return nil, fmt.Errorf("find post %q: %w: %w", fp.ID, ErrLookup, err)
	}
	if post != nil {
		if err := w.insertAllReferences(ctx, fp, post.ID); err != nil {
			return nil, err
		}
		w.stats.PostsMatched++
		return post, nil
	}
	return w.createPost(ctx, fp)
}

func (w *ingestTx) createPost(ctx context.Context, fp FetchedPost) (*Post, error) {
	author, err := w.findOrCreateAuthor(ctx, fp.Author)
	if err != nil {
		return nil, err
	}

	post := &Post{
		ExternalID: fp.ID,
		Text:       fp.Text,
		PostedAt:   fp.CreatedAt,
		AuthorID:   author.ID,
	}
	if err := w.tx.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("create post %q: %w: %w", fp.ID, ErrCreate, err)
	}

	if err := w.insertAllReferences(ctx, fp, post.ID); err != nil {
		if derr := w.tx.DeletePost(ctx, post.ID); derr != nil {
			w.logger.Error("failed to unwind created post", "external_id", fp.ID, "error", derr)
		}
		return nil, err
	}

	w.stats.PostsCreated++
	return post, nil
}

// findOrCreateAuthor resolves a handle to an author, creating one on first
// encounter. The display name seen first wins; re-encounters never update it.
func (w *ingestTx) findOrCreateAuthor(ctx context.Context, fa FetchedAuthor) (*Author, error) {
	if author, ok := w.authors[fa.Handle]; ok {
		return author, nil
	}

	author, err := w.tx.AuthorByHandle(ctx, fa.Handle)
	if err != nil {
		return nil, fmt.Errorf("find author %q: %w: %w", fa.Handle, ErrLookup, err)
	}
	if author == nil {
		author = &Author{
			Handle:      fa.Handle,
			DisplayName: fa.DisplayName,
		}
		if err := w.tx.CreateAuthor(ctx, author); err != nil {
			return nil, fmt.Errorf("create author %q: %w: %w", fa.Handle, ErrCreate, err)
		}
	}

	w.authors[fa.Handle] = author
	return author, nil
}

// insertAllReferences reconciles every reference kind extracted from the
// fetched post against the post identified by postID.
func (w *ingestTx) insertAllReferences(ctx context.Context, fp FetchedPost, postID int64) error {
	groups := []struct {
		kind     ReferenceKind
		keywords []string
	}{
		{KindHashtag, tokenTexts(fp.Hashtags)},
		{KindUserMention, tokenTexts(fp.Mentions)},
		{KindLink, tokenTexts(fp.Links)},
		{KindImage, mediaURLs(fp.Media)},
	}

	for _, g := range groups {
		if err := w.insertReferences(ctx, g.keywords, g.kind, postID); err != nil {
			return err
		}
	}
	return nil
}

// insertReferences reconciles one kind's keywords against a post. Keywords
// repeated within the post are processed once. On failure the references
// created during this call are deleted before the error propagates.
func (w *ingestTx) insertReferences(ctx context.Context, keywords []string, kind ReferenceKind, postID int64) error {
	seen := make(map[string]struct{}, len(keywords))
	var created []int64
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if _, ok := seen[keyword]; ok {
			continue
		}
		seen[keyword] = struct{}{}

		refID, isNew, err := w.findOrCreateReference(ctx, keyword, kind, postID)
		if err != nil {
			for _, id := range created {
				if derr := w.tx.DeleteReference(ctx, id); derr != nil {
					w.logger.Error("failed to unwind created reference", "ref_id", id, "error", derr)
				}
			}
			return err
		}
		if isNew {
			created = append(created, refID)
		}
	}
	return nil
}

// findOrCreateReference looks up the uniqueness key (search term, keyword
// case-insensitive, kind). An existing reference gains the post link and a
// counter increment only if the post is not yet linked; a missing one is
// created with the post linked and a count of 1. More than one match is a
// consistency violation and aborts the ingestion.
func (w *ingestTx) findOrCreateReference(ctx context.Context, keyword string, kind ReferenceKind, postID int64) (int64, bool, error) {
	matches, err := w.tx.ReferencesMatching(ctx, w.searchTerm, keyword, kind)
	if err != nil {
		return 0, false, fmt.Errorf("find reference %q: %w: %w", keyword, ErrLookup, err)
	}

	if len(matches) > 1 {
		return 0, false, fmt.Errorf("%w: %d references match (%q, %q, %s)",
			ErrConsistency, len(matches), w.searchTerm, keyword, kind)
	}

	if len(matches) == 1 {
		ref := matches[0]
		linked, err := w.tx.PostLinked(ctx, ref.ID, postID)
		if err != nil {
			return 0, false, fmt.Errorf("check post link for reference %q: %w: %w", keyword, ErrLookup, err)
		}
		if !linked {
			if err := w.tx.IncrementMentions(ctx, ref.ID); err != nil {
				return 0, false, fmt.Errorf("increment mentions for reference %q: %w: %w", keyword, ErrCreate, err)
			}
			if err := w.tx.LinkPost(ctx, ref.ID, postID); err != nil {
				return 0, false, fmt.Errorf("link post to reference %q: %w: %w", keyword, ErrCreate, err)
			}
		}
		return ref.ID, false, nil
	}

	ref := &Reference{
		SearchTerm:   w.searchTerm,
		Keyword:      keyword,
		Kind:         kind,
		MentionCount: 1,
	}
	if err := w.tx.CreateReference(ctx, ref); err != nil {
		return 0, false, fmt.Errorf("create reference %q: %w: %w", keyword, ErrCreate, err)
	}
	if err := w.tx.LinkPost(ctx, ref.ID, postID); err != nil {
		return 0, false, fmt.Errorf("link post to reference %q: %w: %w", keyword, ErrCreate, err)
	}
	w.stats.ReferencesCreated++
	return ref.ID, true, nil
}

// unwindPosts deletes the posts created earlier in a failed batch call.
func (w *ingestTx) unwindPosts(ctx context.Context, created []*Post) {
	for _, post := range created {
		if err := w.tx.DeletePost(ctx, post.ID); err != nil {
			w.logger.Error("failed to unwind created post", "post_id", post.ID, "error", err)
		}
	}
}

func tokenTexts(tokens []Token) []string {
	return lo.Map(tokens, func(t Token, _ int) string {
		return t.Text
	})
}

func mediaURLs(items []MediaItem) []string {
	return lo.Map(items, func(m MediaItem, _ int) string {
		return m.URL
	})
}
