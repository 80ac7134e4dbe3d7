package domain

import (
	"context"
	"fmt"
	"log/slog"
)

// SearchService is the core domain service. It owns the flow of a search:
// record the term in history, fetch results from the network collaborator,
// ingest them, and serve read queries over the committed graph. It also
// consumes history eviction events and purges the evicted term's references.
type SearchService struct {
	fetcher  Fetcher
	ingestor *Ingestor
	history  *History
	store    Store
	saved    HistoryRepository
	logger   *slog.Logger
}

// NewSearchService creates a SearchService. The saved repository is used to
// persist the history list across restarts.
func NewSearchService(
	fetcher Fetcher,
	ingestor *Ingestor,
	history *History,
	store Store,
	saved HistoryRepository,
	logger *slog.Logger,
) *SearchService {
	return &SearchService{
		fetcher:  fetcher,
		ingestor: ingestor,
		history:  history,
		store:    store,
		saved:    saved,
		logger:   logger,
	}
}

// RestoreHistory loads the saved history list into memory. Called once at
// startup, before the event consumer starts.
func (s *SearchService) RestoreHistory(ctx context.Context) error {
	terms, err := s.saved.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	s.history.Restore(terms)
	return nil
}

// Search records term in the history, fetches up to limit matching posts and
// ingests them as one batch. The history entry is recorded even if the fetch
// or ingestion fails; the term was searched either way.
func (s *SearchService) Search(ctx context.Context, term string, limit int) (IngestStats, error) {
	s.history.Add(term)
	s.persistHistory(ctx)

	fetched, err := s.fetcher.SearchPosts(ctx, term, limit)
	if err != nil {
		return IngestStats{}, fmt.Errorf("fetch posts for %q: %w", term, err)
	}

	stats, err := s.ingestor.Ingest(ctx, term, fetched)
	if err != nil {
		return IngestStats{}, fmt.Errorf("ingest posts for %q: %w", term, err)
	}
	return stats, nil
}

// History returns the search history list.
func (s *SearchService) History() *History {
	return s.history
}

// RemoveHistoryEntry removes the history entry at index and returns it.
func (s *SearchService) RemoveHistoryEntry(ctx context.Context, index int) (string, error) {
	removed, err := s.history.Remove(index)
	if err != nil {
		return "", err
	}
	s.persistHistory(ctx)
	return removed, nil
}

// PostsContaining retrieves committed posts whose text contains term.
func (s *SearchService) PostsContaining(ctx context.Context, term string) ([]Post, error) {
	posts, err := s.store.PostsContaining(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	return posts, nil
}

// PopularReferences retrieves the references scoped to searchTerm mentioned
// by more than one post, in presentation order.
func (s *SearchService) PopularReferences(ctx context.Context, searchTerm string) ([]Reference, error) {
	refs, err := s.store.ReferencesForTerm(ctx, searchTerm)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	return refs, nil
}

// ActiveAuthors retrieves authors whose posts' text contains term, with
// matching-post counts.
func (s *SearchService) ActiveAuthors(ctx context.Context, term string) ([]AuthorActivity, error) {
	authors, err := s.store.AuthorsPosting(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("query authors: %w", err)
	}
	return authors, nil
}

// RunPurger consumes history events until ctx is cancelled. Each eviction
// triggers a purge of the evicted term's references in its own transaction.
// Purge failures are logged and never affect history state, which committed
// before the event was emitted.
func (s *SearchService) RunPurger(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.history.Events():
			if ev.Kind != HistoryEntryEvicted {
				continue
			}
			if _, err := s.ingestor.PurgeTerm(ctx, ev.Term); err != nil {
				s.logger.Error("failed to purge evicted term", "term", ev.Term, "error", err)
			}
		}
	}
}

// persistHistory saves the history list. Failures are logged; history
// mutations themselves never fail on storage grounds.
func (s *SearchService) persistHistory(ctx context.Context) {
	if err := s.saved.SaveHistory(ctx, s.history.Terms()); err != nil {
		s.logger.Error("failed to persist search history", "error", err)
	}
}
