package domain

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	posts []FetchedPost
	err   error

	lastTerm  string
	lastLimit int
}

func (f *stubFetcher) SearchPosts(_ context.Context, term string, limit int) ([]FetchedPost, error) {
	f.lastTerm = term
	f.lastLimit = limit
	return f.posts, f.err
}

type fakeHistoryRepo struct {
	terms     []string
	saveCalls int
	loadErr   error
}

func (r *fakeHistoryRepo) LoadHistory(context.Context) ([]string, error) {
	return r.terms, r.loadErr
}

func (r *fakeHistoryRepo) SaveHistory(_ context.Context, terms []string) error {
	r.terms = append([]string(nil), terms...)
	r.saveCalls++
	return nil
}

func newTestService(store Store, fetcher Fetcher, repo HistoryRepository) *SearchService {
	logger := slog.New(slog.DiscardHandler)
	return NewSearchService(
		fetcher,
		NewIngestor(store, logger),
		NewHistory(3, logger),
		store,
		repo,
		logger,
	)
}

func TestSearchFetchesIngestsAndRecordsHistory(t *testing.T) {
	store := newFakeStore()
	fetcher := &stubFetcher{posts: []FetchedPost{
		fetchedPost("at://1", "alice.example", "#cats", "#cats"),
	}}
	repo := &fakeHistoryRepo{}
	svc := newTestService(store, fetcher, repo)

	stats, err := svc.Search(context.Background(), "cats", 25)
	require.NoError(t, err)

	assert.Equal(t, "cats", fetcher.lastTerm)
	assert.Equal(t, 25, fetcher.lastLimit)
	assert.Equal(t, 1, stats.PostsCreated)
	assert.Equal(t, []string{"cats"}, svc.History().Terms())
	assert.Equal(t, []string{"cats"}, repo.terms, "history is persisted on every change")
}

func TestSearchRecordsHistoryEvenWhenFetchFails(t *testing.T) {
	store := newFakeStore()
	fetcher := &stubFetcher{err: errors.New("upstream down")}
	svc := newTestService(store, fetcher, &fakeHistoryRepo{})

	_, err := svc.Search(context.Background(), "cats", 25)
	require.Error(t, err)
	assert.Equal(t, []string{"cats"}, svc.History().Terms(),
		"the term was searched, failed or not")
}

func TestRestoreHistory(t *testing.T) {
	store := newFakeStore()
	repo := &fakeHistoryRepo{terms: []string{"fish", "birds"}}
	svc := newTestService(store, &stubFetcher{}, repo)

	require.NoError(t, svc.RestoreHistory(context.Background()))
	assert.Equal(t, []string{"fish", "birds"}, svc.History().Terms())
}

func TestRestoreHistoryLoadError(t *testing.T) {
	store := newFakeStore()
	repo := &fakeHistoryRepo{loadErr: errors.New("corrupt")}
	svc := newTestService(store, &stubFetcher{}, repo)

	require.Error(t, svc.RestoreHistory(context.Background()))
}

func TestRemoveHistoryEntryPersists(t *testing.T) {
	store := newFakeStore()
	repo := &fakeHistoryRepo{}
	svc := newTestService(store, &stubFetcher{}, repo)

	svc.History().Add("cats")
	svc.History().Add("dogs")

	removed, err := svc.RemoveHistoryEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "cats", removed)
	assert.Equal(t, []string{"dogs"}, repo.terms)

	_, err = svc.RemoveHistoryEntry(context.Background(), 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

// recordingTx reports every per-term reference purge on a channel, so the
// purger's work can be observed without racing on the fake's state.
type recordingTx struct {
	*fakeTx
	purged chan string
}

func (tx *recordingTx) DeleteReferencesByTerm(ctx context.Context, searchTerm string) (int64, error) {
	n, err := tx.fakeTx.DeleteReferencesByTerm(ctx, searchTerm)
	tx.purged <- searchTerm
	return n, err
}

type recordingStore struct {
	tx *recordingTx
}

func (s *recordingStore) Begin(context.Context) (Tx, error) { return s.tx, nil }
func (s *recordingStore) PostsContaining(context.Context, string) ([]Post, error) {
	return nil, nil
}
func (s *recordingStore) ReferencesForTerm(context.Context, string) ([]Reference, error) {
	return nil, nil
}
func (s *recordingStore) AuthorsPosting(context.Context, string) ([]AuthorActivity, error) {
	return nil, nil
}

func TestRunPurgerPurgesEvictedTerms(t *testing.T) {
	store := &recordingStore{tx: &recordingTx{
		fakeTx: newFakeTx(),
		purged: make(chan string, 8),
	}}
	svc := newTestService(store, &stubFetcher{}, &fakeHistoryRepo{})

	// Fill the history to capacity, then push one more to force an eviction.
	for _, term := range []string{"cats", "dogs", "birds", "fish"} {
		svc.History().Add(term)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.RunPurger(ctx)
		close(done)
	}()

	select {
	case term := <-store.tx.purged:
		assert.Equal(t, "cats", term)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the evicted term to be purged")
	}

	cancel()
	<-done
}
