package domain

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore hands out a single fakeTx, letting tests inspect what the
// transaction saw and inject failures at any step.
type fakeStore struct {
	tx       *fakeTx
	beginErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tx: newFakeTx()}
}

func (s *fakeStore) Begin(context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.tx.committed = false
	s.tx.rolledBack = false
	return s.tx, nil
}

func (s *fakeStore) PostsContaining(context.Context, string) ([]Post, error) {
	return nil, nil
}

func (s *fakeStore) ReferencesForTerm(context.Context, string) ([]Reference, error) {
	return nil, nil
}

func (s *fakeStore) AuthorsPosting(context.Context, string) ([]AuthorActivity, error) {
	return nil, nil
}

type fakeTx struct {
	posts   map[int64]*Post
	authors map[int64]*Author
	refs    map[int64]*Reference
	links   map[int64]map[int64]struct{} // reference ID -> linked post IDs
	nextID  int64

	committed  bool
	rolledBack bool

	createPostCalls   int
	createAuthorCalls int

	failCreatePostOn     int // fail the Nth CreatePost call, 0 disables
	failCreateRefKeyword string
	failCreateAuthor     bool
	commitErr            error
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		posts:   make(map[int64]*Post),
		authors: make(map[int64]*Author),
		refs:    make(map[int64]*Reference),
		links:   make(map[int64]map[int64]struct{}),
	}
}

func (tx *fakeTx) id() int64 {
	tx.nextID++
	return tx.nextID
}

func (tx *fakeTx) PostsByExternalIDs(_ context.Context, externalIDs []string) (map[string]*Post, error) {
	found := make(map[string]*Post)
	for _, id := range externalIDs {
		for _, post := range tx.posts {
			if post.ExternalID == id {
				found[id] = post
			}
		}
	}
	return found, nil
}

func (tx *fakeTx) PostByExternalID(_ context.Context, externalID string) (*Post, error) {
	for _, post := range tx.posts {
		if post.ExternalID == externalID {
			return post, nil
		}
	}
	return nil, nil
}

func (tx *fakeTx) CreatePost(_ context.Context, post *Post) error {
	tx.createPostCalls++
	if tx.failCreatePostOn > 0 && tx.createPostCalls == tx.failCreatePostOn {
		return errors.New("disk full")
	}
	post.ID = tx.id()
	tx.posts[post.ID] = post
	return nil
}

func (tx *fakeTx) DeletePost(_ context.Context, id int64) error {
	delete(tx.posts, id)
	for _, linked := range tx.links {
		delete(linked, id)
	}
	return nil
}

func (tx *fakeTx) AuthorByHandle(_ context.Context, handle string) (*Author, error) {
	for _, author := range tx.authors {
		if author.Handle == handle {
			return author, nil
		}
	}
	return nil, nil
}

func (tx *fakeTx) CreateAuthor(_ context.Context, author *Author) error {
	tx.createAuthorCalls++
	if tx.failCreateAuthor {
		return errors.New("disk full")
	}
	author.ID = tx.id()
	tx.authors[author.ID] = author
	return nil
}

func (tx *fakeTx) ReferencesMatching(_ context.Context, searchTerm, keyword string, kind ReferenceKind) ([]Reference, error) {
	var matches []Reference
	for _, ref := range tx.refs {
		if ref.SearchTerm == searchTerm && strings.EqualFold(ref.Keyword, keyword) && ref.Kind == kind {
			matches = append(matches, *ref)
		}
	}
	return matches, nil
}

func (tx *fakeTx) CreateReference(_ context.Context, ref *Reference) error {
	if tx.failCreateRefKeyword != "" && ref.Keyword == tx.failCreateRefKeyword {
		return errors.New("disk full")
	}
	ref.ID = tx.id()
	stored := *ref
	tx.refs[ref.ID] = &stored
	tx.links[ref.ID] = make(map[int64]struct{})
	return nil
}

func (tx *fakeTx) DeleteReference(_ context.Context, id int64) error {
	delete(tx.refs, id)
	delete(tx.links, id)
	return nil
}

func (tx *fakeTx) PostLinked(_ context.Context, refID, postID int64) (bool, error) {
	_, ok := tx.links[refID][postID]
	return ok, nil
}

func (tx *fakeTx) LinkPost(_ context.Context, refID, postID int64) error {
	tx.links[refID][postID] = struct{}{}
	return nil
}

func (tx *fakeTx) IncrementMentions(_ context.Context, refID int64) error {
	tx.refs[refID].MentionCount++
	return nil
}

func (tx *fakeTx) DeleteReferencesByTerm(_ context.Context, searchTerm string) (int64, error) {
	var removed int64
	for id, ref := range tx.refs {
		if strings.EqualFold(ref.SearchTerm, searchTerm) {
			delete(tx.refs, id)
			delete(tx.links, id)
			removed++
		}
	}
	return removed, nil
}

func (tx *fakeTx) DeleteOrphanPosts(_ context.Context) (int64, error) {
	var removed int64
	for id := range tx.posts {
		linked := false
		for _, posts := range tx.links {
			if _, ok := posts[id]; ok {
				linked = true
				break
			}
		}
		if !linked {
			delete(tx.posts, id)
			removed++
		}
	}
	return removed, nil
}

func (tx *fakeTx) DeleteOrphanAuthors(_ context.Context) (int64, error) {
	var removed int64
	for id := range tx.authors {
		hasPost := false
		for _, post := range tx.posts {
			if post.AuthorID == id {
				hasPost = true
				break
			}
		}
		if !hasPost {
			delete(tx.authors, id)
			removed++
		}
	}
	return removed, nil
}

func (tx *fakeTx) DeleteUnlinkedReferences(_ context.Context) (int64, error) {
	var removed int64
	for id, posts := range tx.links {
		if len(posts) == 0 {
			delete(tx.refs, id)
			delete(tx.links, id)
			removed++
		}
	}
	return removed, nil
}

func (tx *fakeTx) Commit() error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.rolledBack = true
	return nil
}

// refByKey finds the stored reference matching the uniqueness key, or nil.
func (tx *fakeTx) refByKey(searchTerm, keyword string, kind ReferenceKind) *Reference {
	for _, ref := range tx.refs {
		if ref.SearchTerm == searchTerm && strings.EqualFold(ref.Keyword, keyword) && ref.Kind == kind {
			return ref
		}
	}
	return nil
}

func hashtags(texts ...string) []Token {
	tokens := make([]Token, len(texts))
	for i, text := range texts {
		tokens[i] = Token{Text: text}
	}
	return tokens
}

func fetchedPost(externalID, handle, text string, tags ...string) FetchedPost {
	return FetchedPost{
		ID:        externalID,
		Text:      text,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Author:    FetchedAuthor{Handle: handle, DisplayName: "Someone"},
		Hashtags:  hashtags(tags...),
	}
}

func newTestIngestor(store Store) *Ingestor {
	return NewIngestor(store, slog.New(slog.DiscardHandler))
}

func TestIngestCreatesPostsAuthorsReferences(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	stats, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "cute #cats", "#cats"),
		fetchedPost("at://2", "alice.example", "more #cats and #kittens", "#cats", "#kittens"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.PostsCreated)
	assert.Equal(t, 0, stats.PostsMatched)
	assert.Equal(t, 2, stats.ReferencesCreated)
	assert.True(t, store.tx.committed)

	assert.Equal(t, 1, store.tx.createAuthorCalls, "same handle must resolve to one author")
	assert.Len(t, store.tx.posts, 2)

	shared := store.tx.refByKey("cats", "#cats", KindHashtag)
	require.NotNil(t, shared)
	assert.Equal(t, int64(2), shared.MentionCount)

	single := store.tx.refByKey("cats", "#kittens", KindHashtag)
	require.NotNil(t, single)
	assert.Equal(t, int64(1), single.MentionCount)
}

func TestIngestCollapsesKeywordCase(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "go", []FetchedPost{
		fetchedPost("at://1", "a.example", "#Gophers unite", "#Gophers"),
		fetchedPost("at://2", "b.example", "#gophers forever", "#gophers"),
	})
	require.NoError(t, err)

	assert.Len(t, store.tx.refs, 1)
	ref := store.tx.refByKey("go", "#gophers", KindHashtag)
	require.NotNil(t, ref)
	assert.Equal(t, "#Gophers", ref.Keyword, "first casing seen is the stored one")
	assert.Equal(t, int64(2), ref.MentionCount)
}

func TestIngestMatchedPostGainsNewTermReferences(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "cute #cats #pets", "#cats", "#pets"),
	})
	require.NoError(t, err)

	stats, err := ing.Ingest(context.Background(), "pets", []FetchedPost{
		fetchedPost("at://1", "alice.example", "cute #cats #pets", "#cats", "#pets"),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.PostsCreated)
	assert.Equal(t, 1, stats.PostsMatched)
	assert.Len(t, store.tx.posts, 1, "matched post must not be duplicated")

	// Per-term scoping: the same keywords exist once per search term.
	require.NotNil(t, store.tx.refByKey("cats", "#cats", KindHashtag))
	require.NotNil(t, store.tx.refByKey("pets", "#cats", KindHashtag))
	assert.Len(t, store.tx.refs, 4)
}

func TestIngestDuplicateExternalIDInBatch(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	stats, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "cute #cats", "#cats"),
		fetchedPost("at://1", "alice.example", "cute #cats", "#cats"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.PostsCreated)
	assert.Equal(t, 1, stats.PostsMatched)
	assert.Len(t, store.tx.posts, 1)

	ref := store.tx.refByKey("cats", "#cats", KindHashtag)
	require.NotNil(t, ref)
	assert.Equal(t, int64(1), ref.MentionCount, "one linked post, one mention")
}

func TestIngestIsIdempotent(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	batch := []FetchedPost{
		fetchedPost("at://1", "alice.example", "cute #cats", "#cats"),
	}

	_, err := ing.Ingest(context.Background(), "cats", batch)
	require.NoError(t, err)

	stats, err := ing.Ingest(context.Background(), "cats", batch)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.PostsCreated)
	assert.Equal(t, 1, stats.PostsMatched)
	assert.Equal(t, 0, stats.ReferencesCreated)

	ref := store.tx.refByKey("cats", "#cats", KindHashtag)
	require.NotNil(t, ref)
	assert.Equal(t, int64(1), ref.MentionCount, "re-ingesting a linked post must not bump the counter")
}

func TestIngestSkipsDuplicateAndEmptyKeywords(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "cute #cats #cats", "#cats", "#cats", ""),
	})
	require.NoError(t, err)

	ref := store.tx.refByKey("cats", "#cats", KindHashtag)
	require.NotNil(t, ref)
	assert.Equal(t, int64(1), ref.MentionCount)
	assert.Len(t, store.tx.refs, 1)
}

func TestIngestSweepsReferencelessPosts(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	stats, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "no tokens at all"),
	})
	require.NoError(t, err)

	// The post had nothing to index, so the pre-commit sweep removes it
	// together with its now-orphaned author.
	assert.Equal(t, int64(2), stats.OrphansRemoved)
	assert.Empty(t, store.tx.posts)
	assert.Empty(t, store.tx.authors)
	assert.True(t, store.tx.committed)
}

func TestIngestRollsBackWholeBatchOnCreateFailure(t *testing.T) {
	store := newFakeStore()
	store.tx.failCreatePostOn = 3
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "a.example", "#cats", "#cats"),
		fetchedPost("at://2", "b.example", "#cats", "#cats"),
		fetchedPost("at://3", "c.example", "#cats", "#cats"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCreate)

	assert.True(t, store.tx.rolledBack)
	assert.False(t, store.tx.committed)
	assert.Empty(t, store.tx.posts, "posts created earlier in the batch must be unwound")
}

func TestIngestReferenceFailureUnwindsCreatedPost(t *testing.T) {
	store := newFakeStore()
	store.tx.failCreateRefKeyword = "#boom"
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "#cats #boom", "#cats", "#boom"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCreate)

	assert.True(t, store.tx.rolledBack)
	assert.Empty(t, store.tx.posts, "the post whose references failed must be unwound")
	assert.Empty(t, store.tx.refs, "references created before the failure must be unwound")
}

func TestIngestAuthorFailureAbortsBatch(t *testing.T) {
	store := newFakeStore()
	store.tx.failCreateAuthor = true
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "#cats", "#cats"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCreate)
	assert.True(t, store.tx.rolledBack)
}

func TestIngestConsistencyViolationAborts(t *testing.T) {
	store := newFakeStore()
	// Two rows share the uniqueness key, which a correct store never allows.
	for _, keyword := range []string{"#cats", "#CATS"} {
		id := store.tx.id()
		store.tx.refs[id] = &Reference{ID: id, SearchTerm: "cats", Keyword: keyword, Kind: KindHashtag, MentionCount: 1}
		store.tx.links[id] = map[int64]struct{}{}
	}
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "#cats", "#cats"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsistency)
	assert.True(t, store.tx.rolledBack)
}

func TestIngestBeginError(t *testing.T) {
	store := newFakeStore()
	store.beginErr = errors.New("database locked")
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "cats", nil)
	require.Error(t, err)
}

func TestIngestCommitError(t *testing.T) {
	store := newFakeStore()
	store.tx.commitErr = errors.New("io error")
	ing := newTestIngestor(store)

	_, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://1", "alice.example", "#cats", "#cats"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommit)
	assert.True(t, store.tx.rolledBack)
}

func TestIngestOne(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	fp := FetchedPost{
		ID:        "at://1",
		Text:      "look at this #sunset https://pics.example/1",
		CreatedAt: time.Now(),
		Author:    FetchedAuthor{Handle: "alice.example", DisplayName: "Alice"},
		Hashtags:  hashtags("#sunset"),
		Links:     []Token{{Text: "https://pics.example/1"}},
		Media:     []MediaItem{{URL: "https://cdn.example/img.jpg", AspectRatio: 1.5}},
	}

	stats, err := ing.IngestOne(context.Background(), "sunset", fp)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.PostsCreated)
	assert.Equal(t, 3, stats.ReferencesCreated)
	require.NotNil(t, store.tx.refByKey("sunset", "#sunset", KindHashtag))
	require.NotNil(t, store.tx.refByKey("sunset", "https://pics.example/1", KindLink))
	require.NotNil(t, store.tx.refByKey("sunset", "https://cdn.example/img.jpg", KindImage))
}

func TestPurgeTermRemovesReferencesAndOrphans(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store)

	// "at://shared" matches both terms; "at://only-a" matches only "cats".
	_, err := ing.Ingest(context.Background(), "cats", []FetchedPost{
		fetchedPost("at://shared", "alice.example", "#cats #pets", "#cats", "#pets"),
		fetchedPost("at://only-a", "bob.example", "#cats", "#cats"),
	})
	require.NoError(t, err)
	_, err = ing.Ingest(context.Background(), "pets", []FetchedPost{
		fetchedPost("at://shared", "alice.example", "#cats #pets", "#cats", "#pets"),
	})
	require.NoError(t, err)

	deleted, err := ing.PurgeTerm(context.Background(), "cats")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	// References for "pets" survive, so does the shared post and its author.
	assert.Nil(t, store.tx.refByKey("cats", "#cats", KindHashtag))
	require.NotNil(t, store.tx.refByKey("pets", "#cats", KindHashtag))

	shared, err := store.tx.PostByExternalID(context.Background(), "at://shared")
	require.NoError(t, err)
	assert.NotNil(t, shared)

	exclusive, err := store.tx.PostByExternalID(context.Background(), "at://only-a")
	require.NoError(t, err)
	assert.Nil(t, exclusive, "post only matched by the purged term must be swept")
	assert.Len(t, store.tx.authors, 1, "bob.example must be swept with his only post")
}
