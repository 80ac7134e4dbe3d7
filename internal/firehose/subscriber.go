package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"searchindex/internal/bluesky"
	"searchindex/internal/domain"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream. Only post events feed the index.
var wantedCollections = []string{
	"app.bsky.feed.post",
}

// Subscriber connects to the Jetstream firehose and ingests live posts whose
// text matches a term currently in the search history, each under the term it
// matched. This keeps the index fresh between explicit searches.
type Subscriber struct {
	url      string
	history  *domain.History
	ingestor *domain.Ingestor
	cursors  domain.CursorRepository
	logger   *slog.Logger
}

// NewSubscriber creates a new firehose subscriber.
func NewSubscriber(
	firehoseURL string,
	history *domain.History,
	ingestor *domain.Ingestor,
	cursors domain.CursorRepository,
	logger *slog.Logger,
) *Subscriber {
	return &Subscriber{
		url:      firehoseURL,
		history:  history,
		ingestor: ingestor,
		cursors:  cursors,
		logger:   logger,
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
					// backoff before reconnecting
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.cursors.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL := s.buildURL(cursor)
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to firehose")

	lastCursorSave := time.Now()
	var latestCursor int64
	var eventsReceived, postsIngested int64
	lastStatsLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var event jetstreamEvent
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		eventsReceived++
		latestCursor = event.TimeUS

		if event.Kind == "commit" && event.Commit != nil {
			if ingested, err := s.handleCommit(ctx, &event); err != nil {
				s.logger.Error("failed to handle commit", "error", err)
			} else if ingested {
				postsIngested++
			}
		}

		// Log stats every 30 seconds
		if time.Since(lastStatsLog) >= 30*time.Second {
			s.logger.Info("firehose stats",
				"events_received", eventsReceived,
				"posts_ingested", postsIngested,
			)
			lastStatsLog = time.Now()
		}

		// Periodically save cursor
		if time.Since(lastCursorSave) >= cursorSaveInterval {
			if err := s.cursors.UpdateCursor(ctx, cursorServiceName, latestCursor); err != nil {
				s.logger.Error("failed to save cursor", "error", err)
			} else {
				lastCursorSave = time.Now()
			}
		}
	}
}

// handleCommit ingests a newly created post under every history term its text
// contains. Posts matching no saved term are skipped; the store's dedup makes
// multi-term matches converge on one post row.
func (s *Subscriber) handleCommit(ctx context.Context, event *jetstreamEvent) (bool, error) {
	commit := event.Commit
	if commit.Collection != "app.bsky.feed.post" || commit.Operation != "create" || commit.Record == nil {
		return false, nil
	}

	terms := matchingTerms(commit.Record.Text, s.history.Terms())
	if len(terms) == 0 {
		return false, nil
	}

	fetched := toFetchedPost(event)

	for _, term := range terms {
		if _, err := s.ingestor.IngestOne(ctx, term, fetched); err != nil {
			return false, fmt.Errorf("ingest live post for %q: %w", term, err)
		}
	}

	s.logger.Info("ingested live post",
		"uri", fetched.ID,
		"terms", terms,
		"text_preview", truncate(fetched.Text, 100),
	)
	return true, nil
}

// toFetchedPost converts a commit event to the domain's fetched-post record.
// Jetstream carries no profile data, so the author's DID stands in for the
// handle and the display name stays empty until a search fills it in.
func toFetchedPost(event *jetstreamEvent) domain.FetchedPost {
	commit := event.Commit
	record := commit.Record

	createdAt, err := time.Parse(time.RFC3339, record.CreatedAt)
	if err != nil {
		createdAt = time.UnixMicro(event.TimeUS).UTC()
	}

	hashtags, mentions, links := bluesky.ExtractTokens(record.Text, record.Facets)

	return domain.FetchedPost{
		ID:        fmt.Sprintf("at://%s/%s/%s", event.DID, commit.Collection, commit.RKey),
		Text:      record.Text,
		CreatedAt: createdAt,
		Author: domain.FetchedAuthor{
			Handle: event.DID,
		},
		Hashtags: hashtags,
		Mentions: mentions,
		Links:    links,
	}
}

// matchingTerms returns the history terms contained in text, case-insensitively.
func matchingTerms(text string, terms []string) []string {
	lowered := strings.ToLower(text)
	var matched []string
	for _, term := range terms {
		if term != "" && strings.Contains(lowered, strings.ToLower(term)) {
			matched = append(matched, term)
		}
	}
	return matched
}

// truncate returns the first n bytes of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
