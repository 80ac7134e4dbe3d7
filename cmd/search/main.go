package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"searchindex/internal/bluesky"
	"searchindex/internal/domain"
	"searchindex/internal/sqlite"
)

// One-shot search: fetch posts for a term, ingest them into the local store,
// and print what the index now holds for that term. Useful for seeding a
// database or inspecting reconciliation without running the server.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		term    string
		limit   int
		dbPath  string
		appview string
		verbose bool
	)

	flag.StringVar(&term, "term", "", "Search term (required)")
	flag.IntVar(&limit, "limit", 25, "Maximum posts to fetch (1-100)")
	flag.StringVar(&dbPath, "db", envOrDefault("SEARCHINDEX_DATABASE_PATH", "searchindex.db"), "SQLite database path")
	flag.StringVar(&appview, "appview", envOrDefault("SEARCHINDEX_APPVIEW_URL", ""), "AppView base URL")
	flag.BoolVar(&verbose, "v", false, "Log at debug level")
	flag.Parse()

	if term == "" {
		return fmt.Errorf("--term is required")
	}
	if limit < 1 || limit > 100 {
		return fmt.Errorf("--limit must be between 1 and 100")
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	ingestor := domain.NewIngestor(store, logger)
	client := bluesky.NewClient(appview)

	fmt.Printf("Searching for %q...\n", term)
	fetched, err := client.SearchPosts(ctx, term, limit)
	if err != nil {
		return err
	}
	fmt.Printf("Fetched %d posts\n", len(fetched))

	stats, err := ingestor.Ingest(ctx, term, fetched)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested: %d created, %d already present, %d new references, %d orphans removed\n",
		stats.PostsCreated, stats.PostsMatched, stats.ReferencesCreated, stats.OrphansRemoved)

	refs, err := store.ReferencesForTerm(ctx, term)
	if err != nil {
		return err
	}

	fmt.Printf("Popular references for %q:\n", term)
	for _, ref := range refs {
		fmt.Printf("  %-12s %4d  %s\n", ref.Kind, ref.MentionCount, ref.Keyword)
	}
	if len(refs) == 0 {
		fmt.Println("  (none with more than one mention yet)")
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
