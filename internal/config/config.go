package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. Values come from
// environment variables prefixed with SEARCHINDEX_, with sensible defaults.
type Config struct {
	// HTTPAddr is the listen address of the HTTP server.
	HTTPAddr string

	// DatabasePath is the SQLite database file path.
	DatabasePath string

	// AppViewURL is the base URL of the search API.
	AppViewURL string

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL string

	// FirehoseEnabled toggles live ingestion from the firehose.
	FirehoseEnabled bool

	// HistorySize is the search history capacity.
	HistorySize int

	// SearchLimit is the default number of posts fetched per search.
	SearchLimit int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("searchindex")
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":3000")
	v.SetDefault("database_path", "searchindex.db")
	v.SetDefault("appview_url", "")
	v.SetDefault("firehose_url", "wss://jetstream1.us-east.bsky.network/subscribe")
	v.SetDefault("firehose_enabled", true)
	v.SetDefault("history_size", 3)
	v.SetDefault("search_limit", 25)

	cfg := &Config{
		HTTPAddr:        v.GetString("http_addr"),
		DatabasePath:    v.GetString("database_path"),
		AppViewURL:      v.GetString("appview_url"),
		FirehoseURL:     v.GetString("firehose_url"),
		FirehoseEnabled: v.GetBool("firehose_enabled"),
		HistorySize:     v.GetInt("history_size"),
		SearchLimit:     v.GetInt("search_limit"),
	}

	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("SEARCHINDEX_DATABASE_PATH must not be empty")
	}
	if cfg.HistorySize < 1 {
		return nil, fmt.Errorf("SEARCHINDEX_HISTORY_SIZE must be at least 1")
	}
	if cfg.SearchLimit < 1 || cfg.SearchLimit > 100 {
		return nil, fmt.Errorf("SEARCHINDEX_SEARCH_LIMIT must be between 1 and 100")
	}

	return cfg, nil
}
