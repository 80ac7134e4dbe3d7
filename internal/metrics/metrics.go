// Package metrics exposes prometheus collectors for the ingestion engine and
// the search history. Serve promhttp.Handler() to scrape them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestBatches counts ingestion transactions by result, either
	// "committed" or "rolled_back".
	IngestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchindex_ingest_batches_total",
		Help: "Ingestion transactions by result.",
	}, []string{"result"})

	// PostsCreated counts posts newly inserted by committed batches.
	PostsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "searchindex_posts_created_total",
		Help: "Posts newly inserted by committed ingestion batches.",
	})

	// PostsMatched counts posts found already present during ingestion.
	PostsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "searchindex_posts_matched_total",
		Help: "Posts already present by unique ID during ingestion.",
	})

	// ReferencesCreated counts references newly inserted by committed batches.
	ReferencesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "searchindex_references_created_total",
		Help: "References newly inserted by committed ingestion batches.",
	})

	// OrphansRemoved counts rows removed by the pre-commit orphan sweep.
	OrphansRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "searchindex_orphans_removed_total",
		Help: "Rows removed by the orphan sweep.",
	})

	// HistoryEvents counts search history events by kind.
	HistoryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchindex_history_events_total",
		Help: "Search history events by kind.",
	}, []string{"kind"})
)
