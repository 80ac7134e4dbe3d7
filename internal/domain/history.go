package domain

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"

	"searchindex/internal/metrics"
)

// DefaultHistorySize is the history capacity used when none is configured.
const DefaultHistorySize = 3

// HistoryEventKind discriminates history events.
type HistoryEventKind string

const (
	// HistoryEntryAdded is emitted when a term lands at the front of the
	// list, whether new or promoted.
	HistoryEntryAdded HistoryEventKind = "added"

	// HistoryEntryEvicted is emitted when a term leaves the list, either
	// by capacity eviction or explicit removal.
	HistoryEntryEvicted HistoryEventKind = "evicted"
)

// HistoryEvent is a fire-and-forget notification about a history change. By
// the time a consumer observes it, the history has already changed state.
type HistoryEvent struct {
	Kind HistoryEventKind
	Term string
}

// History is a bounded recency list of search terms, most recent first, with
// case-insensitive uniqueness. Exceeding capacity evicts the oldest entry.
// Consumers watch Events for additions and evictions. Safe for concurrent use.
type History struct {
	capacity int
	logger   *slog.Logger

	mu    sync.Mutex
	terms []string

	events chan HistoryEvent
}

// NewHistory creates an empty history. A capacity below 1 falls back to
// DefaultHistorySize.
func NewHistory(capacity int, logger *slog.Logger) *History {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity: capacity,
		logger:   logger,
		events:   make(chan HistoryEvent, 64),
	}
}

// Events returns the channel on which history events are delivered.
func (h *History) Events() <-chan HistoryEvent {
	return h.events
}

// Restore replaces the list with previously saved terms, without emitting
// events. Terms beyond capacity are dropped.
func (h *History) Restore(terms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(terms) > h.capacity {
		terms = terms[:h.capacity]
	}
	h.terms = append([]string(nil), terms...)
}

// Add records a search of term. A case-insensitive duplicate is removed from
// its current position first; the term always lands at the front. When the
// list would exceed capacity, the oldest entry is evicted and an eviction
// event emitted. An added event is always emitted.
func (h *History) Add(term string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := lo.Filter(h.terms, func(t string, _ int) bool {
		return !strings.EqualFold(t, term)
	})

	if len(kept) > 0 && len(kept) >= h.capacity {
		evicted := kept[len(kept)-1]
		kept = kept[:len(kept)-1]
		h.emit(HistoryEvent{Kind: HistoryEntryEvicted, Term: evicted})
	}

	h.terms = append([]string{term}, kept...)
	h.emit(HistoryEvent{Kind: HistoryEntryAdded, Term: term})
}

// Remove deletes and returns the entry at index, emitting an eviction event.
// Returns ErrIndexOutOfRange if index is outside the list.
func (h *History) Remove(index int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if index < 0 || index >= len(h.terms) {
		return "", ErrIndexOutOfRange
	}

	removed := h.terms[index]
	h.terms = append(h.terms[:index], h.terms[index+1:]...)
	h.emit(HistoryEvent{Kind: HistoryEntryEvicted, Term: removed})
	return removed, nil
}

// Get returns the entry at index. Returns ErrIndexOutOfRange if index is
// outside the list.
func (h *History) Get(index int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if index < 0 || index >= len(h.terms) {
		return "", ErrIndexOutOfRange
	}
	return h.terms[index], nil
}

// Contains reports whether term is in the list, case-insensitively.
func (h *History) Contains(term string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return lo.ContainsBy(h.terms, func(t string) bool {
		return strings.EqualFold(t, term)
	})
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.terms)
}

// Terms returns a copy of the list, most recent first.
func (h *History) Terms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.terms...)
}

// emit delivers an event without blocking. A consumer that falls 64 events
// behind loses the oldest notifications; history state is unaffected.
func (h *History) emit(ev HistoryEvent) {
	metrics.HistoryEvents.WithLabelValues(string(ev.Kind)).Inc()
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("history event dropped, consumer too slow", "kind", ev.Kind, "term", ev.Term)
	}
}
