package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"searchindex/internal/config"
	"searchindex/internal/domain"
)

// Server is the HTTP server exposing the search flow, the committed graph's
// query surface and the search history.
type Server struct {
	cfg        *config.Config
	service    *domain.SearchService
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server around the search service.
func NewServer(cfg *config.Config, service *domain.SearchService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /posts", s.handlePosts)
	mux.HandleFunc("GET /references", s.handleReferences)
	mux.HandleFunc("GET /authors", s.handleAuthors)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("DELETE /history/{index}", s.handleHistoryRemove)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchResponse struct {
	Term              string `json:"term"`
	PostsCreated      int    `json:"postsCreated"`
	PostsMatched      int    `json:"postsMatched"`
	ReferencesCreated int    `json:"referencesCreated"`
	OrphansRemoved    int64  `json:"orphansRemoved"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "q parameter is required")
		return
	}

	limit := s.cfg.SearchLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	stats, err := s.service.Search(r.Context(), term, limit)
	if err != nil {
		s.logger.Error("search failed", "term", term, "error", err)
		writeError(w, http.StatusBadGateway, "SearchFailed", "no new data stored this round")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Term:              term,
		PostsCreated:      stats.PostsCreated,
		PostsMatched:      stats.PostsMatched,
		ReferencesCreated: stats.ReferencesCreated,
		OrphansRemoved:    stats.OrphansRemoved,
	})
}

type postResponse struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"postedAt"`
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "q parameter is required")
		return
	}

	posts, err := s.service.PostsContaining(r.Context(), term)
	if err != nil {
		s.logger.Error("post query failed", "term", term, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to query posts")
		return
	}

	resp := make([]postResponse, len(posts))
	for i, p := range posts {
		resp[i] = postResponse{ID: p.ExternalID, Text: p.Text, PostedAt: p.PostedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": resp})
}

type referenceResponse struct {
	Keyword  string `json:"keyword"`
	Kind     string `json:"kind"`
	Mentions int64  `json:"mentions"`
}

func (s *Server) handleReferences(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("term")
	if term == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "term parameter is required")
		return
	}

	refs, err := s.service.PopularReferences(r.Context(), term)
	if err != nil {
		s.logger.Error("reference query failed", "term", term, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to query references")
		return
	}

	resp := make([]referenceResponse, len(refs))
	for i, ref := range refs {
		resp[i] = referenceResponse{Keyword: ref.Keyword, Kind: string(ref.Kind), Mentions: ref.MentionCount}
	}
	writeJSON(w, http.StatusOK, map[string]any{"references": resp})
}

type authorResponse struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	PostCount   int64  `json:"postCount"`
}

func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "q parameter is required")
		return
	}

	authors, err := s.service.ActiveAuthors(r.Context(), term)
	if err != nil {
		s.logger.Error("author query failed", "term", term, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to query authors")
		return
	}

	resp := make([]authorResponse, len(authors))
	for i, a := range authors {
		resp[i] = authorResponse{Handle: a.Handle, DisplayName: a.DisplayName, PostCount: a.PostCount}
	}
	writeJSON(w, http.StatusOK, map[string]any{"authors": resp})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"terms": s.service.History().Terms()})
}

func (s *Server) handleHistoryRemove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "index must be an integer")
		return
	}

	removed, err := s.service.RemoveHistoryEntry(r.Context(), index)
	if errors.Is(err, domain.ErrIndexOutOfRange) {
		writeError(w, http.StatusNotFound, "NotFound", "no history entry at that index")
		return
	}
	if err != nil {
		s.logger.Error("history removal failed", "index", index, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to remove history entry")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
