// Package api serves index control and search over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/masahif/lemmasearch/internal/crawler"
	"github.com/masahif/lemmasearch/internal/manager"
	"github.com/masahif/lemmasearch/internal/model"
	"github.com/masahif/lemmasearch/internal/search"
)

// Indexer controls crawl runs and single-page indexing
type Indexer interface {
	IsIndexing() bool
	StartIndexing(ctx context.Context) error
	StopIndexing(ctx context.Context) error
	IndexPage(ctx context.Context, rawURL string) error
	Statistics(ctx context.Context) (*model.Statistics, error)
}

// Searcher answers search queries
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

var (
	errInvalidOffset = errors.New("offset must be zero or positive")
	errInvalidLimit  = errors.New("limit must be zero or positive")
)

type response struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

type statisticsResponse struct {
	Result     bool              `json:"result"`
	Statistics *model.Statistics `json:"statistics"`
}

type searchResponse struct {
	Result bool `json:"result"`
	*search.Response
}

// Handler serves the /api routes
type Handler struct {
	indexer  Indexer
	searcher Searcher
	router   chi.Router
}

// NewHandler creates the API router
func NewHandler(indexer Indexer, searcher Searcher) *Handler {
	h := &Handler{indexer: indexer, searcher: searcher}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/statistics", h.statistics)
		r.Get("/startIndexing", h.startIndexing)
		r.Get("/stopIndexing", h.stopIndexing)
		r.Post("/indexPage", h.indexPage)
		r.Get("/search", h.search)
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.indexer.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statisticsResponse{Result: true, Statistics: stats})
}

func (h *Handler) startIndexing(w http.ResponseWriter, r *http.Request) {
	if err := h.indexer.StartIndexing(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Result: true})
}

func (h *Handler) stopIndexing(w http.ResponseWriter, r *http.Request) {
	if err := h.indexer.StopIndexing(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Result: true})
}

// indexPage is refused while a crawl run is in progress
func (h *Handler) indexPage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", crawler.ErrInvalidURL, err))
		return
	}
	if h.indexer.IsIndexing() {
		writeError(w, r, manager.ErrIndexingInProgress)
		return
	}
	if err := h.indexer.IndexPage(r.Context(), r.PostForm.Get("url")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Result: true})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	offset, err := intParam(params.Get("offset"), errInvalidOffset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(params.Get("limit"), errInvalidLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.searcher.Search(r.Context(), search.Query{
		Text:   params.Get("query"),
		Site:   params.Get("site"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Result: true, Response: resp})
}

// intParam parses an optional non-negative integer
func intParam(value string, invalid error) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, invalid
	}
	return n, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, search.ErrSiteNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrPageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, crawler.ErrInvalidURL),
		errors.Is(err, manager.ErrSiteNotConfigured),
		errors.Is(err, manager.ErrIndexingInProgress),
		errors.Is(err, manager.ErrNotIndexing),
		errors.Is(err, errInvalidOffset),
		errors.Is(err, errInvalidLimit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, response{Result: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
