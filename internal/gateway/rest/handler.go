// Package rest serves the search gateway over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/o2r-project/o2r-finder/internal/gateway"
	"github.com/o2r-project/o2r-finder/internal/server"
	"github.com/o2r-project/o2r-finder/internal/syncer"
	"github.com/o2r-project/o2r-finder/internal/transform"
	"github.com/o2r-project/o2r-finder/pkg/model"
)

// Searcher runs the two kinds of search.
type Searcher interface {
	SimpleSearch(ctx context.Context, q *string, resources string) (*gateway.Response, error)
	ComplexSearch(ctx context.Context, body []byte) (*gateway.Response, error)
}

// StatusProvider reports the state of every watcher.
type StatusProvider interface {
	Status() []syncer.WatcherStatus
}

type Handler struct {
	search  Searcher
	cfg     gateway.Config
	decoder *schema.Decoder

	transforms *transform.Log
	watchers   StatusProvider
	name       string
	version    string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTransformLog exposes the transform log on the status endpoint.
func WithTransformLog(log *transform.Log) HandlerOption {
	return func(h *Handler) { h.transforms = log }
}

// WithWatchers exposes watcher states on the status endpoint.
func WithWatchers(p StatusProvider) HandlerOption {
	return func(h *Handler) { h.watchers = p }
}

// WithInfo sets the service name and version reported by the status endpoint.
func WithInfo(name, version string) HandlerOption {
	return func(h *Handler) {
		h.name = name
		h.version = version
	}
}

func NewHandler(search Searcher, cfg gateway.Config, opts ...HandlerOption) *Handler {
	if search == nil {
		panic("searcher cannot be nil")
	}
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	h := &Handler{
		search:  search,
		cfg:     cfg,
		decoder: decoder,
		name:    "finder",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the finder routes. Unsupported verbs fall through
// to the router's not found handler.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", withTimeout(h.handleSimpleSearch, h.cfg.RequestTimeout))
		r.Post("/search", withTimeout(maxBodySize(h.handleComplexSearch, h.cfg.MaxBodySize), h.cfg.RequestTimeout))
		r.Get("/status", h.statusGuard(h.handleStatus))
	})

	r.Get("/health", withTimeout(h.handleHealth, 5*time.Second))
	r.Handle("/metrics", promhttp.Handler())
}

// writeError writes the {"error": "..."} body every failure carries.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeInternalError answers 499 when the client went away and 500 otherwise.
func writeInternalError(w http.ResponseWriter, err error, message string) {
	if model.IsCanceled(err) {
		w.WriteHeader(499) // Client Closed Request
		return
	}
	slog.Error(message, "error", err)
	writeError(w, http.StatusInternalServerError, message)
}

// writeSearchError maps gateway errors to responses.
func writeSearchError(w http.ResponseWriter, err error, fallback string) {
	var qe *gateway.QueryError
	switch {
	case errors.As(err, &qe):
		writeError(w, qe.Status, qe.Message)
	case model.IsBadRequest(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrUnknownResource):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeInternalError(w, err, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// maxBodySize wraps a handler with request body size limiting
func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// withTimeout bounds the request context. The deadline reaches the index.
func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		return next
	}
	return server.TimeoutMiddleware(timeout)(next).ServeHTTP
}
