package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Service is the HTTP front of the finder.
type Service interface {
	// Start starts the HTTP listener.
	// It blocks until a fatal error occurs or the context is canceled.
	Start(ctx context.Context) error

	// Stop initiates a graceful shutdown.
	// It waits for active connections to drain or for the context to expire.
	Stop(ctx context.Context) error

	// Router returns the router handlers are mounted on.
	// Routes must be registered BEFORE Start().
	Router() chi.Router

	// Handler returns the router wrapped in the middleware chain.
	Handler() http.Handler
}
