// Package services wires the finder together: store, index, provisioning,
// sync and the HTTP gateway.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/o2r-project/o2r-finder/internal/config"
	"github.com/o2r-project/o2r-finder/internal/gateway"
	"github.com/o2r-project/o2r-finder/internal/index"
	"github.com/o2r-project/o2r-finder/internal/notify"
	"github.com/o2r-project/o2r-finder/internal/server"
	"github.com/o2r-project/o2r-finder/internal/syncer"
	"github.com/o2r-project/o2r-finder/internal/transform"
	"github.com/o2r-project/o2r-finder/internal/watcher"
)

type Options struct {
	Name    string
	Version string
	// SkipHTTP builds everything but the HTTP server, for one-shot commands.
	SkipHTTP bool
}

// storeProvider is the primary store the manager owns.
type storeProvider interface {
	syncer.Source
	Close(ctx context.Context) error
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store        storeProvider
	engine       index.Engine
	publisher    notify.Publisher
	pipeline     *transform.Pipeline
	registry     *watcher.Registry
	orchestrator *syncer.Orchestrator
	gateway      *gateway.Service
	server       server.Service

	errs chan error
	wg   sync.WaitGroup
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	if opts.Name == "" {
		opts.Name = "finder"
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: slog.Default().With("component", "services"),
		errs:   make(chan error, 2),
	}
}

// Orchestrator returns the sync orchestrator once Init has run.
func (m *Manager) Orchestrator() *syncer.Orchestrator {
	return m.orchestrator
}

// Errors delivers fatal errors of the background services.
func (m *Manager) Errors() <-chan error {
	return m.errs
}
