package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/o2r-project/o2r-finder/internal/gateway"
	"github.com/o2r-project/o2r-finder/internal/gateway/rest"
	"github.com/o2r-project/o2r-finder/internal/index"
	"github.com/o2r-project/o2r-finder/internal/notify"
	"github.com/o2r-project/o2r-finder/internal/provision"
	"github.com/o2r-project/o2r-finder/internal/server"
	"github.com/o2r-project/o2r-finder/internal/store"
	"github.com/o2r-project/o2r-finder/internal/syncer"
	"github.com/o2r-project/o2r-finder/internal/transform"
	"github.com/o2r-project/o2r-finder/internal/watcher"
)

var storeConnect = func(ctx context.Context, cfg store.Config, logger *slog.Logger) (storeProvider, error) {
	p, err := store.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

var engineOpen = func(cfg index.Config, logger *slog.Logger) (index.Engine, error) {
	return index.NewBleve(cfg, logger)
}

var publisherConnect = notify.Connect

// Init connects the dependencies and provisions the index. Every failure
// here is fatal.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.initStore(ctx); err != nil {
		return err
	}
	if err := m.initIndex(ctx); err != nil {
		return err
	}
	if err := m.initSync(ctx); err != nil {
		return err
	}
	if m.opts.SkipHTTP {
		return nil
	}
	m.initServer()
	return nil
}

func (m *Manager) initStore(ctx context.Context) error {
	p, err := storeConnect(ctx, m.cfg.Store, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to connect to primary store: %w", err)
	}
	m.store = p
	return nil
}

// initIndex opens the engine and ensures every partition before anything
// reads or writes it.
func (m *Manager) initIndex(ctx context.Context) error {
	engine, err := engineOpen(m.cfg.Index, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	m.engine = engine

	p := provision.New(engine, provision.OptionsFrom(m.cfg.Index), slog.Default())
	results, err := p.EnsureAll(ctx, provision.Partitions(m.cfg.Index))
	if err != nil {
		return err
	}
	for _, r := range results {
		m.logger.Info("Partition ready",
			"partition", r.Partition,
			"existed", r.Existed,
			"deleted", r.Deleted,
			"created", r.Created,
			"mapping", r.MappingApplied,
		)
	}
	return nil
}

func (m *Manager) initSync(ctx context.Context) error {
	pub, err := publisherConnect(ctx, m.cfg.Notify, slog.Default())
	if err != nil {
		return err
	}
	m.publisher = pub

	m.pipeline = transform.NewPipeline(m.cfg.Transform, nil, nil, slog.Default())
	registry, err := watcher.Build(m.pipeline,
		watcher.Source{
			Entity:     transform.Compendium,
			Collection: m.cfg.Store.Collections.Compendia,
			Partition:  m.cfg.Index.Partitions.Compendia.Name,
			Type:       m.cfg.Index.Partitions.Compendia.Type,
			Settings:   m.cfg.Watchers.Compendia,
		},
		watcher.Source{
			Entity:     transform.Job,
			Collection: m.cfg.Store.Collections.Jobs,
			Partition:  m.cfg.Index.Partitions.Jobs.Name,
			Type:       m.cfg.Index.Partitions.Jobs.Type,
			Settings:   m.cfg.Watchers.Jobs,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to build watcher registry: %w", err)
	}
	m.registry = registry
	m.logger.Info("Watchers registered", "partitions", registry.Partitions())

	m.orchestrator = syncer.New(m.cfg.Sync, registry, m.store, m.engine,
		syncer.WithPublisher(pub),
		syncer.WithLogger(slog.Default()),
	)
	return nil
}

func (m *Manager) initServer() {
	m.gateway = gateway.NewService(m.engine, m.cfg.Gateway, m.cfg.Index.DefaultSize,
		gateway.ResourcesFrom(m.cfg.Index), slog.Default())

	m.server = server.New(m.cfg.Server, slog.Default())
	handler := rest.NewHandler(m.gateway, m.cfg.Gateway,
		rest.WithTransformLog(m.pipeline.Log()),
		rest.WithWatchers(m.orchestrator),
		rest.WithInfo(m.opts.Name, m.opts.Version),
	)
	handler.RegisterRoutes(m.server.Router())
}
