package services

import (
	"context"
	"fmt"
)

// Start runs the HTTP server and the sync orchestrator in the background.
// Fatal errors of either arrive on Errors.
func (m *Manager) Start(ctx context.Context) {
	if m.server != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.server.Start(ctx); err != nil {
				m.report(err)
			}
		}()
	}

	if m.orchestrator != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.logger.Info("Starting sync")
			if err := m.orchestrator.Run(ctx); err != nil {
				m.report(fmt.Errorf("sync stopped: %w", err))
				return
			}
			m.logger.Info("Sync stopped")
		}()
	}
}

// Reindex backfills every watcher once and returns.
func (m *Manager) Reindex(ctx context.Context) error {
	if m.orchestrator == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.orchestrator.Reindex(ctx)
}

func (m *Manager) report(err error) {
	select {
	case m.errs <- err:
	default:
		m.logger.Error("Dropped background error", "error", err)
	}
}
