package services

import (
	"context"
)

// Shutdown stops the HTTP server, waits for the background services and
// closes the dependencies. The caller cancels the Start context first.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.server != nil {
		if err := m.server.Stop(ctx); err != nil {
			m.logger.Error("Error shutting down HTTP server", "error", err)
		}
	}

	m.logger.Info("Waiting for background tasks to finish...")
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Background tasks finished")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for background tasks")
	}

	if m.publisher != nil {
		if err := m.publisher.Close(); err != nil {
			m.logger.Error("Error closing publisher", "error", err)
		}
	}
	if m.engine != nil {
		if err := m.engine.Close(); err != nil {
			m.logger.Error("Error closing search index", "error", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(ctx); err != nil {
			m.logger.Error("Error closing primary store", "error", err)
		}
	}
}
