package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/o2r-project/o2r-finder/internal/services"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Provision the index, backfill every watcher and exit",
	Long: `reindex ensures every partition exists and indexes all records of the
watched collections once, whatever their fetch_existing setting. Combine
with FINDER_RECREATE_INDEX=true to rebuild from scratch.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mgr := services.NewManager(cfg, services.Options{Name: name, Version: version, SkipHTTP: true})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			mgr.Shutdown(shutdownCtx)
		}()

		if err := mgr.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		if err := mgr.Reindex(ctx); err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
		for _, s := range mgr.Orchestrator().Status() {
			slog.Info("Reindexed", "collection", s.Collection, "partition", s.Partition, "records", s.Backfilled)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
