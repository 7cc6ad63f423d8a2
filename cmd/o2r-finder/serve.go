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

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sync the index and serve search requests",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("Starting finder", "version", version)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := services.NewManager(cfg, services.Options{Name: name, Version: version})
	if err := mgr.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	mgr.Start(bgCtx)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down services...")
	case runErr = <-mgr.Errors():
		slog.Error("Service failed, shutting down", "error", runErr)
	}
	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	mgr.Shutdown(shutdownCtx)

	slog.Info("All services stopped")
	return runErr
}
