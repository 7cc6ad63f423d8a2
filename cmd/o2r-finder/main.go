// Package main is the entry point of the o2r finder.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/o2r-project/o2r-finder/internal/config"
	"github.com/o2r-project/o2r-finder/internal/logging"
)

const name = "o2r-finder"

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   name,
	Short: "Search gateway for research compendia",
	Long: `o2r-finder keeps a search index in step with the compendia and jobs of the
primary store and serves simple and structured search over it.

Without a subcommand it runs "serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().String("config-dir", "configs", "directory holding config.yml and config.local.yml")
}

// loadConfig reads the configuration and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir := "configs"
	if f := cmd.Flag("config-dir"); f != nil {
		dir = f.Value.String()
	}
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Exiting", "error", err)
		fmt.Fprintln(os.Stderr, err)
		_ = logging.Shutdown()
		os.Exit(1)
	}
	_ = logging.Shutdown()
}
