// Package cmd implements the querysmith command-line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/querysmith/querysmith/internal/app"
	"github.com/querysmith/querysmith/internal/config"
	"github.com/querysmith/querysmith/internal/log"
)

var (
	// connectionID selects the target database for commands that query.
	connectionID string

	// verbose enables debug logging.
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "querysmith",
	Short: "Natural-language SQL for your database",
	Long: `QuerySmith turns natural-language questions into verified SQL.

It retrieves curated knowledge about your database (term definitions,
table descriptions, instructions), synthesizes SQL with a self-correcting
agent, and caches answers so near-identical questions skip generation.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&connectionID, "connection", app.DefaultConnectionID,
		"target connection ID")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}

// newLogger builds the CLI logger honoring --verbose.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// setupApp loads configuration and wires the full application. Callers must
// Close the returned app.
func setupApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := config.ValidateAPIKey(); err != nil {
		return nil, err
	}
	return app.Setup(ctx, cfg, newLogger())
}
