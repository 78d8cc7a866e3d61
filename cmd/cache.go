package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/querysmith/querysmith/internal/cache"
)

var migrateBatchSize int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the semantic cache",
}

var cacheMigrateCmd = &cobra.Command{
	Use:   "migrate-embeddings",
	Short: "Re-embed cache entries written by a different embedder model",
	Long: `Re-embeds every cache entry whose stored embedding came from a model
other than the currently configured one. The migration is resumable:
entries that fail are skipped and picked up by the next run.`,
	RunE: runCacheMigrate,
}

func init() {
	cacheMigrateCmd.Flags().IntVar(&migrateBatchSize, "batch-size",
		cache.DefaultMigrationBatchSize, "entries per batch")

	cacheCmd.AddCommand(cacheMigrateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	report, err := a.Cache.MigrateEmbeddings(ctx, migrateBatchSize)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d entries, %d failed, took %s\n",
		report.Migrated, report.Failed, report.Elapsed.Round(timeRounding))
	return nil
}
