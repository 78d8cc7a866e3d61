package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/querysmith/querysmith/internal/benchmark"
)

var (
	benchSuiteFile string
	benchAssetIDs  []string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Create and run benchmark suites",
}

var benchImportCmd = &cobra.Command{
	Use:   "import [suite.json]",
	Short: "Import a benchmark suite from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBenchImport,
}

var benchRunCmd = &cobra.Command{
	Use:   "run [suite-name]",
	Short: "Run a benchmark suite against the connection",
	Args:  cobra.ExactArgs(1),
	RunE:  runBenchRun,
}

var benchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List benchmark suites",
	RunE:  runBenchList,
}

func init() {
	benchRunCmd.Flags().StringSliceVar(&benchAssetIDs, "asset", nil,
		"restrict retrieved knowledge to these published asset IDs (repeatable)")

	benchCmd.AddCommand(benchImportCmd, benchRunCmd, benchListCmd)
	rootCmd.AddCommand(benchCmd)
}

// suiteFile is the JSON import format for a suite.
type suiteFile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Cases       []struct {
		Name       string `json:"name"`
		Prompt     string `json:"prompt"`
		Severity   string `json:"severity"`
		CheckKind  string `json:"check_kind"`
		CheckValue string `json:"check_value"`
	} `json:"cases"`
}

func runBenchImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read suite file: %w", err)
	}
	var sf suiteFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse suite file: %w", err)
	}
	if sf.Name == "" || len(sf.Cases) == 0 {
		return fmt.Errorf("suite needs a name and at least one case")
	}

	queries := benchmark.NewQueries(a.DBPool)
	suiteID, err := queries.InsertSuite(ctx, &benchmark.Suite{
		Name:        sf.Name,
		Description: sf.Description,
	})
	if err != nil {
		return fmt.Errorf("insert suite: %w", err)
	}

	for i, c := range sf.Cases {
		_, err := queries.InsertCase(ctx, &benchmark.Case{
			SuiteID:    suiteID,
			Position:   i + 1,
			Name:       c.Name,
			Prompt:     c.Prompt,
			Severity:   benchmark.Severity(c.Severity),
			CheckKind:  benchmark.CheckKind(c.CheckKind),
			CheckValue: c.CheckValue,
		})
		if err != nil {
			return fmt.Errorf("insert case %q: %w", c.Name, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported suite %q with %d cases (%s)\n",
		sf.Name, len(sf.Cases), suiteID)
	return nil
}

func runBenchRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	queries := benchmark.NewQueries(a.DBPool)
	suite, err := queries.GetSuiteByName(ctx, args[0])
	if err != nil {
		return err
	}

	var assetIDs []uuid.UUID
	for _, raw := range benchAssetIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid asset ID %q: %w", raw, err)
		}
		assetIDs = append(assetIDs, id)
	}

	card, err := a.Benchmarks.Run(ctx, suite.ID, connectionID, assetIDs)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), card.String())
	return nil
}

func runBenchList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	suites, err := benchmark.NewQueries(a.DBPool).ListSuites(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range suites {
		fmt.Fprintf(out, "%s\t%s\t%s\n", s.ID, s.Name, s.Description)
	}
	fmt.Fprintf(out, "%d suites\n", len(suites))
	return nil
}
