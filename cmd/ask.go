package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querysmith/querysmith/internal/synthesis"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question in natural language and get SQL plus results",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	question := strings.Join(args, " ")
	result, err := a.Synthesis.Synthesize(ctx, connectionID, question)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	printResult(cmd, result)
	return nil
}

func printResult(cmd *cobra.Command, result *synthesis.Result) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "SQL:\n%s\n\n", result.SQL)
	if len(result.Columns) > 0 {
		fmt.Fprintln(out, strings.Join(result.Columns, "\t"))
	}
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(out, strings.Join(cells, "\t"))
	}

	fmt.Fprintf(out, "\n%d rows", result.RowCount)
	if result.Truncated {
		fmt.Fprint(out, " (truncated)")
	}
	if result.CacheHit {
		fmt.Fprint(out, ", cache hit")
	} else {
		fmt.Fprintf(out, ", %d iterations", result.Iterations)
	}
	if result.Score != nil {
		fmt.Fprintf(out, ", score %.2f (%s)", result.Score.Value, result.Score.Rationale)
	}
	fmt.Fprintf(out, ", %s\n", result.Elapsed.Round(timeRounding))
}
