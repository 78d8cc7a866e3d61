package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/querysmith/querysmith/internal/knowledge"
)

var (
	insCondition string
	insRules     string
	insDefault   bool
)

var instructionsCmd = &cobra.Command{
	Use:   "instructions",
	Short: "Manage per-connection SQL generation instructions",
}

var instructionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an instruction",
	RunE:  runInstructionsAdd,
}

var instructionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instructions for the connection",
	RunE:  runInstructionsList,
}

var instructionsRemoveCmd = &cobra.Command{
	Use:   "remove [instruction-id]",
	Short: "Remove an instruction",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstructionsRemove,
}

func init() {
	instructionsAddCmd.Flags().StringVar(&insCondition, "when", "", "condition text; matched against prompts")
	instructionsAddCmd.Flags().StringVar(&insRules, "rules", "", "rules to apply when the condition matches")
	instructionsAddCmd.Flags().BoolVar(&insDefault, "default", false, "apply to every prompt for this connection")
	_ = instructionsAddCmd.MarkFlagRequired("rules")

	instructionsCmd.AddCommand(instructionsAddCmd, instructionsListCmd, instructionsRemoveCmd)
	rootCmd.AddCommand(instructionsCmd)
}

func runInstructionsAdd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if !insDefault && insCondition == "" {
		return fmt.Errorf("--when is required unless --default is set")
	}
	condition := insCondition
	if condition == "" {
		condition = insRules
	}

	ins := &knowledge.Instruction{
		ConnectionID:  connectionID,
		ConditionText: condition,
		RulesText:     insRules,
		IsDefault:     insDefault,
	}
	if err := a.Instruction.Create(ctx, ins); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added instruction %s\n", ins.ID)
	return nil
}

func runInstructionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	instructions, err := a.Instruction.List(ctx, connectionID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ins := range instructions {
		kind := "learned"
		if ins.IsDefault {
			kind = "default"
		}
		fmt.Fprintf(out, "%s\t%s\twhen: %s\n\t%s\n", ins.ID, kind, ins.ConditionText, ins.RulesText)
	}
	fmt.Fprintf(out, "%d instructions\n", len(instructions))
	return nil
}

func runInstructionsRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid instruction ID: %w", err)
	}
	if err := a.Instruction.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Removed")
	return nil
}
