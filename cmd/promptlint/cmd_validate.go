package main

import (
	"fmt"

	"github.com/promptlint/promptlint/internal/execution"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/orchestration"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <suite.yaml>",
		Short: "Check a suite file without calling any provider",
		Long: `Load a suite, apply defaults and check it: structure, cross references,
provider kinds and prompt templates. No provider is called.`,
		Args: cobra.ExactArgs(1),
		RunE: validateE,
	}
}

func validateE(cmd *cobra.Command, args []string) error {
	suite, err := models.LoadSuite(args[0])
	if err != nil {
		return fmt.Errorf("invalid suite: %w", err)
	}

	registry, err := execution.Build(suite)
	if err != nil {
		return fmt.Errorf("invalid suite: %w", err)
	}
	if _, err := execution.BuildEmbedder(suite); err != nil {
		return fmt.Errorf("invalid suite: %w", err)
	}

	cells, err := orchestration.NewRunner(registry).Expand(suite)
	if err != nil {
		return fmt.Errorf("invalid suite: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d prompt(s) × %d model(s) × %d sampling config(s) = %d cells\n", //nolint:errcheck
		suite.Name, len(suite.Prompts), len(suite.Ladder.Models), len(suite.Sampling), len(cells))
	return nil
}
