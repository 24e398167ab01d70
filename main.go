// Package main provides the triaged entry point. triaged continuously
// classifies work items (tasks, emails, commits, chat messages) by business
// priority and work-progress state, fusing rule-based signal extraction
// with batched LLM inference under a daily token budget.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/triaged/cmd"
	"github.com/otherjamesbrown/triaged/pkg/buildinfo"
)

func main() {
	deps := cmd.DefaultDeps()

	rootCmd := &cobra.Command{
		Use:   "triaged",
		Short: "Continuous work-item triage daemon",
		Long: `triaged classifies heterogeneous work items along two independent axes:
business priority (urgent/high/medium/low) and work-progress state
(not_started/in_progress/blocked/done/stale). Deterministic signal
extraction feeds periodic batched LLM inference, bounded by a daily
token budget per domain.

Run 'triaged run' to start the daemon, 'triaged trigger' for a one-off
cycle, and 'triaged status' for budget and backlog information.`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&deps.ConfigPath, "config", "",
		"config file (default triaged.yaml or $TRIAGE_CONFIG)")

	rootCmd.AddCommand(cmd.NewRunCommand(deps))
	rootCmd.AddCommand(cmd.NewTriggerCommand(deps))
	rootCmd.AddCommand(cmd.NewStatusCommand(deps))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
