package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/triaged/pkg/db"
	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
)

// domainStatus is one domain's slice of the status report.
type domainStatus struct {
	Enabled     bool   `json:"enabled"`
	Mode        string `json:"mode"`
	Interval    string `json:"interval"`
	TokensToday int    `json:"tokens_today"`
	TokenQuota  int    `json:"token_quota"`
	PendingHint int    `json:"pending_hint"`
}

// statusReport is the full status output.
type statusReport struct {
	Database string                  `json:"database"`
	Domains  map[string]domainStatus `json:"domains"`
}

// NewStatusCommand creates the status command: database health plus
// per-domain budget and backlog information.
func NewStatusCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and today's budget usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(deps.ConfigPath)
			if err != nil {
				return err
			}
			logger := logging.NewNopLogger()

			ctx := cmd.Context()
			pool, st, err := openStore(ctx, deps, cfg, logger)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer pool.Close()

			report := statusReport{
				Database: "ok",
				Domains:  make(map[string]domainStatus),
			}
			if err := db.Ping(ctx, pool); err != nil {
				report.Database = fmt.Sprintf("unreachable: %v", err)
			}

			for _, d := range []struct {
				domain   triage.Domain
				enabled  bool
				mode     string
				interval time.Duration
				quota    int
			}{
				{triage.DomainPriority, cfg.Priority.Enabled, cfg.Priority.Mode, cfg.Priority.Interval, cfg.Priority.DailyTokenQuota},
				{triage.DomainProgress, cfg.Progress.Enabled, cfg.Progress.Mode, cfg.Progress.Interval, cfg.Progress.DailyTokenQuota},
			} {
				ds := domainStatus{
					Enabled:    d.enabled,
					Mode:       d.mode,
					Interval:   d.interval.String(),
					TokenQuota: d.quota,
				}
				if tokens, err := st.TokensUsedToday(ctx, d.domain); err == nil {
					ds.TokensToday = tokens
				}
				if pending, err := st.PendingItems(ctx, d.domain, 10); err == nil {
					ds.PendingHint = len(pending)
				}
				report.Domains[string(d.domain)] = ds
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("Database: %s\n", report.Database)
			for _, name := range []string{string(triage.DomainPriority), string(triage.DomainProgress)} {
				ds := report.Domains[name]
				fmt.Printf("\n%s:\n", name)
				fmt.Printf("  enabled:       %v\n", ds.Enabled)
				fmt.Printf("  mode:          %s\n", ds.Mode)
				fmt.Printf("  interval:      %s\n", ds.Interval)
				fmt.Printf("  tokens today:  %d / %d\n", ds.TokensToday, ds.TokenQuota)
				fmt.Printf("  pending items: %d (first batch)\n", ds.PendingHint)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
