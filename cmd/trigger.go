package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/gateway"
)

// NewTriggerCommand creates the trigger command: one immediate cycle per
// selected domain, without starting the recurring timers.
func NewTriggerCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	var domainFlag string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run one classification cycle now",
		Long: `Run one classification cycle immediately for the selected domain(s),
re-entering the same cycle logic the daemon's timers drive. The daily
token quota still applies.

Examples:
  triaged trigger
  triaged trigger --domain priority`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(deps.ConfigPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(&cfg.Logging)

			ctx := cmd.Context()
			pool, st, err := openStore(ctx, deps, cfg, logger)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer pool.Close()

			client := gateway.NewOpenAIProvider(cfg.Gateway)
			defer client.Close()

			emitter := buildEmitter(cfg)
			defer emitter.Close()

			harnesses := buildHarnesses(cfg, st, client, logger)
			triggered := 0
			for _, h := range harnesses {
				if domainFlag != "all" && string(h.Domain()) != domainFlag {
					continue
				}
				triggered++
				fmt.Printf("Triggering %s cycle...\n", h.Domain())
				if err := h.TriggerNow(ctx); err != nil {
					return fmt.Errorf("%s cycle: %w", h.Domain(), err)
				}
				snap := h.Stats()
				fmt.Printf("  items today: %d, tokens today: %d\n", snap.ItemsToday, snap.TokensToday)
			}
			if triggered == 0 {
				return fmt.Errorf("no enabled domain matches %q (valid: %s, %s, all)",
					domainFlag, triage.DomainPriority, triage.DomainProgress)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&domainFlag, "domain", "all", "domain to trigger (priority, progress, all)")
	return cmd
}
