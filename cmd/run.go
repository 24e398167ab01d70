package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/triaged/pkg/buildinfo"
	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage/gateway"
	"github.com/otherjamesbrown/triaged/pkg/triage/observability"
	"github.com/otherjamesbrown/triaged/pkg/triage/scheduler"
)

// NewRunCommand creates the run command: the long-lived daemon driving both
// classification domains.
func NewRunCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	return &cobra.Command{
		Use:   "run",
		Short: "Run the triage daemon",
		Long: `Run the triage daemon: one scheduling harness per enabled classification
domain (priority, progress), each cycling on its own interval under the
daily token budget. The daemon exposes Prometheus metrics and build info
on the configured metrics address and stops cleanly on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(deps.ConfigPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(&cfg.Logging)
			logger.Info("Starting triaged", logging.F("version", buildinfo.String()))

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
			metrics := observability.DefaultTriageMetrics()

			harnesses := buildHarnesses(cfg, st, client, logger,
				scheduler.WithMetrics(metrics),
				scheduler.WithEmitter(emitter),
			)
			if len(harnesses) == 0 {
				return fmt.Errorf("no classification domain enabled")
			}

			var metricsSrv *http.Server
			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				mux.HandleFunc("/buildinfo", buildinfo.Handler("triaged"))
				metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
				go func() {
					logger.Info("Metrics listening", logging.F("addr", cfg.MetricsAddr))
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("Metrics server failed", logging.Err(err))
					}
				}()
			}

			for _, h := range harnesses {
				h.Start()
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case s := <-sig:
				logger.Info("Shutting down", logging.F("signal", s.String()))
			case <-ctx.Done():
				logger.Info("Shutting down", logging.F("reason", "context cancelled"))
			}

			for _, h := range harnesses {
				h.Stop()
			}
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			logger.Info("Stopped")
			return nil
		},
	}
}
