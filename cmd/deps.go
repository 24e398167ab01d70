// Package cmd provides CLI commands for the triaged daemon.
package cmd

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/triaged/config"
	"github.com/otherjamesbrown/triaged/pkg/db"
	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/gateway"
	"github.com/otherjamesbrown/triaged/pkg/triage/observability"
	"github.com/otherjamesbrown/triaged/pkg/triage/scheduler"
	"github.com/otherjamesbrown/triaged/pkg/triage/store"
)

// Deps holds the injectable dependencies for commands. Tests replace the
// constructors; production uses the defaults.
type Deps struct {
	ConfigPath string
	LoadConfig func(path string) (*config.Config, error)
	Connect    func(ctx context.Context, cfg *db.Config) (*pgxpool.Pool, error)
}

// DefaultDeps returns the production dependencies.
func DefaultDeps() *Deps {
	return &Deps{
		LoadConfig: config.LoadConfig,
		Connect: func(ctx context.Context, cfg *db.Config) (*pgxpool.Pool, error) {
			return db.ConnectWithRetry(ctx, cfg, 5, 2*time.Second)
		},
	}
}

// openStore connects to Postgres, ensures the schema, and wraps the pool in
// the triage repository.
func openStore(ctx context.Context, deps *Deps, cfg *config.Config, logger logging.Logger) (*pgxpool.Pool, store.Store, error) {
	pool, err := deps.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, store.NewRepository(pool, logger), nil
}

// buildEmitter constructs the event emitter: Redis-backed when enabled,
// otherwise a no-op.
func buildEmitter(cfg *config.Config) *observability.EventEmitter {
	if !cfg.Redis.Enabled {
		return observability.NewEventEmitter(&observability.NoOpEventPublisher{})
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return observability.NewEventEmitter(observability.NewRedisEventPublisher(client))
}

// buildHarnesses constructs one harness per enabled domain.
func buildHarnesses(cfg *config.Config, st store.Store, client gateway.Client, logger logging.Logger, opts ...scheduler.Option) []*scheduler.Harness {
	var harnesses []*scheduler.Harness
	if cfg.Priority.Enabled {
		hcfg := cfg.Priority.HarnessConfig(triage.DomainPriority)
		harnesses = append(harnesses, scheduler.NewHarness(hcfg, st, client, logger, opts...))
	}
	if cfg.Progress.Enabled {
		hcfg := cfg.Progress.HarnessConfig(triage.DomainProgress)
		harnesses = append(harnesses, scheduler.NewHarness(hcfg, st, client, logger, opts...))
	}
	return harnesses
}
