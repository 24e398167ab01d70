package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema DDL for the tables owned by the triage pipeline. Work items live in
// the external store; only scores, the token ledger, and audit runs are ours.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS triage_scores (
		item_id          TEXT        NOT NULL,
		domain           TEXT        NOT NULL,
		label            TEXT        NOT NULL,
		confidence       REAL        NOT NULL,
		reasoning        TEXT        NOT NULL DEFAULT '',
		signals          JSONB       NOT NULL DEFAULT '[]',
		manual_override  BOOLEAN     NOT NULL DEFAULT FALSE,
		last_activity_at TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		model            TEXT        NOT NULL DEFAULT '',
		PRIMARY KEY (item_id, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS triage_token_ledger (
		id          BIGSERIAL   PRIMARY KEY,
		domain      TEXT        NOT NULL,
		tokens      INTEGER     NOT NULL,
		item_count  INTEGER     NOT NULL DEFAULT 0,
		model       TEXT        NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_token_ledger_recorded_at
		ON triage_token_ledger (recorded_at)`,
	`CREATE TABLE IF NOT EXISTS triage_runs (
		id            TEXT        PRIMARY KEY,
		domain        TEXT        NOT NULL,
		item_count    INTEGER     NOT NULL,
		model         TEXT        NOT NULL DEFAULT '',
		input_tokens  INTEGER     NOT NULL DEFAULT 0,
		output_tokens INTEGER     NOT NULL DEFAULT 0,
		latency_ms    INTEGER     NOT NULL DEFAULT 0,
		status        TEXT        NOT NULL,
		parse_error   TEXT        NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the pipeline's tables if they do not exist. Statements
// are idempotent so repeated startup is safe.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
