package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pferrors "github.com/otherjamesbrown/triaged/pkg/errors"
	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
)

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewRepository creates a Repository.
func NewRepository(pool *pgxpool.Pool, logger logging.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger.With(logging.F("component", "store")),
	}
}

// PendingItems selects items needing (re)classification: no score row for
// the domain, or updated after the score's last write. Never-analyzed items
// come first, then most-recently-updated.
func (r *Repository) PendingItems(ctx context.Context, domain triage.Domain, limit int) ([]*triage.WorkItem, error) {
	query := `
		SELECT w.id, w.item_type, w.source, w.title, w.content, w.sender,
		       w.ticket_refs, w.created_at, w.updated_at, s.updated_at AS analyzed_at
		FROM work_items w
		LEFT JOIN triage_scores s ON s.item_id = w.id AND s.domain = $1
		WHERE s.item_id IS NULL OR w.updated_at > s.updated_at
		ORDER BY (s.item_id IS NULL) DESC, w.updated_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(domain), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// CorrelatedItems returns items sharing any ticket reference, newest first.
func (r *Repository) CorrelatedItems(ctx context.Context, refs []string, excludeID string, limit int) ([]*triage.WorkItem, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	query := `
		SELECT w.id, w.item_type, w.source, w.title, w.content, w.sender,
		       w.ticket_refs, w.created_at, w.updated_at, NULL::timestamptz
		FROM work_items w
		WHERE w.ticket_refs && $1 AND w.id <> $2
		ORDER BY w.updated_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, refs, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlated items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ItemsByIDs returns the items with the given ids.
func (r *Repository) ItemsByIDs(ctx context.Context, ids []string) ([]*triage.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT w.id, w.item_type, w.source, w.title, w.content, w.sender,
		       w.ticket_refs, w.created_at, w.updated_at, NULL::timestamptz
		FROM work_items w
		WHERE w.id = ANY($1)
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query items by id: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// UpsertScore writes a score keyed by (item_id, domain). A row frozen by a
// manual override is left untouched unless the incoming score carries the
// override flag itself (the caller is setting or refreshing it) or is marked
// as superseding by a validated transition.
func (r *Repository) UpsertScore(ctx context.Context, score *triage.Score) error {
	sigs, err := json.Marshal(score.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}

	query := `
		INSERT INTO triage_scores (
			item_id, domain, label, confidence, reasoning, signals,
			manual_override, last_activity_at, updated_at, model
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (item_id, domain) DO UPDATE SET
			label            = EXCLUDED.label,
			confidence       = EXCLUDED.confidence,
			reasoning        = EXCLUDED.reasoning,
			signals          = EXCLUDED.signals,
			manual_override  = EXCLUDED.manual_override,
			last_activity_at = EXCLUDED.last_activity_at,
			updated_at       = EXCLUDED.updated_at,
			model            = EXCLUDED.model
		WHERE triage_scores.manual_override = FALSE OR EXCLUDED.manual_override = TRUE OR $11
	`
	var lastActivity *time.Time
	if !score.LastActivityAt.IsZero() {
		lastActivity = &score.LastActivityAt
	}
	_, err = r.pool.Exec(ctx, query,
		score.ItemID,
		string(score.Domain),
		score.Label,
		score.Confidence,
		score.Reasoning,
		sigs,
		score.ManualOverride,
		lastActivity,
		score.UpdatedAt,
		score.Model,
		score.Supersede,
	)
	if err != nil {
		return pferrors.New(pferrors.ErrPersistence, "store", fmt.Sprintf("upsert score for %s: %v", score.ItemID, err), err)
	}
	return nil
}

// GetScore returns the live score for an item in a domain.
func (r *Repository) GetScore(ctx context.Context, itemID string, domain triage.Domain) (*triage.Score, error) {
	query := `
		SELECT item_id, domain, label, confidence, reasoning, signals,
		       manual_override, last_activity_at, updated_at, model
		FROM triage_scores
		WHERE item_id = $1 AND domain = $2
	`
	score, err := scanScore(r.pool.QueryRow(ctx, query, itemID, string(domain)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pferrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	return score, nil
}

// ScoresByLabel returns all live scores in a domain with the label.
func (r *Repository) ScoresByLabel(ctx context.Context, domain triage.Domain, label string) ([]*triage.Score, error) {
	query := `
		SELECT item_id, domain, label, confidence, reasoning, signals,
		       manual_override, last_activity_at, updated_at, model
		FROM triage_scores
		WHERE domain = $1 AND label = $2
	`
	rows, err := r.pool.Query(ctx, query, string(domain), label)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores by label: %w", err)
	}
	defer rows.Close()

	var scores []*triage.Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// SetOverride freezes an item's score at the given label.
func (r *Repository) SetOverride(ctx context.Context, itemID string, domain triage.Domain, label string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE triage_scores
		SET label = $3, manual_override = TRUE, updated_at = NOW()
		WHERE item_id = $1 AND domain = $2
	`, itemID, string(domain), label)
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pferrors.ErrNotFound
	}
	return nil
}

// ClearOverride releases a frozen score back to automatic updates.
func (r *Repository) ClearOverride(ctx context.Context, itemID string, domain triage.Domain) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE triage_scores
		SET manual_override = FALSE, updated_at = NOW()
		WHERE item_id = $1 AND domain = $2
	`, itemID, string(domain))
	if err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pferrors.ErrNotFound
	}
	return nil
}

// AppendLedger records one batch's token cost.
func (r *Repository) AppendLedger(ctx context.Context, entry *triage.LedgerEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO triage_token_ledger (domain, tokens, item_count, model, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, string(entry.Domain), entry.Tokens, entry.ItemCount, entry.Model, entry.RecordedAt)
	if err != nil {
		return pferrors.New(pferrors.ErrPersistence, "store", fmt.Sprintf("append ledger: %v", err), err)
	}
	return nil
}

// TokensUsedToday sums the domain's ledger rows since local midnight.
func (r *Repository) TokensUsedToday(ctx context.Context, domain triage.Domain) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(tokens), 0)
		FROM triage_token_ledger
		WHERE domain = $1 AND recorded_at >= date_trunc('day', NOW())
	`, string(domain)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return total, nil
}

// SaveRun records one inference round-trip for audit.
func (r *Repository) SaveRun(ctx context.Context, run *triage.ClassificationRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO triage_runs (
			id, domain, item_count, model, input_tokens, output_tokens,
			latency_ms, status, parse_error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.ID, string(run.Domain), run.ItemCount, run.Model, run.InputTokens,
		run.OutputTokens, run.LatencyMs, run.Status, run.ParseError, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// scanItems reads work item rows.
func scanItems(rows pgx.Rows) ([]*triage.WorkItem, error) {
	var items []*triage.WorkItem
	for rows.Next() {
		var (
			item       triage.WorkItem
			itemType   string
			source     string
			analyzedAt *time.Time
		)
		if err := rows.Scan(&item.ID, &itemType, &source, &item.Title, &item.Content,
			&item.Sender, &item.TicketRefs, &item.CreatedAt, &item.UpdatedAt, &analyzedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		item.Type = triage.ItemType(itemType)
		item.Source = triage.SourceTag(source)
		item.LastAnalyzedAt = analyzedAt
		items = append(items, &item)
	}
	return items, rows.Err()
}

// scanScore reads one score row.
func scanScore(row pgx.Row) (*triage.Score, error) {
	var (
		score        triage.Score
		domain       string
		sigs         []byte
		lastActivity *time.Time
	)
	if err := row.Scan(&score.ItemID, &domain, &score.Label, &score.Confidence,
		&score.Reasoning, &sigs, &score.ManualOverride, &lastActivity,
		&score.UpdatedAt, &score.Model); err != nil {
		return nil, err
	}
	score.Domain = triage.Domain(domain)
	if lastActivity != nil {
		score.LastActivityAt = *lastActivity
	}
	if len(sigs) > 0 {
		if err := json.Unmarshal(sigs, &score.Signals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signals: %w", err)
		}
	}
	return &score, nil
}

// Verify interface compliance.
var _ Store = (*Repository)(nil)
