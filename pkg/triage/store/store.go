// Package store defines the persistence contract the pipeline requires of
// its backing store, plus a PostgreSQL implementation and an in-memory fake.
//
// Work items are owned by the external store and read-only to the pipeline.
// "Pending" is derived rather than tracked: an item is pending when it has
// no score row for the domain, or when it changed after its last score.
package store

import (
	"context"
	"time"

	"github.com/otherjamesbrown/triaged/pkg/triage"
)

// ItemReader reads work items from the external store.
type ItemReader interface {
	// PendingItems returns up to limit items needing (re)classification in
	// the domain: never-analyzed items first, then most-recently-updated.
	PendingItems(ctx context.Context, domain triage.Domain, limit int) ([]*triage.WorkItem, error)

	// CorrelatedItems returns items sharing any of the ticket references,
	// excluding the item itself, newest first.
	CorrelatedItems(ctx context.Context, refs []string, excludeID string, limit int) ([]*triage.WorkItem, error)

	// ItemsByIDs returns the items with the given ids.
	ItemsByIDs(ctx context.Context, ids []string) ([]*triage.WorkItem, error)
}

// ScoreStore persists classification scores.
type ScoreStore interface {
	// UpsertScore writes a score, keyed by (item id, domain). The write is
	// idempotent and safe under concurrent writers; an existing manual
	// override is preserved unless the incoming score also carries one.
	UpsertScore(ctx context.Context, score *triage.Score) error

	// GetScore returns the live score for an item in a domain, or
	// errors.ErrNotFound.
	GetScore(ctx context.Context, itemID string, domain triage.Domain) (*triage.Score, error)

	// ScoresByLabel returns all live scores in a domain with the label.
	ScoresByLabel(ctx context.Context, domain triage.Domain, label string) ([]*triage.Score, error)

	// SetOverride freezes an item's score at the given label until cleared.
	SetOverride(ctx context.Context, itemID string, domain triage.Domain, label string) error

	// ClearOverride releases a frozen score back to automatic updates.
	ClearOverride(ctx context.Context, itemID string, domain triage.Domain) error
}

// Ledger tracks daily token consumption. The day boundary is the store's
// local calendar midnight.
type Ledger interface {
	// AppendLedger records one batch's token cost.
	AppendLedger(ctx context.Context, entry *triage.LedgerEntry) error

	// TokensUsedToday returns the domain's token consumption since the
	// start of the current day.
	TokensUsedToday(ctx context.Context, domain triage.Domain) (int, error)
}

// RunStore persists classification audit runs.
type RunStore interface {
	// SaveRun records one inference round-trip for audit.
	SaveRun(ctx context.Context, run *triage.ClassificationRun) error
}

// Store is the full persistence surface the scheduling harness needs.
type Store interface {
	ItemReader
	ScoreStore
	Ledger
	RunStore
}

// startOfDay returns local midnight for t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
