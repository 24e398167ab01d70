package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	pferrors "github.com/otherjamesbrown/triaged/pkg/errors"
	"github.com/otherjamesbrown/triaged/pkg/itemid"
	"github.com/otherjamesbrown/triaged/pkg/triage"
)

// MemoryStore is an in-memory Store for tests and local development. All
// operations are safe under concurrent writers, mirroring the upsert
// guarantees the pipeline requires of the real store.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]*triage.WorkItem
	scores map[string]*triage.Score // key: itemID + "/" + domain
	ledger []*triage.LedgerEntry
	runs   []*triage.ClassificationRun
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]*triage.WorkItem),
		scores: make(map[string]*triage.Score),
		now:    time.Now,
	}
}

// SetClock overrides the time source used for the ledger day boundary.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AddItem seeds a work item, minting a typed id when the item carries none.
func (m *MemoryStore) AddItem(item *triage.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = itemid.ForItem(item.Type)
	}
	m.items[item.ID] = item
}

func scoreKey(itemID string, domain triage.Domain) string {
	return itemID + "/" + string(domain)
}

// PendingItems returns items with no score for the domain or updated since
// their last score, never-analyzed first, then most-recently-updated.
func (m *MemoryStore) PendingItems(ctx context.Context, domain triage.Domain, limit int) ([]*triage.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type pending struct {
		item     *triage.WorkItem
		analyzed bool
	}
	var out []pending
	for _, item := range m.items {
		score, ok := m.scores[scoreKey(item.ID, domain)]
		if !ok {
			out = append(out, pending{item, false})
		} else if item.UpdatedAt.After(score.UpdatedAt) {
			out = append(out, pending{item, true})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].analyzed != out[j].analyzed {
			return !out[i].analyzed
		}
		return out[i].item.UpdatedAt.After(out[j].item.UpdatedAt)
	})

	items := make([]*triage.WorkItem, 0, limit)
	for _, p := range out {
		if len(items) == limit {
			break
		}
		items = append(items, p.item)
	}
	return items, nil
}

// CorrelatedItems returns items sharing any ticket reference, newest first.
func (m *MemoryStore) CorrelatedItems(ctx context.Context, refs []string, excludeID string, limit int) ([]*triage.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		want[strings.ToUpper(r)] = struct{}{}
	}

	var out []*triage.WorkItem
	for _, item := range m.items {
		if item.ID == excludeID {
			continue
		}
		for _, r := range item.TicketRefs {
			if _, ok := want[strings.ToUpper(r)]; ok {
				out = append(out, item)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ItemsByIDs returns the items with the given ids.
func (m *MemoryStore) ItemsByIDs(ctx context.Context, ids []string) ([]*triage.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*triage.WorkItem
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// UpsertScore writes a score keyed by (item id, domain). Override-frozen
// rows only yield to writes that carry the override flag themselves or are
// marked as superseding by a validated transition.
func (m *MemoryStore) UpsertScore(ctx context.Context, score *triage.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scoreKey(score.ItemID, score.Domain)
	if existing, ok := m.scores[key]; ok && existing.ManualOverride && !score.ManualOverride && !score.Supersede {
		return nil
	}
	cp := *score
	cp.Supersede = false
	m.scores[key] = &cp
	return nil
}

// GetScore returns the live score for an item in a domain.
func (m *MemoryStore) GetScore(ctx context.Context, itemID string, domain triage.Domain) (*triage.Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	score, ok := m.scores[scoreKey(itemID, domain)]
	if !ok {
		return nil, pferrors.ErrNotFound
	}
	cp := *score
	return &cp, nil
}

// ScoresByLabel returns all live scores in a domain with the label.
func (m *MemoryStore) ScoresByLabel(ctx context.Context, domain triage.Domain, label string) ([]*triage.Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*triage.Score
	for _, score := range m.scores {
		if score.Domain == domain && score.Label == label {
			cp := *score
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// SetOverride freezes an item's score at the given label.
func (m *MemoryStore) SetOverride(ctx context.Context, itemID string, domain triage.Domain, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	score, ok := m.scores[scoreKey(itemID, domain)]
	if !ok {
		return pferrors.ErrNotFound
	}
	score.Label = label
	score.ManualOverride = true
	score.UpdatedAt = m.now()
	return nil
}

// ClearOverride releases a frozen score back to automatic updates.
func (m *MemoryStore) ClearOverride(ctx context.Context, itemID string, domain triage.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	score, ok := m.scores[scoreKey(itemID, domain)]
	if !ok {
		return pferrors.ErrNotFound
	}
	score.ManualOverride = false
	score.UpdatedAt = m.now()
	return nil
}

// AppendLedger records one batch's token cost.
func (m *MemoryStore) AppendLedger(ctx context.Context, entry *triage.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.ledger = append(m.ledger, &cp)
	return nil
}

// TokensUsedToday sums the domain's ledger rows since local midnight.
func (m *MemoryStore) TokensUsedToday(ctx context.Context, domain triage.Domain) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	boundary := startOfDay(m.now())
	total := 0
	for _, e := range m.ledger {
		if e.Domain == domain && !e.RecordedAt.Before(boundary) {
			total += e.Tokens
		}
	}
	return total, nil
}

// SaveRun records one inference round-trip for audit.
func (m *MemoryStore) SaveRun(ctx context.Context, run *triage.ClassificationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

// Runs returns all recorded runs, for tests.
func (m *MemoryStore) Runs() []*triage.ClassificationRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*triage.ClassificationRun, len(m.runs))
	copy(out, m.runs)
	return out
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
