package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/otherjamesbrown/triaged/pkg/errors"
	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/gateway"
	"github.com/otherjamesbrown/triaged/pkg/triage/store"
)

var harnessNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeClient scripts Complete responses per call.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error)
}

func (f *fakeClient) Name() string             { return "fake-model" }
func (f *fakeClient) SupportsStructured() bool { return true }
func (f *fakeClient) Close() error             { return nil }

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, req)
}

func respondWith(content string, tokens int) func(int, *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
	return func(int, *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
		return &gateway.CompletionResponse{
			Content:    content,
			Model:      "fake-model",
			TokensUsed: gateway.TokenUsage{Prompt: tokens - tokens/4, Completion: tokens / 4, Total: tokens},
			LatencyMs:  12,
		}, nil
	}
}

func newTestHarness(t *testing.T, cfg Config, st store.Store, client gateway.Client) *Harness {
	t.Helper()
	h := NewHarness(cfg, st, client, logging.NewNopLogger(),
		WithClock(func() time.Time { return harnessNow }),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2.0,
		}),
	)
	return h
}

func seedPending(m *store.MemoryStore, id, content string, updatedAt time.Time) *triage.WorkItem {
	item := &triage.WorkItem{
		ID:        id,
		Type:      triage.ItemTypeTask,
		Source:    triage.SourceBody,
		Title:     id,
		Content:   content,
		CreatedAt: updatedAt.Add(-48 * time.Hour),
		UpdatedAt: updatedAt,
	}
	m.AddItem(item)
	return item
}

func TestRunCycle_QuotaGate(t *testing.T) {
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })
	seedPending(st, "a", "needs triage", harnessNow.Add(-time.Hour))
	require.NoError(t, st.AppendLedger(context.Background(), &triage.LedgerEntry{
		Domain: triage.DomainPriority, Tokens: 50000, RecordedAt: harnessNow.Add(-time.Hour),
	}))

	client := &fakeClient{fn: respondWith("[]", 100)}
	h := newTestHarness(t, Config{Domain: triage.DomainPriority, DailyTokenQuota: 50000}, st, client)

	require.NoError(t, h.TriggerNow(context.Background()))
	assert.Equal(t, 0, client.Calls(), "exhausted quota must defer without touching the gateway")
}

func TestRunCycle_FullMode(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })
	seedPending(st, "a", "finished the rollout, merged to main", harnessNow.Add(-time.Hour))
	seedPending(st, "b", "waiting on the security review", harnessNow.Add(-2*time.Hour))

	// PendingItems orders never-analyzed items newest first: a then b.
	client := &fakeClient{fn: respondWith(
		`{"classifications":[
			{"item_index":0,"label":"done","confidence":0.9,"reasoning":"merged"},
			{"item_index":1,"label":"blocked","confidence":0.8,"reasoning":"review gate"}
		]}`, 800)}

	h := newTestHarness(t, Config{Domain: triage.DomainProgress, DailyTokenQuota: 50000}, st, client)
	require.NoError(t, h.TriggerNow(ctx))
	assert.Equal(t, 1, client.Calls())

	scoreA, err := st.GetScore(ctx, "a", triage.DomainProgress)
	require.NoError(t, err)
	assert.Equal(t, "done", scoreA.Label)
	assert.Equal(t, "fake-model", scoreA.Model)

	scoreB, err := st.GetScore(ctx, "b", triage.DomainProgress)
	require.NoError(t, err)
	assert.Equal(t, "blocked", scoreB.Label)

	// Tokens reported by the provider land in the ledger.
	used, err := st.TokensUsedToday(ctx, triage.DomainProgress)
	require.NoError(t, err)
	assert.Equal(t, 800, used)

	runs := st.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 2, runs[0].ItemCount)

	// Both items now carry current scores, so the pending set is empty.
	pending, err := st.PendingItems(ctx, triage.DomainProgress, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	snap := h.Stats()
	assert.Equal(t, 2, snap.ItemsToday)
	assert.Equal(t, 800, snap.TokensToday)
}

func TestRunCycle_CorrelatesViaTextEmbeddedRef(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })

	// The anchor's only ticket reference lives in its prose, not in the
	// externally supplied refs.
	seedPending(st, "anchor", "deploy is waiting on PLAT-42 sign-off", harnessNow.Add(-time.Hour))

	// The sibling shares the ref but is already scored, so it only enters
	// the cycle as correlated context.
	sibling := seedPending(st, "sibling", "PLAT-42 rollout notes", harnessNow.Add(-3*time.Hour))
	sibling.TicketRefs = []string{"PLAT-42"}
	require.NoError(t, st.UpsertScore(ctx, &triage.Score{
		ItemID: "sibling", Domain: triage.DomainPriority,
		Label: "medium", UpdatedAt: harnessNow,
	}))

	var batchPrompt string
	client := &fakeClient{fn: func(call int, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
		batchPrompt = req.Prompt
		return respondWith(`[{"item_index":0,"label":"high","confidence":0.8}]`, 300)(call, req)
	}}
	h := newTestHarness(t, Config{Domain: triage.DomainPriority, DailyTokenQuota: 50000}, st, client)

	require.NoError(t, h.TriggerNow(ctx))
	require.Equal(t, 1, client.Calls())
	assert.Contains(t, batchPrompt, "Related items (shared ticket reference):")
	assert.Contains(t, batchPrompt, "sibling")
}

func TestCorrelationRefs(t *testing.T) {
	item := &triage.WorkItem{
		Title:      "PLAT-42 follow-up",
		Content:    "blocks GH-9 and plat-42 alike, see #123",
		TicketRefs: []string{"plat-42"},
	}
	refs := correlationRefs(item)
	assert.Equal(t, []string{"plat-42", "GH-9", "#123"}, refs,
		"text refs are unioned in, case-insensitively deduped against declared ones")

	// Declared refs pass through untouched when the text has none.
	bare := &triage.WorkItem{Title: "notes", Content: "nothing referenced", TicketRefs: []string{"BILL-7"}}
	assert.Equal(t, []string{"BILL-7"}, correlationRefs(bare))

	assert.Empty(t, correlationRefs(&triage.WorkItem{Title: "notes", Content: "plain prose"}))
}

func TestRunCycle_HybridSplitsBatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })

	// Strong completion evidence: heuristic-conclusive.
	seedPending(st, "strong", "Completed the migration and merged to main", harnessNow.Add(-time.Hour))
	// Nothing the patterns recognize: escalates to the LLM.
	seedPending(st, "weak", "quarterly report attached for reference", harnessNow.Add(-2*time.Hour))

	var batchPrompt string
	client := &fakeClient{fn: func(call int, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
		batchPrompt = req.Prompt
		return respondWith(`[{"item_index":0,"label":"not_started","confidence":0.6}]`, 400)(call, req)
	}}

	h := newTestHarness(t, Config{
		Domain:             triage.DomainProgress,
		DailyTokenQuota:    50000,
		Mode:               ModeHybrid,
		HeuristicThreshold: 0.75,
	}, st, client)
	require.NoError(t, h.TriggerNow(ctx))

	require.Equal(t, 1, client.Calls())
	assert.Contains(t, batchPrompt, "Classify the following 1 work items")
	assert.NotContains(t, batchPrompt, "Completed the migration")

	strong, err := st.GetScore(ctx, "strong", triage.DomainProgress)
	require.NoError(t, err)
	assert.Equal(t, "done", strong.Label)
	assert.Equal(t, "heuristic", strong.Model)

	weak, err := st.GetScore(ctx, "weak", triage.DomainProgress)
	require.NoError(t, err)
	assert.Equal(t, "not_started", weak.Label)
	assert.Equal(t, "fake-model", weak.Model)
}

func TestRunCycle_HybridAllConclusiveSkipsLLM(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })
	seedPending(st, "strong", "Completed the migration and merged to main", harnessNow.Add(-time.Hour))

	client := &fakeClient{fn: respondWith("[]", 100)}
	h := newTestHarness(t, Config{
		Domain:          triage.DomainProgress,
		DailyTokenQuota: 50000,
		Mode:            ModeHybrid,
	}, st, client)

	require.NoError(t, h.TriggerNow(ctx))
	assert.Equal(t, 0, client.Calls())

	used, err := st.TokensUsedToday(ctx, triage.DomainProgress)
	require.NoError(t, err)
	assert.Zero(t, used, "rule-only cycles spend no tokens")
}

func TestRunCycle_ParseFailureChargesLedger(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })
	seedPending(st, "a", "needs triage", harnessNow.Add(-time.Hour))

	client := &fakeClient{fn: respondWith("I refuse to answer in JSON.", 600)}
	h := newTestHarness(t, Config{Domain: triage.DomainPriority, DailyTokenQuota: 50000}, st, client)

	require.NoError(t, h.TriggerNow(ctx), "a dropped batch is not a cycle failure")

	// No score was written; the item stays pending for the next cycle.
	_, err := st.GetScore(ctx, "a", triage.DomainPriority)
	assert.ErrorIs(t, err, pferrors.ErrNotFound)
	pending, err := st.PendingItems(ctx, triage.DomainPriority, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// But the spend happened and must be charged.
	used, err := st.TokensUsedToday(ctx, triage.DomainPriority)
	require.NoError(t, err)
	assert.Equal(t, 600, used)

	runs := st.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "partial", runs[0].Status)
	assert.NotEmpty(t, runs[0].ParseError)
}

func TestRunCycle_EstimatesTokensWhenUnreported(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })
	seedPending(st, "a", "needs triage", harnessNow.Add(-time.Hour))
	seedPending(st, "b", "also needs triage", harnessNow.Add(-2*time.Hour))

	client := &fakeClient{fn: respondWith(`{"classifications":[]}`, 0)}
	h := newTestHarness(t, Config{
		Domain:                triage.DomainPriority,
		DailyTokenQuota:       50000,
		EstimateTokensPerItem: 500,
	}, st, client)
	require.NoError(t, h.TriggerNow(ctx))

	used, err := st.TokensUsedToday(ctx, triage.DomainPriority)
	require.NoError(t, err)
	assert.Equal(t, 1000, used, "unreported usage falls back to the per-item estimate")
}

func TestRunCycle_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })
	seedPending(st, "a", "needs triage", harnessNow.Add(-time.Hour))

	client := &fakeClient{fn: func(call int, req *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
		if call < 3 {
			return nil, pferrors.New(pferrors.ErrRateLimit, "gateway", "slow down", nil)
		}
		return respondWith(`[{"item_index":0,"label":"high","confidence":0.8}]`, 300)(call, req)
	}}
	h := newTestHarness(t, Config{Domain: triage.DomainPriority, DailyTokenQuota: 50000}, st, client)

	require.NoError(t, h.TriggerNow(ctx))
	assert.Equal(t, 3, client.Calls())

	score, err := st.GetScore(ctx, "a", triage.DomainPriority)
	require.NoError(t, err)
	assert.Equal(t, "high", score.Label)
}

func TestRunCycle_TerminalGatewayError(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })
	seedPending(st, "a", "needs triage", harnessNow.Add(-time.Hour))

	client := &fakeClient{fn: func(int, *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
		return nil, pferrors.New(pferrors.ErrQuotaExceeded, "gateway", "quota used up", nil)
	}}
	h := newTestHarness(t, Config{Domain: triage.DomainPriority, DailyTokenQuota: 50000}, st, client)

	err := h.TriggerNow(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, client.Calls(), "terminal errors are not retried")
	assert.Equal(t, pferrors.ErrQuotaExceeded, pferrors.CodeOf(err))

	snap := h.Stats()
	assert.NotEmpty(t, snap.LastError)
}

func TestRunCycle_HeuristicScoresSurviveGatewayFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })
	seedPending(st, "strong", "Completed the migration and merged to main", harnessNow.Add(-time.Hour))
	seedPending(st, "weak", "quarterly report attached for reference", harnessNow.Add(-2*time.Hour))

	client := &fakeClient{fn: func(int, *gateway.CompletionRequest) (*gateway.CompletionResponse, error) {
		return nil, pferrors.New(pferrors.ErrTransport, "gateway", "connection refused", nil)
	}}
	h := newTestHarness(t, Config{
		Domain:          triage.DomainProgress,
		DailyTokenQuota: 50000,
		Mode:            ModeHybrid,
	}, st, client)

	require.Error(t, h.TriggerNow(ctx))

	strong, err := st.GetScore(ctx, "strong", triage.DomainProgress)
	require.NoError(t, err)
	assert.Equal(t, "done", strong.Label)
	_, err = st.GetScore(ctx, "weak", triage.DomainProgress)
	assert.ErrorIs(t, err, pferrors.ErrNotFound)
}

func TestRunCycle_StalenessSweep(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return harnessNow })

	// A long-quiet in-progress item; its score is current relative to the
	// item, so the sweep fires but the batch stage has nothing to do.
	item := seedPending(st, "quiet", "no recent movement", harnessNow.Add(-200*time.Hour))
	require.NoError(t, st.UpsertScore(ctx, &triage.Score{
		ItemID:         item.ID,
		Domain:         triage.DomainProgress,
		Label:          string(triage.ProgressInProgress),
		Confidence:     0.7,
		LastActivityAt: harnessNow.Add(-200 * time.Hour),
		UpdatedAt:      harnessNow.Add(-time.Hour),
	}))

	client := &fakeClient{fn: respondWith("[]", 100)}
	h := newTestHarness(t, Config{
		Domain:          triage.DomainProgress,
		DailyTokenQuota: 50000,
		StaleThreshold:  72 * time.Hour,
	}, st, client)

	require.NoError(t, h.TriggerNow(ctx))
	assert.Equal(t, 0, client.Calls())

	score, err := st.GetScore(ctx, "quiet", triage.DomainProgress)
	require.NoError(t, err)
	assert.Equal(t, string(triage.ProgressStale), score.Label)
	assert.Equal(t, "staleness-sweep", score.Model)
}

func TestHarness_StartStop(t *testing.T) {
	st := store.NewMemoryStore()
	client := &fakeClient{fn: respondWith("[]", 100)}
	h := NewHarness(Config{Domain: triage.DomainPriority, Interval: time.Hour}, st, client, logging.NewNopLogger())

	assert.Equal(t, StateIdle, h.State())
	assert.Equal(t, triage.DomainPriority, h.Domain())

	h.Start()
	h.Stop()
	h.Stop() // idempotent
	assert.Equal(t, 0, client.Calls(), "hour-long interval never fires in-test")
}
