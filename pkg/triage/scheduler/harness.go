// Package scheduler drives the classification pipeline: one harness per
// domain runs recurring budget-gated cycles of fetch, extract, infer, and
// resolve, with a manual trigger escape hatch.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pferrors "github.com/otherjamesbrown/triaged/pkg/errors"
	"github.com/otherjamesbrown/triaged/pkg/itemid"
	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/gateway"
	"github.com/otherjamesbrown/triaged/pkg/triage/observability"
	"github.com/otherjamesbrown/triaged/pkg/triage/prompt"
	"github.com/otherjamesbrown/triaged/pkg/triage/resolver"
	"github.com/otherjamesbrown/triaged/pkg/triage/signals"
	"github.com/otherjamesbrown/triaged/pkg/triage/store"
)

// Mode selects how cycles classify items.
type Mode string

const (
	// ModeFull sends every pending item to the LLM.
	ModeFull Mode = "full"

	// ModeHybrid classifies conclusively-signalled items from rules alone
	// and escalates only the rest to the LLM.
	ModeHybrid Mode = "hybrid"
)

// State is the harness lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Score paths, for metrics.
const (
	pathLLM       = "llm"
	pathHeuristic = "heuristic"
	pathSweep     = "sweep"
)

// Config configures one domain's harness. Zero values fall back to the
// domain defaults from DefaultHarnessConfig.
type Config struct {
	Domain                triage.Domain `yaml:"domain"`
	Interval              time.Duration `yaml:"interval"`
	BatchSize             int           `yaml:"batch_size"`
	DailyTokenQuota       int           `yaml:"daily_token_quota"`
	StaleThreshold        time.Duration `yaml:"staleness_threshold"`
	Mode                  Mode          `yaml:"mode"`
	HeuristicThreshold    float64       `yaml:"heuristic_threshold"`
	EstimateTokensPerItem int           `yaml:"estimate_tokens_per_item"`
	CycleTimeout          time.Duration `yaml:"cycle_timeout"`
	VIPSenders            []string      `yaml:"vip_senders"`
}

// DefaultHarnessConfig returns the defaults for a domain: 30 minute cycles
// for priority, 45 for progress.
func DefaultHarnessConfig(domain triage.Domain) Config {
	interval := 30 * time.Minute
	if domain == triage.DomainProgress {
		interval = 45 * time.Minute
	}
	return Config{
		Domain:                domain,
		Interval:              interval,
		BatchSize:             prompt.MaxBatchSize,
		DailyTokenQuota:       50000,
		StaleThreshold:        resolver.DefaultStaleThreshold,
		Mode:                  ModeFull,
		HeuristicThreshold:    0.75,
		EstimateTokensPerItem: 500,
		CycleTimeout:          300 * time.Second,
	}
}

// applyDefaults fills zero config values from the domain defaults.
func (c Config) applyDefaults() Config {
	def := DefaultHarnessConfig(c.Domain)
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.BatchSize <= 0 || c.BatchSize > prompt.MaxBatchSize {
		c.BatchSize = def.BatchSize
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = def.StaleThreshold
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.HeuristicThreshold <= 0 {
		c.HeuristicThreshold = def.HeuristicThreshold
	}
	if c.EstimateTokensPerItem <= 0 {
		c.EstimateTokensPerItem = def.EstimateTokensPerItem
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = def.CycleTimeout
	}
	return c
}

// Harness runs recurring classification cycles for one domain. Cycles are
// not mutually exclusive: a manual trigger may coincide with a timer fire,
// and correctness relies on the store's idempotent upsert rather than
// single-writer exclusivity.
type Harness struct {
	cfg       Config
	store     store.Store
	client    gateway.Client
	extractor *signals.Extractor
	builder   *prompt.Builder
	resolver  *resolver.Resolver
	retry     RetryPolicy
	logger    logging.Logger
	metrics   *observability.TriageMetrics
	emitter   *observability.EventEmitter
	tracer    *observability.Tracer
	stats     *Stats
	now       func() time.Time

	active   atomic.Int32
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Harness.
type Option func(*Harness)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(h *Harness) { h.retry = p }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.TriageMetrics) Option {
	return func(h *Harness) { h.metrics = m }
}

// WithEmitter sets the event emitter.
func WithEmitter(e *observability.EventEmitter) Option {
	return func(h *Harness) { h.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

// NewHarness creates a harness for one domain over the given store and
// inference client.
func NewHarness(cfg Config, st store.Store, client gateway.Client, logger logging.Logger, opts ...Option) *Harness {
	cfg = cfg.applyDefaults()
	log := logger.With(logging.F("component", "scheduler"), logging.F("domain", string(cfg.Domain)))

	h := &Harness{
		cfg:    cfg,
		store:  st,
		client: client,
		retry:  DefaultRetryPolicy(),
		logger: log,
		tracer: observability.NewTracer(),
		stats:  NewStats(),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.extractor = signals.NewExtractor(
		signals.WithVIPSenders(cfg.VIPSenders),
		signals.WithClock(h.now),
	)
	h.builder = prompt.NewBuilder(prompt.WithClock(h.now))
	h.resolver = resolver.NewResolver(logger, resolver.WithClock(h.now))

	if h.metrics == nil {
		h.metrics = observability.NewTriageMetrics(prometheus.NewRegistry())
	}
	if h.emitter == nil {
		h.emitter = observability.NewEventEmitter(&observability.NoOpEventPublisher{})
	}
	return h
}

// Domain returns the harness's classification domain.
func (h *Harness) Domain() triage.Domain {
	return h.cfg.Domain
}

// State reports whether any cycle is in flight.
func (h *Harness) State() State {
	if h.active.Load() > 0 {
		return StateRunning
	}
	return StateIdle
}

// Stats returns a snapshot of the operational statistics.
func (h *Harness) Stats() Snapshot {
	return h.stats.Snapshot(h.now())
}

// Start launches the recurring timer loop.
func (h *Harness) Start() {
	h.stats.SetNextRun(h.now().Add(h.cfg.Interval))
	h.wg.Add(1)

	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				if err := h.runCycle(context.Background()); err != nil {
					h.logger.Error("Classification cycle failed", logging.Err(err))
				}
				h.stats.SetNextRun(h.now().Add(h.cfg.Interval))
			}
		}
	}()
	h.logger.Info("Harness started", logging.F("interval", h.cfg.Interval.String()))
}

// Stop cancels the timer source. An in-flight cycle runs to completion,
// bounded by its own cycle timeout.
func (h *Harness) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.wg.Wait()
	h.logger.Info("Harness stopped")
}

// TriggerNow runs one cycle immediately on the caller's goroutine, re-entering
// the same cycle logic the timer drives.
func (h *Harness) TriggerNow(ctx context.Context) error {
	return h.runCycle(ctx)
}

// runCycle executes one full classification cycle.
func (h *Harness) runCycle(ctx context.Context) error {
	h.active.Add(1)
	defer h.active.Add(-1)

	start := h.now()
	domain := string(h.cfg.Domain)

	ctx, cancel := context.WithTimeout(ctx, h.cfg.CycleTimeout)
	defer cancel()
	ctx, span := h.tracer.StartCycleSpan(ctx, domain)
	defer span.End()
	log := h.logger.WithContext(ctx)

	fail := func(err error) error {
		now := h.now()
		h.stats.RecordError(now, err)
		h.metrics.RecordCycle(domain, observability.CycleStatusFailed, now.Sub(start).Seconds())
		code := pferrors.CodeOf(err)
		observability.NewSpanHelper(span).SetError(err, string(code), pferrors.IsErrorRetryable(err))
		event := observability.NewErrorEvent(domain, "cycle", string(code), err.Error(), pferrors.IsErrorRetryable(err), 0)
		if perr := h.emitter.EmitError(ctx, event); perr != nil {
			log.Debug("Failed to emit error event", logging.Err(perr))
		}
		return err
	}

	// Quota gate: never issue inference when today's budget is spent.
	used, err := h.store.TokensUsedToday(ctx, h.cfg.Domain)
	if err != nil {
		return fail(pferrors.New(pferrors.ErrPersistence, "scheduler", "read token ledger", err))
	}
	if h.cfg.DailyTokenQuota > 0 && used >= h.cfg.DailyTokenQuota {
		log.Warn("Daily token quota exhausted, deferring cycle",
			logging.F("tokens_used", used),
			logging.F("quota", h.cfg.DailyTokenQuota))
		h.metrics.RecordQuotaDeferral(domain)
		h.metrics.RecordCycle(domain, observability.CycleStatusDeferred, h.now().Sub(start).Seconds())
		h.emitCycle(ctx, observability.CycleStatusDeferred, 0, 0, 0, start)
		return nil
	}

	if h.cfg.Domain == triage.DomainProgress {
		h.sweepStale(ctx, log)
	}

	items, err := h.store.PendingItems(ctx, h.cfg.Domain, h.cfg.BatchSize)
	if err != nil {
		return fail(pferrors.New(pferrors.ErrPersistence, "scheduler", "fetch pending items", err))
	}
	h.metrics.SetPendingItems(domain, float64(len(items)))
	if len(items) == 0 {
		log.Debug("No pending items")
		h.stats.RecordRun(h.now(), 0, 0)
		h.metrics.RecordCycle(domain, observability.CycleStatusCompleted, h.now().Sub(start).Seconds())
		h.emitCycle(ctx, observability.CycleStatusCompleted, 0, 0, 0, start)
		return nil
	}

	inputs, batch := h.assemble(ctx, log, items)

	var accepted []triage.Score
	if h.cfg.Mode == ModeHybrid {
		accepted, inputs, batch = h.heuristicPass(inputs, batch)
	}

	scored := len(accepted)
	tokens := 0
	status := observability.CycleStatusCompleted

	if len(batch) > 0 {
		llmScores, llmTokens, llmStatus, err := h.infer(ctx, log, inputs, batch)
		if err != nil {
			// Heuristic scores already earned their place; persist them
			// before surfacing the inference failure.
			h.persist(ctx, log, accepted, pathHeuristic)
			return fail(err)
		}
		tokens = llmTokens
		status = llmStatus
		h.persist(ctx, log, llmScores, pathLLM)
		scored += len(llmScores)
	}

	h.persist(ctx, log, accepted, pathHeuristic)

	now := h.now()
	h.stats.RecordRun(now, scored, tokens)
	h.metrics.RecordCycle(domain, status, now.Sub(start).Seconds())
	h.emitCycle(ctx, status, len(items), scored, tokens, start)
	observability.NewSpanHelper(span).SetSuccess()

	log.Info("Cycle complete",
		logging.F("items", len(items)),
		logging.F("scored", scored),
		logging.F("tokens", tokens),
		logging.F("status", status))
	return nil
}

// assemble extracts signals and correlated context for each pending item.
func (h *Harness) assemble(ctx context.Context, log logging.Logger, items []*triage.WorkItem) ([]resolver.ResolveInput, []prompt.BatchItem) {
	inputs := make([]resolver.ResolveInput, 0, len(items))
	batch := make([]prompt.BatchItem, 0, len(items))

	for _, item := range items {
		sigs := h.extractor.Extract(h.cfg.Domain, item)

		var related []*triage.WorkItem
		if refs := correlationRefs(item); len(refs) > 0 {
			rel, err := h.store.CorrelatedItems(ctx, refs, item.ID, prompt.MaxRelatedItems)
			if err != nil {
				log.Warn("Correlated item lookup failed",
					logging.F("item_id", item.ID), logging.Err(err))
			} else {
				related = rel
				for _, r := range rel {
					sigs = append(sigs, h.extractor.ExtractRelated(h.cfg.Domain, r, r.ID)...)
				}
			}
		}
		summary := signals.Summarize(sigs)

		existing, err := h.store.GetScore(ctx, item.ID, h.cfg.Domain)
		if err != nil {
			if !pferrors.IsNotFound(err) {
				log.Warn("Existing score lookup failed",
					logging.F("item_id", item.ID), logging.Err(err))
			}
			existing = nil
		}

		inputs = append(inputs, resolver.ResolveInput{Item: item, Summary: summary, Existing: existing})
		batch = append(batch, prompt.BatchItem{Item: item, Summary: summary, Related: related})
	}
	return inputs, batch
}

// correlationRefs unions the item's declared ticket references with any the
// extractor finds embedded in its text, so items whose references exist only
// in prose still correlate.
func correlationRefs(item *triage.WorkItem) []string {
	refs := append([]string(nil), item.TicketRefs...)
	for _, r := range signals.ExtractTicketRefs(item.Title + "\n" + item.Content) {
		dup := false
		for _, have := range refs {
			if strings.EqualFold(have, r) {
				dup = true
				break
			}
		}
		if !dup {
			refs = append(refs, r)
		}
	}
	return refs
}

// heuristicPass splits the batch: items whose rule evidence is conclusive
// receive their heuristic score directly; the rest escalate to the LLM.
// Items with an existing score only take the rule path when the implied
// progress transition would be accepted anyway.
func (h *Harness) heuristicPass(inputs []resolver.ResolveInput, batch []prompt.BatchItem) ([]triage.Score, []resolver.ResolveInput, []prompt.BatchItem) {
	var accepted []triage.Score
	keptInputs := inputs[:0]
	keptBatch := batch[:0]

	now := h.now()
	for i, in := range inputs {
		hs, ok := h.resolver.HeuristicScore(h.cfg.Domain, in.Item, in.Summary)
		conclusive := ok && hs.Confidence >= h.cfg.HeuristicThreshold

		if conclusive && in.Existing != nil {
			if in.Existing.ManualOverride {
				conclusive = false
			} else if h.cfg.Domain == triage.DomainProgress {
				d := resolver.EvaluateTransition(
					triage.ProgressState(in.Existing.Label),
					triage.ProgressState(hs.Label),
					in.Summary.All(), now)
				if !d.Allowed {
					conclusive = false
				}
			}
		}

		if conclusive {
			accepted = append(accepted, *hs)
			continue
		}
		keptInputs = append(keptInputs, in)
		keptBatch = append(keptBatch, batch[i])
	}
	return accepted, keptInputs, keptBatch
}

// infer runs the single awaited batch inference under the retry policy and
// resolves the model output into scores. A parse failure after the lenient
// decode drops the batch: items stay pending, but consumed tokens are still
// charged to the ledger.
func (h *Harness) infer(ctx context.Context, log logging.Logger, inputs []resolver.ResolveInput, batch []prompt.BatchItem) ([]triage.Score, int, string, error) {
	domain := string(h.cfg.Domain)

	req, err := h.builder.Build(h.cfg.Domain, batch)
	if err != nil {
		return nil, 0, "", pferrors.New(pferrors.ErrProcessingError, "prompt", "build request", err)
	}

	llmCtx, llmSpan := h.tracer.StartLLMSpan(ctx, h.client.Name(), len(batch))
	var resp *gateway.CompletionResponse
	err = h.retry.Execute(llmCtx, func(ctx context.Context) error {
		r, cerr := h.client.Complete(ctx, req)
		if cerr != nil {
			return cerr
		}
		resp = r
		return nil
	}, func(attempt int, rerr error) {
		code := string(pferrors.CodeOf(rerr))
		h.metrics.RecordRetry(domain, code)
		log.Warn("Inference attempt failed, retrying",
			logging.F("attempt", attempt),
			logging.F("code", code),
			logging.Err(rerr))
	})
	if err != nil {
		h.metrics.RecordLLMCall(domain, h.client.Name(), "error", 0)
		llmSpan.End()
		return nil, 0, "", err
	}
	observability.NewSpanHelper(llmSpan).SetLLMResult(resp.TokensUsed.Total, int64(resp.LatencyMs))
	llmSpan.End()
	h.metrics.RecordLLMCall(domain, resp.Model, "ok", float64(resp.LatencyMs)/1000)

	tokens := resp.TokensUsed.Total
	if tokens == 0 {
		tokens = h.cfg.EstimateTokensPerItem * len(batch)
	}
	h.metrics.RecordTokens(domain, resp.Model, tokens)

	var scores []triage.Score
	status := observability.CycleStatusCompleted
	parseErr := ""
	results, perr := gateway.ParseClassifications(resp.Content)
	if perr != nil {
		// Batch dropped; items stay pending for the next cycle.
		log.Warn("Model output unparseable, dropping batch", logging.Err(perr))
		status = observability.CycleStatusPartial
		parseErr = perr.Error()
	} else {
		scores = h.resolver.Resolve(h.cfg.Domain, inputs, results, resp.Model)
	}

	now := h.now()
	run := &triage.ClassificationRun{
		ID:           itemid.New(itemid.KindRun),
		Domain:       h.cfg.Domain,
		ItemCount:    len(batch),
		Model:        resp.Model,
		InputTokens:  resp.TokensUsed.Prompt,
		OutputTokens: resp.TokensUsed.Completion,
		LatencyMs:    resp.LatencyMs,
		Status:       string(status),
		ParseError:   parseErr,
		CreatedAt:    now,
	}
	if rerr := h.store.SaveRun(ctx, run); rerr != nil {
		log.Warn("Failed to save run record", logging.Err(rerr))
	}

	entry := &triage.LedgerEntry{
		Domain:     h.cfg.Domain,
		Tokens:     tokens,
		ItemCount:  len(batch),
		Model:      resp.Model,
		RecordedAt: now,
	}
	if lerr := h.store.AppendLedger(ctx, entry); lerr != nil {
		log.Error("Failed to append token ledger", logging.Err(lerr))
	}

	return scores, tokens, status, nil
}

// persist upserts scores and publishes per-item events. Individual failures
// are logged and skipped; the upsert is idempotent, so a failed item simply
// stays pending.
func (h *Harness) persist(ctx context.Context, log logging.Logger, scores []triage.Score, path string) {
	domain := string(h.cfg.Domain)
	for i := range scores {
		score := &scores[i]
		prev := ""
		if existing, err := h.store.GetScore(ctx, score.ItemID, score.Domain); err == nil {
			prev = existing.Label
		}

		if err := h.store.UpsertScore(ctx, score); err != nil {
			log.Error("Failed to persist score",
				logging.F("item_id", score.ItemID), logging.Err(err))
			continue
		}
		h.metrics.RecordScored(domain, path)
		h.metrics.RecordClassification(domain, score.Label, score.Confidence)

		event := observability.NewScoreEvent(domain, score.ItemID, score.Label, prev, score.Confidence, score.Model)
		if err := h.emitter.EmitItemScored(ctx, event); err != nil {
			log.Debug("Failed to emit score event", logging.Err(err))
		}
	}
}

// sweepStale marks long-quiet in-progress items stale without an LLM
// round-trip. Failures are logged and skipped; the sweep is best-effort.
func (h *Harness) sweepStale(ctx context.Context, log logging.Logger) {
	domain := string(h.cfg.Domain)

	scores, err := h.store.ScoresByLabel(ctx, h.cfg.Domain, string(triage.ProgressInProgress))
	if err != nil {
		log.Warn("Staleness sweep: score lookup failed", logging.Err(err))
		return
	}
	if len(scores) == 0 {
		return
	}

	ids := make([]string, 0, len(scores))
	for _, s := range scores {
		ids = append(ids, s.ItemID)
	}
	items, err := h.store.ItemsByIDs(ctx, ids)
	if err != nil {
		log.Warn("Staleness sweep: item lookup failed", logging.Err(err))
		return
	}
	byID := make(map[string]*triage.WorkItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	swept := 0
	for _, score := range scores {
		var sigs []triage.Signal
		if item, ok := byID[score.ItemID]; ok {
			sigs = h.extractor.Extract(h.cfg.Domain, item)
		}

		stale, ok := h.resolver.SweepStale(score, sigs, h.cfg.StaleThreshold)
		if !ok {
			continue
		}
		if err := h.store.UpsertScore(ctx, stale); err != nil {
			log.Warn("Staleness sweep: persist failed",
				logging.F("item_id", stale.ItemID), logging.Err(err))
			continue
		}
		swept++
		h.metrics.RecordScored(domain, pathSweep)
		h.metrics.RecordClassification(domain, stale.Label, stale.Confidence)

		event := observability.NewScoreEvent(domain, stale.ItemID, stale.Label, score.Label, stale.Confidence, stale.Model)
		if err := h.emitter.EmitItemStale(ctx, event); err != nil {
			log.Debug("Failed to emit stale event", logging.Err(err))
		}
	}
	if swept > 0 {
		h.metrics.RecordStaleSweep(domain, swept)
		log.Info("Staleness sweep complete", logging.F("swept", swept))
	}
}

// emitCycle publishes the end-of-cycle event.
func (h *Harness) emitCycle(ctx context.Context, status string, itemCount, scored, tokens int, start time.Time) {
	durationMs := h.now().Sub(start).Milliseconds()
	event := observability.NewCycleEvent(string(h.cfg.Domain), status, itemCount, scored, tokens, durationMs)
	event.TraceID = observability.GetTraceID(ctx)
	if err := h.emitter.EmitCycleCompleted(ctx, event); err != nil {
		h.logger.Debug("Failed to emit cycle event", logging.Err(err))
	}
}
