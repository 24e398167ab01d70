// Package resolver turns raw model output into domain Score records. It
// bounds-checks batch indices, computes adjusted confidence from signal
// evidence, and gates progress-state changes through a transition policy.
package resolver

import (
	"time"

	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/gateway"
	"github.com/otherjamesbrown/triaged/pkg/triage/signals"
)

// ResolveInput pairs one batch item with its evidence and any existing score.
type ResolveInput struct {
	Item     *triage.WorkItem
	Summary  signals.Summary
	Existing *triage.Score // nil when the item has never been scored
}

// Resolver resolves model classifications into persistable scores.
type Resolver struct {
	logger logging.Logger
	now    func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver.
func NewResolver(logger logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		logger: logger.With(logging.F("component", "resolver")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps model classifications onto the batch and returns the scores
// to persist. Entries with an item_index outside the batch range are dropped
// silently; their items simply stay pending for the next cycle. Progress
// labels additionally pass through the transition gate; a disallowed
// transition retains the prior state instead of the inferred one.
func (r *Resolver) Resolve(domain triage.Domain, inputs []ResolveInput, results []gateway.Classification, model string) []triage.Score {
	now := r.now()
	scores := make([]triage.Score, 0, len(results))

	for _, cls := range results {
		if cls.ItemIndex < 0 || cls.ItemIndex >= len(inputs) {
			r.logger.Debug("Dropping classification with out-of-range index",
				logging.F("item_index", cls.ItemIndex),
				logging.F("batch_size", len(inputs)))
			continue
		}
		if !triage.ValidLabel(domain, cls.Label) {
			r.logger.Debug("Dropping classification with unknown label",
				logging.F("label", cls.Label),
				logging.F("domain", string(domain)))
			continue
		}

		in := inputs[cls.ItemIndex]
		sigs := in.Summary.All()
		confidence := AdjustConfidence(cls.Confidence, sigs, now)

		label := cls.Label
		supersede := false
		if domain == triage.DomainProgress && in.Existing != nil {
			from := triage.ProgressState(in.Existing.Label)
			to := triage.ProgressState(cls.Label)
			decision := EvaluateTransition(from, to, sigs, now)

			if in.Existing.ManualOverride {
				// An override only yields to an explicitly validated
				// transition; default-allowed pairs leave it frozen.
				if !decision.Explicit || !decision.Allowed {
					r.logger.Debug("Score frozen by manual override",
						logging.F("item_id", in.Item.ID),
						logging.F("inferred", cls.Label))
					continue
				}
				// The store refuses plain writes over a frozen row; mark
				// this one as superseding so it lands and releases the
				// override.
				supersede = true
			} else if !decision.Allowed {
				r.logger.Debug("Transition rejected, retaining prior state",
					logging.F("item_id", in.Item.ID),
					logging.F("from", string(from)),
					logging.F("to", string(to)))
				label = in.Existing.Label
			}
		} else if in.Existing != nil && in.Existing.ManualOverride {
			// Priority domain has no transition policy; overrides always hold.
			continue
		}

		scores = append(scores, triage.Score{
			ItemID:         in.Item.ID,
			Domain:         domain,
			Label:          label,
			Confidence:     confidence,
			Reasoning:      cls.Reasoning,
			Signals:        sigs,
			Supersede:      supersede,
			LastActivityAt: lastActivity(cls.LastActivity, sigs),
			UpdatedAt:      now,
			Model:          model,
		})
	}
	return scores
}

// AdjustConfidence applies the evidence-based adjustment table to the
// model-reported base confidence:
//
//	>=2 distinct signal sources            +0.10
//	>=3 distinct signal sources            +0.05 more
//	any signal newer than 24h              +0.05
//	any signal newer than 1h               +0.05 more
//	completion and blocker both present    -0.15
//	completion and activity both present   -0.05
//	any commit-sourced signal              +0.05
//
// The result is clamped to [0, 0.95] when at least one signal exists, else
// to [0, 1]: rule evidence never certifies certainty, but its absence
// leaves the model's own confidence untouched.
func AdjustConfidence(base float64, sigs []triage.Signal, now time.Time) float64 {
	c := base

	sources := make(map[triage.SourceTag]struct{})
	cats := make(map[triage.SignalCategory]struct{})
	var under24h, under1h, commitSourced bool
	for _, s := range sigs {
		sources[s.Source] = struct{}{}
		cats[s.Category] = struct{}{}
		age := now.Sub(s.DetectedAt)
		if age < 24*time.Hour {
			under24h = true
		}
		if age < time.Hour {
			under1h = true
		}
		if s.Source == triage.SourceCommit {
			commitSourced = true
		}
	}

	if len(sources) >= 2 {
		c += 0.10
	}
	if len(sources) >= 3 {
		c += 0.05
	}
	if under24h {
		c += 0.05
	}
	if under1h {
		c += 0.05
	}

	_, hasCompletion := cats[triage.SignalCompletion]
	_, hasBlocker := cats[triage.SignalBlocker]
	_, hasActivity := cats[triage.SignalActivity]
	if hasCompletion && hasBlocker {
		c -= 0.15
	}
	if hasCompletion && hasActivity {
		c -= 0.05
	}
	if commitSourced {
		c += 0.05
	}

	upper := 1.0
	if len(sigs) > 0 {
		upper = 0.95
	}
	if c < 0 {
		return 0
	}
	if c > upper {
		return upper
	}
	return c
}

// lastActivity prefers the model-reported ISO date, falling back to the
// maximum detection timestamp among the item's own (non-related) signals.
func lastActivity(reported string, sigs []triage.Signal) time.Time {
	if reported != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, reported); err == nil {
				return t
			}
		}
	}

	var latest time.Time
	for _, s := range sigs {
		if s.RelatedID != "" {
			continue
		}
		if s.DetectedAt.After(latest) {
			latest = s.DetectedAt
		}
	}
	if latest.IsZero() {
		for _, s := range sigs {
			if s.DetectedAt.After(latest) {
				latest = s.DetectedAt
			}
		}
	}
	return latest
}
