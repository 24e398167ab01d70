package resolver

import (
	"time"

	"github.com/otherjamesbrown/triaged/pkg/triage"
)

// staleConfidence is the fixed confidence assigned by the staleness sweep.
// The sweep is deterministic rule evidence, not model inference, so it
// carries a fixed rather than computed confidence.
const staleConfidence = 0.8

// DefaultStaleThreshold is how long an in-progress item may sit without
// activity or completion evidence before the sweep marks it stale.
const DefaultStaleThreshold = 72 * time.Hour

// SweepStale decides whether an in-progress score should be forced to
// Stale, bypassing the LLM round-trip. The decision uses the most recent
// activity/completion signal, or, absent those, the earliest commitment
// signal. Returns the replacement score and true when the item is stale.
func (r *Resolver) SweepStale(score *triage.Score, sigs []triage.Signal, threshold time.Duration) (*triage.Score, bool) {
	if score == nil || triage.ProgressState(score.Label) != triage.ProgressInProgress {
		return nil, false
	}
	if score.ManualOverride {
		return nil, false
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}

	evidence := stalenessEvidence(score, sigs)
	if evidence.IsZero() {
		return nil, false
	}

	now := r.now()
	if now.Sub(evidence) <= threshold {
		return nil, false
	}

	stale := *score
	stale.Label = string(triage.ProgressStale)
	stale.Confidence = staleConfidence
	stale.Reasoning = "no activity or completion evidence within staleness threshold"
	stale.Signals = sigs
	stale.UpdatedAt = now
	stale.Model = "staleness-sweep"
	return &stale, true
}

// stalenessEvidence picks the timestamp the sweep compares against the
// threshold: newest activity/completion signal, else earliest commitment
// signal, else the score's recorded last activity.
func stalenessEvidence(score *triage.Score, sigs []triage.Signal) time.Time {
	var newest time.Time
	for _, s := range sigs {
		if s.Category == triage.SignalActivity || s.Category == triage.SignalCompletion {
			if s.DetectedAt.After(newest) {
				newest = s.DetectedAt
			}
		}
	}
	if !newest.IsZero() {
		return newest
	}

	var earliest time.Time
	for _, s := range sigs {
		if s.Category != triage.SignalCommitment {
			continue
		}
		if earliest.IsZero() || s.DetectedAt.Before(earliest) {
			earliest = s.DetectedAt
		}
	}
	if !earliest.IsZero() {
		return earliest
	}

	return score.LastActivityAt
}
