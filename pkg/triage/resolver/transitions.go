package resolver

import (
	"time"

	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/signals"
)

// TransitionDecision is the outcome of evaluating a progress-state change.
// Explicit marks pairs named in the policy table; unlisted pairs are allowed
// by default but never count as validated.
type TransitionDecision struct {
	Allowed  bool
	Explicit bool
	Reason   string
}

// blockerRecency bounds how old a blocker signal may be to justify
// reopening a finished item as blocked.
const blockerRecency = 24 * time.Hour

// EvaluateTransition applies the progress-state transition policy.
//
//	Done -> InProgress      explicit reopen/revert keyword in the signals
//	Done -> NotStarted      never
//	Done -> Blocked         blocker signal detected within the last 24h
//	NotStarted -> Done      always
//	NotStarted -> Stale     never
//	Blocked -> Done         always
//	Blocked -> InProgress   requires an activity signal
//	InProgress -> Stale     always
//	Stale -> InProgress     requires an activity signal
//	Stale -> Done           requires a completion signal
//	X -> X                  always
//	unlisted pairs          allowed by default
func EvaluateTransition(from, to triage.ProgressState, sigs []triage.Signal, now time.Time) TransitionDecision {
	if from == to {
		return TransitionDecision{Allowed: true, Explicit: true, Reason: "no change"}
	}

	switch {
	case from == triage.ProgressDone && to == triage.ProgressInProgress:
		if signals.HasReopenKeyword(sigs) {
			return TransitionDecision{Allowed: true, Explicit: true, Reason: "reopen keyword present"}
		}
		return TransitionDecision{Allowed: false, Explicit: true, Reason: "no reopen/revert keyword"}

	case from == triage.ProgressDone && to == triage.ProgressNotStarted:
		return TransitionDecision{Allowed: false, Explicit: true, Reason: "done never reverts to not started"}

	case from == triage.ProgressDone && to == triage.ProgressBlocked:
		if hasRecentSignal(sigs, triage.SignalBlocker, now, blockerRecency) {
			return TransitionDecision{Allowed: true, Explicit: true, Reason: "recent blocker signal"}
		}
		return TransitionDecision{Allowed: false, Explicit: true, Reason: "no blocker signal within 24h"}

	case from == triage.ProgressNotStarted && to == triage.ProgressDone:
		return TransitionDecision{Allowed: true, Explicit: true, Reason: "direct completion"}

	case from == triage.ProgressNotStarted && to == triage.ProgressStale:
		return TransitionDecision{Allowed: false, Explicit: true, Reason: "unstarted work cannot go stale"}

	case from == triage.ProgressBlocked && to == triage.ProgressDone:
		return TransitionDecision{Allowed: true, Explicit: true, Reason: "blocked work may complete"}

	case from == triage.ProgressBlocked && to == triage.ProgressInProgress:
		if hasSignal(sigs, triage.SignalActivity) {
			return TransitionDecision{Allowed: true, Explicit: true, Reason: "activity signal present"}
		}
		return TransitionDecision{Allowed: false, Explicit: true, Reason: "no activity signal"}

	case from == triage.ProgressInProgress && to == triage.ProgressStale:
		return TransitionDecision{Allowed: true, Explicit: true, Reason: "in-progress work may go stale"}

	case from == triage.ProgressStale && to == triage.ProgressInProgress:
		if hasSignal(sigs, triage.SignalActivity) {
			return TransitionDecision{Allowed: true, Explicit: true, Reason: "activity signal present"}
		}
		return TransitionDecision{Allowed: false, Explicit: true, Reason: "no activity signal"}

	case from == triage.ProgressStale && to == triage.ProgressDone:
		if hasSignal(sigs, triage.SignalCompletion) {
			return TransitionDecision{Allowed: true, Explicit: true, Reason: "completion signal present"}
		}
		return TransitionDecision{Allowed: false, Explicit: true, Reason: "no completion signal"}
	}

	return TransitionDecision{Allowed: true, Explicit: false, Reason: "unlisted pair, allowed by default"}
}

// hasSignal reports whether any signal of the category is present.
func hasSignal(sigs []triage.Signal, cat triage.SignalCategory) bool {
	for _, s := range sigs {
		if s.Category == cat {
			return true
		}
	}
	return false
}

// hasRecentSignal reports whether a signal of the category was detected
// within the window before now.
func hasRecentSignal(sigs []triage.Signal, cat triage.SignalCategory, now time.Time, window time.Duration) bool {
	for _, s := range sigs {
		if s.Category == cat && now.Sub(s.DetectedAt) < window {
			return true
		}
	}
	return false
}
