package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/otherjamesbrown/triaged/pkg/triage"
)

var transNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func catSig(cat triage.SignalCategory, at time.Time, context string) triage.Signal {
	return triage.Signal{Category: cat, Weight: 0.7, Source: triage.SourceBody, Context: context, DetectedAt: at}
}

func TestEvaluateTransition(t *testing.T) {
	recentBlocker := catSig(triage.SignalBlocker, transNow.Add(-2*time.Hour), "blocked by infra")
	oldBlocker := catSig(triage.SignalBlocker, transNow.Add(-48*time.Hour), "blocked by infra")
	activity := catSig(triage.SignalActivity, transNow.Add(-time.Hour), "pushed an update")
	completion := catSig(triage.SignalCompletion, transNow.Add(-time.Hour), "merged to main")
	reopen := catSig(triage.SignalEscalation, transNow.Add(-time.Hour), "reopened after the rollback")

	tests := []struct {
		name         string
		from, to     triage.ProgressState
		sigs         []triage.Signal
		wantAllowed  bool
		wantExplicit bool
	}{
		{"same state", triage.ProgressDone, triage.ProgressDone, nil, true, true},
		{"done to in_progress with reopen", triage.ProgressDone, triage.ProgressInProgress, []triage.Signal{reopen}, true, true},
		{"done to in_progress without reopen", triage.ProgressDone, triage.ProgressInProgress, []triage.Signal{activity}, false, true},
		{"done to not_started never", triage.ProgressDone, triage.ProgressNotStarted, []triage.Signal{reopen, activity}, false, true},
		{"done to blocked with recent blocker", triage.ProgressDone, triage.ProgressBlocked, []triage.Signal{recentBlocker}, true, true},
		{"done to blocked with stale blocker", triage.ProgressDone, triage.ProgressBlocked, []triage.Signal{oldBlocker}, false, true},
		{"done to blocked without blocker", triage.ProgressDone, triage.ProgressBlocked, []triage.Signal{completion}, false, true},
		{"not_started to done", triage.ProgressNotStarted, triage.ProgressDone, nil, true, true},
		{"not_started to stale never", triage.ProgressNotStarted, triage.ProgressStale, nil, false, true},
		{"blocked to done", triage.ProgressBlocked, triage.ProgressDone, nil, true, true},
		{"blocked to in_progress with activity", triage.ProgressBlocked, triage.ProgressInProgress, []triage.Signal{activity}, true, true},
		{"blocked to in_progress without activity", triage.ProgressBlocked, triage.ProgressInProgress, []triage.Signal{completion}, false, true},
		{"in_progress to stale", triage.ProgressInProgress, triage.ProgressStale, nil, true, true},
		{"stale to in_progress with activity", triage.ProgressStale, triage.ProgressInProgress, []triage.Signal{activity}, true, true},
		{"stale to in_progress without activity", triage.ProgressStale, triage.ProgressInProgress, nil, false, true},
		{"stale to done with completion", triage.ProgressStale, triage.ProgressDone, []triage.Signal{completion}, true, true},
		{"stale to done without completion", triage.ProgressStale, triage.ProgressDone, []triage.Signal{activity}, false, true},
		{"unlisted pair allowed by default", triage.ProgressNotStarted, triage.ProgressInProgress, nil, true, false},
		{"unlisted in_progress to done", triage.ProgressInProgress, triage.ProgressDone, nil, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateTransition(tt.from, tt.to, tt.sigs, transNow)
			assert.Equal(t, tt.wantAllowed, d.Allowed, "allowed: %s", d.Reason)
			assert.Equal(t, tt.wantExplicit, d.Explicit, "explicit: %s", d.Reason)
		})
	}
}
