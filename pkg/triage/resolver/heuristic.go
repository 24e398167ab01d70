package resolver

import (
	"fmt"

	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/signals"
)

// heuristicLabels maps a dominant signal category to the label it implies
// when classifying from rules alone.
var heuristicLabels = map[triage.SignalCategory]string{
	// progress
	triage.SignalCompletion: string(triage.ProgressDone),
	triage.SignalBlocker:    string(triage.ProgressBlocked),
	triage.SignalActivity:   string(triage.ProgressInProgress),
	triage.SignalEscalation: string(triage.ProgressInProgress),
	triage.SignalCommitment: string(triage.ProgressNotStarted),
	// priority
	triage.SignalDeadline:       string(triage.PriorityUrgent),
	triage.SignalUrgencyKeyword: string(triage.PriorityUrgent),
	triage.SignalVIPSender:      string(triage.PriorityHigh),
	triage.SignalActionRequired: string(triage.PriorityHigh),
	triage.SignalAgeEscalation:  string(triage.PriorityMedium),
}

// HeuristicScore classifies an item from rule evidence alone, for the
// hybrid mode's heuristics-first pass. The base confidence is the dominant
// signal's effective weight, adjusted by the standard evidence table. The
// caller decides, against its configured threshold, whether the result is
// conclusive or the item escalates to the LLM. Returns false when there is
// no signal to classify from.
func (r *Resolver) HeuristicScore(domain triage.Domain, item *triage.WorkItem, summary signals.Summary) (*triage.Score, bool) {
	sigs := summary.All()
	if len(sigs) == 0 {
		return nil, false
	}

	top := sigs[0]
	for _, s := range sigs[1:] {
		if s.Weight > top.Weight {
			top = s
		}
	}

	label, ok := heuristicLabels[top.Category]
	if !ok || !triage.ValidLabel(domain, label) {
		return nil, false
	}

	now := r.now()
	return &triage.Score{
		ItemID:         item.ID,
		Domain:         domain,
		Label:          label,
		Confidence:     AdjustConfidence(top.Weight, sigs, now),
		Reasoning:      fmt.Sprintf("rule-based: dominant %s signal (%q)", top.Category, top.Context),
		Signals:        sigs,
		LastActivityAt: lastActivity("", sigs),
		UpdatedAt:      now,
		Model:          "heuristic",
	}, true
}
