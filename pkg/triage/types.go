// Package triage defines the domain model for the work-item triage pipeline.
// Work items ingested from tasks, email, commits, and chat are continuously
// classified along two independent axes: business priority and work-progress
// state. Classification fuses rule-based signal extraction with periodic
// batched LLM inference under a daily token budget.
package triage

import (
	"time"
)

// Domain identifies one of the two parallel classification pipelines.
type Domain string

const (
	DomainPriority Domain = "priority"
	DomainProgress Domain = "progress"
)

// ItemType represents the kind of work item being classified.
type ItemType string

const (
	ItemTypeTask    ItemType = "task"
	ItemTypeEmail   ItemType = "email"
	ItemTypeCommit  ItemType = "commit"
	ItemTypeMessage ItemType = "message"
)

// SourceTag records where a piece of text came from. Source credibility
// ordering: commit > subject > body > chat.
type SourceTag string

const (
	SourceCommit  SourceTag = "commit"
	SourceSubject SourceTag = "subject"
	SourceBody    SourceTag = "body"
	SourceChat    SourceTag = "chat"
)

// PriorityLabel is the closed label set for the priority domain.
type PriorityLabel string

const (
	PriorityUrgent PriorityLabel = "urgent"
	PriorityHigh   PriorityLabel = "high"
	PriorityMedium PriorityLabel = "medium"
	PriorityLow    PriorityLabel = "low"
)

// PriorityLabels lists valid priority labels in rubric order.
var PriorityLabels = []PriorityLabel{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

// ProgressState is the closed label set for the progress domain.
type ProgressState string

const (
	ProgressNotStarted ProgressState = "not_started"
	ProgressInProgress ProgressState = "in_progress"
	ProgressBlocked    ProgressState = "blocked"
	ProgressDone       ProgressState = "done"
	ProgressStale      ProgressState = "stale"
)

// ProgressStates lists valid progress states in rubric order.
var ProgressStates = []ProgressState{ProgressNotStarted, ProgressInProgress, ProgressBlocked, ProgressDone, ProgressStale}

// SignalCategory identifies a pattern family. Each domain owns a closed set.
type SignalCategory string

// Progress-domain signal categories.
const (
	SignalCommitment SignalCategory = "commitment"
	SignalActivity   SignalCategory = "activity"
	SignalBlocker    SignalCategory = "blocker"
	SignalCompletion SignalCategory = "completion"
	SignalEscalation SignalCategory = "escalation"
)

// Priority-domain signal categories.
const (
	SignalDeadline       SignalCategory = "deadline"
	SignalVIPSender      SignalCategory = "vip_sender"
	SignalUrgencyKeyword SignalCategory = "urgency_keyword"
	SignalActionRequired SignalCategory = "action_required"
	SignalAgeEscalation  SignalCategory = "age_escalation"
)

// WorkItem is the canonical item record entering the pipeline. Items are
// owned by the external store; the pipeline never mutates them.
type WorkItem struct {
	ID             string     `json:"id"`
	Type           ItemType   `json:"type"`
	Source         SourceTag  `json:"source"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Sender         string     `json:"sender,omitempty"`
	TicketRefs     []string   `json:"ticket_refs,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAnalyzedAt *time.Time `json:"last_analyzed_at,omitempty"`
}

// NeedsAnalysis reports whether the item should be re-classified: it has
// never been analyzed, or it changed since the last analysis.
func (w *WorkItem) NeedsAnalysis() bool {
	return w.LastAnalyzedAt == nil || w.UpdatedAt.After(*w.LastAnalyzedAt)
}

// Age returns how long ago the item was created, relative to now.
func (w *WorkItem) Age(now time.Time) time.Duration {
	return now.Sub(w.CreatedAt)
}

// Signal is a weighted, provenance-tagged piece of evidence extracted from
// item text. Signals are ephemeral: recomputed every cycle, never persisted
// standalone, only referenced inside a Score's audit trail.
type Signal struct {
	Category   SignalCategory `json:"category"`
	Weight     float64        `json:"weight"`
	Source     SourceTag      `json:"source"`
	Context    string         `json:"context"`
	DetectedAt time.Time      `json:"detected_at"`
	RelatedID  string         `json:"related_id,omitempty"`
	TicketRef  string         `json:"ticket_ref,omitempty"`
}

// Score is a classification result for one item in one domain. At most one
// live Score exists per (item, domain); persistence is an upsert keyed by
// item id. A manual override freezes the score against automatic overwrite
// until cleared, except where a validated progress transition supersedes it.
type Score struct {
	ItemID         string    `json:"item_id"`
	Domain         Domain    `json:"domain"`
	Label          string    `json:"label"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning,omitempty"`
	Signals        []Signal  `json:"signals,omitempty"`
	ManualOverride bool      `json:"manual_override"`
	// Supersede marks a write permitted to replace an override-frozen row,
	// releasing the override. Set only when a validated progress transition
	// supersedes a manual override; never persisted.
	Supersede      bool      `json:"-"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
	Model          string    `json:"model,omitempty"`
}

// LedgerEntry is one row of the daily token-consumption ledger.
type LedgerEntry struct {
	Domain     Domain    `json:"domain"`
	Tokens     int       `json:"tokens"`
	ItemCount  int       `json:"item_count"`
	Model      string    `json:"model,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ClassificationRun is an audit record for one inference round-trip.
type ClassificationRun struct {
	ID           string    `json:"id"`
	Domain       Domain    `json:"domain"`
	ItemCount    int       `json:"item_count"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	LatencyMs    int       `json:"latency_ms"`
	Status       string    `json:"status"` // completed, partial, failed
	ParseError   string    `json:"parse_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidLabel reports whether label is a member of the domain's label set.
func ValidLabel(domain Domain, label string) bool {
	switch domain {
	case DomainPriority:
		for _, l := range PriorityLabels {
			if string(l) == label {
				return true
			}
		}
	case DomainProgress:
		for _, s := range ProgressStates {
			if string(s) == label {
				return true
			}
		}
	}
	return false
}
