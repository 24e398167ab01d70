// Package prompt assembles bounded classification batches into a single
// structured inference request: domain rubric, per-item context, correlated
// items, and the deduplicated signal summary.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/gateway"
	"github.com/otherjamesbrown/triaged/pkg/triage/signals"
)

const (
	// MaxBatchSize caps how many items go into one inference request.
	MaxBatchSize = 10

	// MaxRelatedItems caps correlated items included per batch item.
	MaxRelatedItems = 3

	// excerptLen caps the content excerpt per item.
	excerptLen = 400
)

// BatchItem pairs an item with its signal summary and correlated items.
type BatchItem struct {
	Item    *triage.WorkItem
	Summary signals.Summary
	Related []*triage.WorkItem
}

// Builder constructs inference requests for classification batches.
type Builder struct {
	maxTokens int
	now       func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxTokens sets the response token cap requested from the model.
func WithMaxTokens(n int) Option {
	return func(b *Builder) { b.maxTokens = n }
}

// WithClock overrides the time source used for item-age rendering.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		maxTokens: 4096,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles one inference request for the batch. The batch is
// truncated at MaxBatchSize; each item's related list at MaxRelatedItems.
func (b *Builder) Build(domain triage.Domain, batch []BatchItem) (*gateway.CompletionRequest, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(batch) > MaxBatchSize {
		batch = batch[:MaxBatchSize]
	}

	labels := domainLabels(domain)
	if labels == nil {
		return nil, fmt.Errorf("unknown domain %q", domain)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Classify the following %d work items. Return one classification per item, referencing each item by its zero-based item_index.\n", len(batch))

	now := b.now()
	for i, bi := range batch {
		item := bi.Item
		fmt.Fprintf(&sb, "\n--- Item %d ---\n", i)
		fmt.Fprintf(&sb, "Title: %s\n", strings.TrimSpace(item.Title))
		fmt.Fprintf(&sb, "Type: %s | Source: %s | Age: %s\n", item.Type, item.Source, humanAge(item.Age(now)))
		if item.Sender != "" {
			fmt.Fprintf(&sb, "Sender: %s\n", item.Sender)
		}
		if refs := item.TicketRefs; len(refs) > 0 {
			fmt.Fprintf(&sb, "Ticket refs: %s\n", strings.Join(refs, ", "))
		}
		fmt.Fprintf(&sb, "Content: %s\n", excerpt(item.Content))

		writeSignalSummary(&sb, bi.Summary)
		writeRelated(&sb, bi.Related, now)
	}

	return &gateway.CompletionRequest{
		SystemPrompt:   Rubric(domain),
		Prompt:         sb.String(),
		MaxTokens:      b.maxTokens,
		ResponseSchema: gateway.ClassificationSchema(labels),
	}, nil
}

// writeSignalSummary renders the deduplicated signal summary for one item.
func writeSignalSummary(sb *strings.Builder, summary signals.Summary) {
	if len(summary.Categories) == 0 {
		sb.WriteString("Signals: none detected\n")
		return
	}
	sb.WriteString("Signals:\n")
	for _, cat := range summary.Categories {
		for _, s := range cat.Signals {
			fmt.Fprintf(sb, "  [%s w=%.2f src=%s] %q\n", cat.Category, s.Weight, s.Source, s.Context)
		}
	}
}

// writeRelated renders up to MaxRelatedItems correlated items.
func writeRelated(sb *strings.Builder, related []*triage.WorkItem, now time.Time) {
	if len(related) == 0 {
		return
	}
	if len(related) > MaxRelatedItems {
		related = related[:MaxRelatedItems]
	}
	sb.WriteString("Related items (shared ticket reference):\n")
	for _, r := range related {
		fmt.Fprintf(sb, "  - [%s, %s old] %s: %s\n", r.Type, humanAge(r.Age(now)), strings.TrimSpace(r.Title), excerpt(r.Content))
	}
}

// Rubric returns the system prompt for a domain: the label set, the signal
// weight table, and confidence banding guidance.
func Rubric(domain triage.Domain) string {
	var sb strings.Builder

	switch domain {
	case triage.DomainPriority:
		sb.WriteString("You are a triage assistant that classifies work items by business priority.\n")
		sb.WriteString("Allowed labels: urgent, high, medium, low.\n")
	case triage.DomainProgress:
		sb.WriteString("You are a triage assistant that classifies work items by work-progress state.\n")
		sb.WriteString("Allowed labels: not_started, in_progress, blocked, done, stale.\n")
	}

	sb.WriteString("\nSignal weight table (higher weight = stronger evidence):\n")
	weights := signals.DefaultWeights(domain)
	cats := make([]string, 0, len(weights))
	for c := range weights {
		cats = append(cats, string(c))
	}
	sort.Slice(cats, func(i, j int) bool {
		if weights[triage.SignalCategory(cats[i])] != weights[triage.SignalCategory(cats[j])] {
			return weights[triage.SignalCategory(cats[i])] > weights[triage.SignalCategory(cats[j])]
		}
		return cats[i] < cats[j]
	})
	for _, c := range cats {
		fmt.Fprintf(&sb, "  %-16s %.2f\n", c, weights[triage.SignalCategory(c)])
	}

	sb.WriteString(`
Confidence banding:
  0.9-1.0   multiple strong, agreeing signals from independent sources
  0.7-0.89  one strong signal, or several medium signals that agree
  0.5-0.69  weak or indirect evidence only
  below 0.5 guesswork; prefer the neutral label and say why

Weigh signals by the table above and by source credibility (commit messages
are the most reliable, chat the least). Conflicting signals must lower your
confidence. Base your reasoning only on the provided item text and signals.
`)

	if domain == triage.DomainProgress {
		sb.WriteString("When evidence names a date of the most recent activity, return it in last_activity as an ISO-8601 date.\n")
	}
	return sb.String()
}

// domainLabels returns the allowed label strings for a domain.
func domainLabels(domain triage.Domain) []string {
	switch domain {
	case triage.DomainPriority:
		out := make([]string, len(triage.PriorityLabels))
		for i, l := range triage.PriorityLabels {
			out[i] = string(l)
		}
		return out
	case triage.DomainProgress:
		out := make([]string, len(triage.ProgressStates))
		for i, s := range triage.ProgressStates {
			out[i] = string(s)
		}
		return out
	}
	return nil
}

// excerpt trims content to the per-item cap, collapsing whitespace.
func excerpt(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if len(s) > excerptLen {
		s = s[:excerptLen] + "..."
	}
	return s
}

// humanAge renders a duration as a compact age string.
func humanAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
