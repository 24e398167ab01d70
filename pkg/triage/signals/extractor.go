// Package signals implements deterministic, pattern-based signal extraction.
// It is pure and I/O-free: identical input always yields identical signal
// sets for a fixed observation time.
package signals

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/otherjamesbrown/triaged/pkg/triage"
)

const (
	snippetRadius = 30  // characters kept either side of a match
	snippetMaxLen = 100 // hard cap on snippet length
	recencyBoost  = 1.2
	recencyWindow = 24 * time.Hour

	vipSenderWeight     = 0.8
	ageEscalationWeight = 0.4
	ageEscalationAfter  = 72 * time.Hour
)

// Extractor turns raw item text into weighted evidentiary signals.
type Extractor struct {
	vipSenders map[string]struct{}
	now        func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithVIPSenders sets the priority-domain VIP sender allow-list. Matching is
// case-insensitive on the full sender address.
func WithVIPSenders(senders []string) Option {
	return func(e *Extractor) {
		for _, s := range senders {
			e.vipSenders[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
		}
	}
}

// WithClock overrides the time source. Tests use this to pin recency logic.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		vipSenders: make(map[string]struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns all signals for an item in the given domain. Title text is
// scanned with subject-level credibility, body content with the item's own
// source tag. Metadata-derived signals (VIP sender, age escalation) are
// synthesized for the priority domain.
func (e *Extractor) Extract(domain triage.Domain, item *triage.WorkItem) []triage.Signal {
	return e.ExtractRelated(domain, item, "")
}

// ExtractRelated behaves like Extract but stamps every signal with the id of
// a correlated item, for cross-source fusion.
func (e *Extractor) ExtractRelated(domain triage.Domain, item *triage.WorkItem, relatedID string) []triage.Signal {
	var sigs []triage.Signal

	titleSource := triage.SourceSubject
	if item.Source == triage.SourceCommit {
		// Commit "titles" are the first line of the commit message itself.
		titleSource = triage.SourceCommit
	}
	sigs = append(sigs, e.ExtractText(domain, item.Title, titleSource, item.UpdatedAt, relatedID)...)
	sigs = append(sigs, e.ExtractText(domain, item.Content, item.Source, item.UpdatedAt, relatedID)...)

	if domain == triage.DomainPriority {
		sigs = append(sigs, e.metadataSignals(item, relatedID)...)
	}
	return sigs
}

// ExtractText is the core contract: scan one text with one provenance tag.
// observedAt is when the text was produced (normally the item's updatedAt);
// it becomes the signal's detection timestamp and drives the recency boost.
func (e *Extractor) ExtractText(domain triage.Domain, text string, source triage.SourceTag, observedAt time.Time, relatedID string) []triage.Signal {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var table []pattern
	switch domain {
	case triage.DomainProgress:
		table = progressPatterns
	case triage.DomainPriority:
		table = priorityPatterns
	default:
		return nil
	}

	refs := ExtractTicketRefs(text)
	ref := ""
	if len(refs) > 0 {
		ref = refs[0]
	}

	recent := e.now().Sub(observedAt) < recencyWindow

	var sigs []triage.Signal
	for _, p := range table {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			w := p.weight * SourceMultiplier(source)
			if recent {
				w *= recencyBoost
			}
			sigs = append(sigs, triage.Signal{
				Category:   p.category,
				Weight:     clamp01(w),
				Source:     source,
				Context:    snippet(text, loc[0], loc[1]),
				DetectedAt: observedAt,
				RelatedID:  relatedID,
				TicketRef:  ref,
			})
		}
	}
	return sigs
}

// metadataSignals synthesizes priority signals that are not textual: VIP
// sender membership and age-based escalation for items left unattended.
func (e *Extractor) metadataSignals(item *triage.WorkItem, relatedID string) []triage.Signal {
	var sigs []triage.Signal
	now := e.now()

	ref := ""
	if len(item.TicketRefs) > 0 {
		ref = item.TicketRefs[0]
	}

	if item.Sender != "" {
		if _, ok := e.vipSenders[strings.ToLower(strings.TrimSpace(item.Sender))]; ok {
			w := vipSenderWeight * SourceMultiplier(item.Source)
			if now.Sub(item.UpdatedAt) < recencyWindow {
				w *= recencyBoost
			}
			sigs = append(sigs, triage.Signal{
				Category:   triage.SignalVIPSender,
				Weight:     clamp01(w),
				Source:     item.Source,
				Context:    "sender: " + item.Sender,
				DetectedAt: item.UpdatedAt,
				RelatedID:  relatedID,
				TicketRef:  ref,
			})
		}
	}

	if age := item.Age(now); age > ageEscalationAfter && item.LastAnalyzedAt == nil {
		sigs = append(sigs, triage.Signal{
			Category:   triage.SignalAgeEscalation,
			Weight:     clamp01(ageEscalationWeight * SourceMultiplier(item.Source)),
			Source:     item.Source,
			Context:    fmt.Sprintf("unattended for %dh", int(age.Hours())),
			DetectedAt: item.UpdatedAt,
			RelatedID:  relatedID,
			TicketRef:  ref,
		})
	}
	return sigs
}

// snippet returns the text +/-30 characters around a match, capped at 100
// characters, with surrounding whitespace trimmed and newlines collapsed.
// Cut points snap to rune boundaries so multi-byte text never yields an
// invalid context string.
func snippet(text string, start, end int) string {
	lo := start - snippetRadius
	if lo < 0 {
		lo = 0
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	hi := end + snippetRadius
	if hi > len(text) {
		hi = len(text)
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	s := text[lo:hi]
	if len(s) > snippetMaxLen {
		cut := snippetMaxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
