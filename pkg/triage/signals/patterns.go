package signals

import (
	"regexp"

	"github.com/otherjamesbrown/triaged/pkg/triage"
)

// pattern couples a compiled expression with its signal family and default
// weight. Effective weight = default weight x source multiplier x recency
// boost, clamped to [0, 1].
type pattern struct {
	category triage.SignalCategory
	weight   float64
	re       *regexp.Regexp
}

// Progress-domain pattern families. Completion and blocker evidence is the
// strongest; commitments are weakest because they describe intent, not work.
var progressPatterns = []pattern{
	{triage.SignalCompletion, 0.9, regexp.MustCompile(`(?i)\b(completed?|finished|done|shipped|merged|closed|resolved|deployed|released|fixed)\b`)},
	{triage.SignalBlocker, 0.85, regexp.MustCompile(`(?i)\b(blocked (?:by|on)|blocker|waiting (?:on|for)|stuck on|on hold|can.?t proceed|held up by)\b`)},
	{triage.SignalEscalation, 0.7, regexp.MustCompile(`(?i)\b(reopen(?:ed|ing)?|revert(?:ed|ing)?|regress(?:ed|ion)|broke again|back to the drawing board|escalat(?:e|ed|ing))\b`)},
	{triage.SignalActivity, 0.6, regexp.MustCompile(`(?i)\b(working on|started|in progress|pushed|updated|reviewing|implementing|investigating|debugging|continuing|picking (?:this|it) up|wip)\b`)},
	{triage.SignalCommitment, 0.5, regexp.MustCompile(`(?i)\b(i(?:'ll| will)|we(?:'ll| will)|going to|plan(?:ning)? to|aim(?:ing)? to|commit(?:ting)? to|will (?:have|get|do|ship|fix))\b`)},
}

// Priority-domain pattern families. VIP-sender and age-escalation signals are
// synthesized from item metadata rather than matched in text.
var priorityPatterns = []pattern{
	{triage.SignalDeadline, 0.9, regexp.MustCompile(`(?i)\b(deadline|due (?:date|by|on|today|tomorrow)|by (?:eod|eow|cob|end of (?:day|week)|tomorrow|monday|tuesday|wednesday|thursday|friday)|no later than|overdue)\b`)},
	{triage.SignalUrgencyKeyword, 0.85, regexp.MustCompile(`(?i)\b(urgent(?:ly)?|asap|critical|immediately|emergency|right away|time.sensitive|p[01]\b|sev[12]\b|high priority)`)},
	{triage.SignalActionRequired, 0.7, regexp.MustCompile(`(?i)\b(action required|please (?:review|respond|reply|approve|confirm|sign off)|needs? (?:your )?(?:review|approval|response|attention|input)|waiting (?:for|on) (?:you|your)|can you)\b`)},
}

// reopenKeywords identifies explicit reopen/revert language. The progress
// state machine only permits Done -> InProgress when one of these appears in
// the item's signal contexts.
var reopenKeywords = regexp.MustCompile(`(?i)\b(reopen(?:ed|ing)?|revert(?:ed|ing)?|regress(?:ed|ion)|broke again|not (?:actually )?(?:done|fixed))\b`)

// ticketRefPatterns match embedded ticket/issue identifiers. Every signal
// extracted from a text carries the first reference found in it, which lets
// the store correlate signals from different sources about the same work.
var ticketRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}-\d{1,6}\b`), // JIRA-style keys
	regexp.MustCompile(`\bGH-\d{1,6}\b`),
	regexp.MustCompile(`#\d{2,6}\b`), // issue/PR numbers
}

// sourceMultipliers encode source credibility: commit messages are the most
// trustworthy evidence of work state, chat the least.
var sourceMultipliers = map[triage.SourceTag]float64{
	triage.SourceCommit:  1.0,
	triage.SourceSubject: 0.9,
	triage.SourceBody:    0.75,
	triage.SourceChat:    0.6,
}

// DefaultWeights returns the default weight table for a domain, used both by
// the extractor and by the prompt rubric.
func DefaultWeights(domain triage.Domain) map[triage.SignalCategory]float64 {
	switch domain {
	case triage.DomainProgress:
		w := make(map[triage.SignalCategory]float64, len(progressPatterns))
		for _, p := range progressPatterns {
			w[p.category] = p.weight
		}
		return w
	case triage.DomainPriority:
		w := make(map[triage.SignalCategory]float64, len(priorityPatterns)+2)
		for _, p := range priorityPatterns {
			w[p.category] = p.weight
		}
		w[triage.SignalVIPSender] = vipSenderWeight
		w[triage.SignalAgeEscalation] = ageEscalationWeight
		return w
	}
	return nil
}

// SourceMultiplier returns the credibility multiplier for a source tag.
// Unknown tags get body-level credibility.
func SourceMultiplier(tag triage.SourceTag) float64 {
	if m, ok := sourceMultipliers[tag]; ok {
		return m
	}
	return sourceMultipliers[triage.SourceBody]
}

// HasReopenKeyword reports whether any signal's context snippet contains
// explicit reopen/revert language.
func HasReopenKeyword(sigs []triage.Signal) bool {
	for _, s := range sigs {
		if reopenKeywords.MatchString(s.Context) {
			return true
		}
	}
	return false
}

// ExtractTicketRefs returns all distinct ticket/issue references in text, in
// order of first appearance.
func ExtractTicketRefs(text string) []string {
	var refs []string
	seen := make(map[string]struct{})
	for _, re := range ticketRefPatterns {
		for _, m := range re.FindAllString(text, -1) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			refs = append(refs, m)
		}
	}
	return refs
}
