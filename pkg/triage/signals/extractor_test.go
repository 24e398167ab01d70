package signals

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/triaged/pkg/triage"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestExtractor(opts ...Option) *Extractor {
	return NewExtractor(append([]Option{WithClock(fixedClock)}, opts...)...)
}

func TestExtractText_CommitCompletion(t *testing.T) {
	e := newTestExtractor()
	observed := testNow.Add(-48 * time.Hour) // outside the recency window

	sigs := e.ExtractText(triage.DomainProgress,
		"Completed the payment fix, merged to main",
		triage.SourceCommit, observed, "")

	require.Len(t, sigs, 2, "expected matches for 'Completed' and 'merged'")
	for _, s := range sigs {
		assert.Equal(t, triage.SignalCompletion, s.Category)
		assert.Equal(t, triage.SourceCommit, s.Source)
		assert.InDelta(t, 0.9, s.Weight, 1e-9, "completion 0.9 x commit 1.0, no recency boost")
		assert.Equal(t, observed, s.DetectedAt)
	}
}

func TestExtractText_SourceMultipliersAndRecency(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		name       string
		source     triage.SourceTag
		observedAt time.Time
		want       float64
	}{
		{"commit stale", triage.SourceCommit, testNow.Add(-30 * time.Hour), 0.6 * 1.0},
		{"subject stale", triage.SourceSubject, testNow.Add(-30 * time.Hour), 0.6 * 0.9},
		{"body stale", triage.SourceBody, testNow.Add(-30 * time.Hour), 0.6 * 0.75},
		{"chat stale", triage.SourceChat, testNow.Add(-30 * time.Hour), 0.6 * 0.6},
		{"body recent boosted", triage.SourceBody, testNow.Add(-2 * time.Hour), 0.6 * 0.75 * 1.2},
		{"commit recent clamped", triage.SourceCommit, testNow.Add(-2 * time.Hour), 0.6 * 1.0 * 1.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigs := e.ExtractText(triage.DomainProgress, "working on the migration",
				tt.source, tt.observedAt, "")
			require.Len(t, sigs, 1)
			want := tt.want
			if want > 1 {
				want = 1
			}
			assert.InDelta(t, want, sigs[0].Weight, 1e-9)
		})
	}
}

func TestExtractText_Deterministic(t *testing.T) {
	e := newTestExtractor()
	observed := testNow.Add(-3 * time.Hour)
	text := "Blocked by PLAT-204, waiting on infra review. I'll pick it up after."

	first := e.ExtractText(triage.DomainProgress, text, triage.SourceBody, observed, "")
	for i := 0; i < 5; i++ {
		again := e.ExtractText(triage.DomainProgress, text, triage.SourceBody, observed, "")
		assert.Equal(t, first, again)
	}
}

func TestExtractText_SnippetBounds(t *testing.T) {
	e := newTestExtractor()
	long := "x a b c d e f g h i j k l m n o p q r s t u v completed w x y z a b c d e f g h i j k l m n o p q"

	sigs := e.ExtractText(triage.DomainProgress, long, triage.SourceBody, testNow, "")
	require.NotEmpty(t, sigs)
	for _, s := range sigs {
		assert.LessOrEqual(t, len(s.Context), 100)
		assert.Contains(t, s.Context, "completed")
	}
}

func TestExtractText_SnippetRespectsRuneBoundaries(t *testing.T) {
	e := newTestExtractor()

	// Multi-byte runes on both sides of the match: cut points that land
	// mid-rune must snap to a boundary instead of emitting broken UTF-8.
	text := strings.Repeat("é", 40) + " completed " + strings.Repeat("日", 40)

	sigs := e.ExtractText(triage.DomainProgress, text, triage.SourceBody, testNow, "")
	require.NotEmpty(t, sigs)
	for _, s := range sigs {
		assert.True(t, utf8.ValidString(s.Context), "context %q is not valid UTF-8", s.Context)
		assert.Contains(t, s.Context, "completed")
	}
}

func TestSnippet_CapCutsOnRuneBoundary(t *testing.T) {
	// A match long enough to trip the hard cap inside multi-byte text.
	text := strings.Repeat("日", 60)
	s := snippet(text, 0, len(text))
	assert.LessOrEqual(t, len(s), 100)
	assert.True(t, utf8.ValidString(s))
}

func TestExtractText_TicketRefAttached(t *testing.T) {
	e := newTestExtractor()

	sigs := e.ExtractText(triage.DomainProgress,
		"working on PLAT-42 and GH-7", triage.SourceBody, testNow, "")
	require.NotEmpty(t, sigs)
	assert.Equal(t, "PLAT-42", sigs[0].TicketRef, "first reference in the text wins")
}

func TestExtractTicketRefs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"jira key", "see PLAT-204 for details", []string{"PLAT-204"}},
		{"gh style", "fixes GH-123", []string{"GH-123"}},
		{"issue number", "closes #4521", []string{"#4521"}},
		{"mixed dedup", "PLAT-204 then PLAT-204 and #99", []string{"PLAT-204", "#99"}},
		{"none", "no references here", nil},
		{"lowercase not a key", "plat-204 is not a ticket", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTicketRefs(tt.text))
		})
	}
}

func TestExtract_TitleUsesSubjectCredibility(t *testing.T) {
	e := newTestExtractor()
	item := &triage.WorkItem{
		ID:        "item-1",
		Type:      triage.ItemTypeEmail,
		Source:    triage.SourceBody,
		Title:     "shipped the beta",
		Content:   "no evidence here",
		CreatedAt: testNow.Add(-50 * time.Hour),
		UpdatedAt: testNow.Add(-30 * time.Hour),
	}

	sigs := e.Extract(triage.DomainProgress, item)
	require.Len(t, sigs, 1)
	assert.Equal(t, triage.SourceSubject, sigs[0].Source)
	assert.InDelta(t, 0.9*0.9, sigs[0].Weight, 1e-9)
}

func TestExtract_CommitTitleKeepsCommitCredibility(t *testing.T) {
	e := newTestExtractor()
	item := &triage.WorkItem{
		ID:        "c-1",
		Type:      triage.ItemTypeCommit,
		Source:    triage.SourceCommit,
		Title:     "fixed flaky retry test",
		CreatedAt: testNow.Add(-50 * time.Hour),
		UpdatedAt: testNow.Add(-30 * time.Hour),
	}

	sigs := e.Extract(triage.DomainProgress, item)
	require.Len(t, sigs, 1)
	assert.Equal(t, triage.SourceCommit, sigs[0].Source)
}

func TestExtract_VIPSender(t *testing.T) {
	e := newTestExtractor(WithVIPSenders([]string{"ceo@example.com"}))
	item := &triage.WorkItem{
		ID:        "m-1",
		Type:      triage.ItemTypeEmail,
		Source:    triage.SourceBody,
		Title:     "quarterly numbers",
		Content:   "nothing pattern-shaped",
		Sender:    "CEO@Example.com",
		CreatedAt: testNow.Add(-30 * time.Hour),
		UpdatedAt: testNow.Add(-30 * time.Hour),
	}

	sigs := e.Extract(triage.DomainPriority, item)
	require.Len(t, sigs, 1)
	assert.Equal(t, triage.SignalVIPSender, sigs[0].Category)
	assert.InDelta(t, 0.8*0.75, sigs[0].Weight, 1e-9)

	// Non-VIP senders produce nothing.
	item.Sender = "intern@example.com"
	assert.Empty(t, e.Extract(triage.DomainPriority, item))
}

func TestExtract_AgeEscalation(t *testing.T) {
	e := newTestExtractor()
	item := &triage.WorkItem{
		ID:        "t-1",
		Type:      triage.ItemTypeTask,
		Source:    triage.SourceBody,
		Title:     "tidy the dashboards",
		CreatedAt: testNow.Add(-100 * time.Hour),
		UpdatedAt: testNow.Add(-100 * time.Hour),
	}

	sigs := e.Extract(triage.DomainPriority, item)
	require.Len(t, sigs, 1)
	assert.Equal(t, triage.SignalAgeEscalation, sigs[0].Category)
	assert.InDelta(t, 0.4*0.75, sigs[0].Weight, 1e-9)

	// Already-analyzed items do not escalate on age.
	analyzed := testNow.Add(-time.Hour)
	item.LastAnalyzedAt = &analyzed
	assert.Empty(t, e.Extract(triage.DomainPriority, item))
}

func TestExtractText_PriorityPatterns(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		name string
		text string
		want triage.SignalCategory
	}{
		{"deadline", "this is due by Friday", triage.SignalDeadline},
		{"urgency", "URGENT: prod is down", triage.SignalUrgencyKeyword},
		{"action required", "please review the attached doc", triage.SignalActionRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigs := e.ExtractText(triage.DomainPriority, tt.text, triage.SourceBody, testNow, "")
			require.NotEmpty(t, sigs)
			assert.Equal(t, tt.want, sigs[0].Category)
		})
	}
}

func TestExtractText_EmptyAndUnknownDomain(t *testing.T) {
	e := newTestExtractor()
	assert.Empty(t, e.ExtractText(triage.DomainProgress, "   ", triage.SourceBody, testNow, ""))
	assert.Empty(t, e.ExtractText(triage.Domain("unknown"), "completed", triage.SourceBody, testNow, ""))
}

func TestHasReopenKeyword(t *testing.T) {
	sigs := []triage.Signal{
		{Category: triage.SignalEscalation, Context: "had to reopen PLAT-9 after the rollback"},
	}
	assert.True(t, HasReopenKeyword(sigs))
	assert.False(t, HasReopenKeyword([]triage.Signal{{Context: "merged and closed"}}))
}
