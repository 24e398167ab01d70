package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/triaged/pkg/triage"
	"github.com/otherjamesbrown/triaged/pkg/triage/signals"
)

var buildNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testBuilder() *Builder {
	return NewBuilder(WithClock(func() time.Time { return buildNow }))
}

func batchItem(title, content string) BatchItem {
	return BatchItem{
		Item: &triage.WorkItem{
			ID:        "it-" + title,
			Type:      triage.ItemTypeEmail,
			Source:    triage.SourceBody,
			Title:     title,
			Content:   content,
			CreatedAt: buildNow.Add(-3 * time.Hour),
			UpdatedAt: buildNow.Add(-3 * time.Hour),
		},
	}
}

func TestBuild_EmptyBatch(t *testing.T) {
	_, err := testBuilder().Build(triage.DomainPriority, nil)
	assert.Error(t, err)
}

func TestBuild_UnknownDomain(t *testing.T) {
	_, err := testBuilder().Build(triage.Domain("vibes"), []BatchItem{batchItem("a", "x")})
	assert.Error(t, err)
}

func TestBuild_TruncatesAtMaxBatchSize(t *testing.T) {
	batch := make([]BatchItem, MaxBatchSize+4)
	for i := range batch {
		batch[i] = batchItem(fmt.Sprintf("item %d", i), "content")
	}

	req, err := testBuilder().Build(triage.DomainPriority, batch)
	require.NoError(t, err)

	assert.Contains(t, req.Prompt, fmt.Sprintf("Classify the following %d work items", MaxBatchSize))
	assert.Contains(t, req.Prompt, fmt.Sprintf("--- Item %d ---", MaxBatchSize-1))
	assert.NotContains(t, req.Prompt, fmt.Sprintf("--- Item %d ---", MaxBatchSize))
}

func TestBuild_ItemSections(t *testing.T) {
	bi := batchItem("Quarterly billing migration", "we need to move the invoices table before Friday")
	bi.Item.Sender = "cfo@example.com"
	bi.Item.TicketRefs = []string{"BILL-77"}
	bi.Summary = signals.Summarize([]triage.Signal{{
		Category:   triage.SignalDeadline,
		Weight:     0.81,
		Source:     triage.SourceBody,
		Context:    "before Friday",
		DetectedAt: buildNow.Add(-3 * time.Hour),
	}})

	req, err := testBuilder().Build(triage.DomainPriority, []BatchItem{bi})
	require.NoError(t, err)

	assert.Contains(t, req.Prompt, "--- Item 0 ---")
	assert.Contains(t, req.Prompt, "Title: Quarterly billing migration")
	assert.Contains(t, req.Prompt, "Type: email | Source: body | Age: 3h")
	assert.Contains(t, req.Prompt, "Sender: cfo@example.com")
	assert.Contains(t, req.Prompt, "Ticket refs: BILL-77")
	assert.Contains(t, req.Prompt, `[deadline w=0.81 src=body] "before Friday"`)

	require.NotNil(t, req.ResponseSchema)
	assert.Equal(t, "work_item_classifications", req.ResponseSchema.Name)
	assert.Contains(t, string(req.ResponseSchema.Schema), `"urgent"`)
}

func TestBuild_NoSignals(t *testing.T) {
	req, err := testBuilder().Build(triage.DomainProgress, []BatchItem{batchItem("quiet", "nothing here")})
	require.NoError(t, err)
	assert.Contains(t, req.Prompt, "Signals: none detected")
}

func TestBuild_RelatedItemsCapped(t *testing.T) {
	bi := batchItem("main", "the work item")
	for i := 0; i < MaxRelatedItems+2; i++ {
		bi.Related = append(bi.Related, &triage.WorkItem{
			ID:        fmt.Sprintf("rel-%d", i),
			Type:      triage.ItemTypeCommit,
			Title:     fmt.Sprintf("related commit %d", i),
			Content:   "touched the same ticket",
			CreatedAt: buildNow.Add(-24 * time.Hour),
			UpdatedAt: buildNow.Add(-24 * time.Hour),
		})
	}

	req, err := testBuilder().Build(triage.DomainProgress, []BatchItem{bi})
	require.NoError(t, err)

	assert.Contains(t, req.Prompt, "Related items (shared ticket reference):")
	assert.Contains(t, req.Prompt, "related commit 2")
	assert.NotContains(t, req.Prompt, "related commit 3")
}

func TestBuild_ContentExcerptBounded(t *testing.T) {
	long := strings.Repeat("migration detail ", 100)
	req, err := testBuilder().Build(triage.DomainPriority, []BatchItem{batchItem("long", long)})
	require.NoError(t, err)

	start := strings.Index(req.Prompt, "Content: ")
	require.GreaterOrEqual(t, start, 0)
	line := req.Prompt[start:]
	line = line[:strings.IndexByte(line, '\n')]
	assert.LessOrEqual(t, len(line), len("Content: ")+400+len("..."))
	assert.True(t, strings.HasSuffix(line, "..."))
}

func TestRubric(t *testing.T) {
	pri := Rubric(triage.DomainPriority)
	assert.Contains(t, pri, "urgent, high, medium, low")
	assert.Contains(t, pri, "deadline")
	assert.Contains(t, pri, "0.90")
	assert.Contains(t, pri, "Confidence banding")
	assert.NotContains(t, pri, "last_activity")

	prog := Rubric(triage.DomainProgress)
	assert.Contains(t, prog, "not_started, in_progress, blocked, done, stale")
	assert.Contains(t, prog, "completion")
	assert.Contains(t, prog, "last_activity")
}
