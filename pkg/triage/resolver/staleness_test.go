package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/triaged/pkg/logging"
	"github.com/otherjamesbrown/triaged/pkg/triage"
)

func inProgressScore(lastActivity time.Time) *triage.Score {
	return &triage.Score{
		ItemID:         "sw-1",
		Domain:         triage.DomainProgress,
		Label:          string(triage.ProgressInProgress),
		Confidence:     0.7,
		LastActivityAt: lastActivity,
	}
}

func TestSweepStale(t *testing.T) {
	r := NewResolver(logging.NewNopLogger(), WithClock(func() time.Time { return transNow }))
	threshold := 72 * time.Hour

	t.Run("stale past threshold", func(t *testing.T) {
		score := inProgressScore(transNow.Add(-100 * time.Hour))
		stale, ok := r.SweepStale(score, nil, threshold)
		require.True(t, ok)
		assert.Equal(t, string(triage.ProgressStale), stale.Label)
		assert.InDelta(t, 0.8, stale.Confidence, 1e-9)
		assert.Equal(t, "staleness-sweep", stale.Model)
		assert.Equal(t, transNow, stale.UpdatedAt)
		// The original score must be untouched.
		assert.Equal(t, string(triage.ProgressInProgress), score.Label)
	})

	t.Run("exactly at threshold is not stale", func(t *testing.T) {
		score := inProgressScore(transNow.Add(-threshold))
		_, ok := r.SweepStale(score, nil, threshold)
		assert.False(t, ok)
	})

	t.Run("only in-progress scores are swept", func(t *testing.T) {
		for _, label := range []triage.ProgressState{
			triage.ProgressNotStarted, triage.ProgressBlocked,
			triage.ProgressDone, triage.ProgressStale,
		} {
			score := inProgressScore(transNow.Add(-200 * time.Hour))
			score.Label = string(label)
			_, ok := r.SweepStale(score, nil, threshold)
			assert.False(t, ok, "label %s", label)
		}
		_, ok := r.SweepStale(nil, nil, threshold)
		assert.False(t, ok)
	})

	t.Run("manual override is never swept", func(t *testing.T) {
		score := inProgressScore(transNow.Add(-200 * time.Hour))
		score.ManualOverride = true
		_, ok := r.SweepStale(score, nil, threshold)
		assert.False(t, ok)
	})

	t.Run("recent activity signal outranks stale score timestamp", func(t *testing.T) {
		score := inProgressScore(transNow.Add(-200 * time.Hour))
		sigs := []triage.Signal{
			catSig(triage.SignalActivity, transNow.Add(-2*time.Hour), "pushed a fix"),
		}
		_, ok := r.SweepStale(score, sigs, threshold)
		assert.False(t, ok)
	})

	t.Run("commitment evidence uses earliest mention", func(t *testing.T) {
		score := inProgressScore(transNow.Add(-time.Hour))
		sigs := []triage.Signal{
			catSig(triage.SignalCommitment, transNow.Add(-100*time.Hour), "will pick this up"),
			catSig(triage.SignalCommitment, transNow.Add(-2*time.Hour), "on it today"),
		}
		// With activity or completion absent, the oldest unfulfilled
		// commitment drives staleness regardless of the score timestamp.
		stale, ok := r.SweepStale(score, sigs, threshold)
		require.True(t, ok)
		assert.Equal(t, string(triage.ProgressStale), stale.Label)
	})

	t.Run("no evidence at all stays put", func(t *testing.T) {
		score := inProgressScore(time.Time{})
		_, ok := r.SweepStale(score, nil, threshold)
		assert.False(t, ok)
	})

	t.Run("zero threshold falls back to default", func(t *testing.T) {
		score := inProgressScore(transNow.Add(-DefaultStaleThreshold - time.Hour))
		_, ok := r.SweepStale(score, nil, 0)
		assert.True(t, ok)

		score = inProgressScore(transNow.Add(-DefaultStaleThreshold + time.Hour))
		_, ok = r.SweepStale(score, nil, 0)
		assert.False(t, ok)
	})
}
