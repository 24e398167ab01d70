package signals

import (
	"sort"
	"strings"

	"github.com/otherjamesbrown/triaged/pkg/triage"
)

const (
	maxPerCategory = 5
	dedupePrefix   = 24 // characters of normalized context compared
)

// Summary is the prompt-ready view of an item's signals: grouped by
// category, strongest and freshest first, duplicates removed, capped at
// five per category.
type Summary struct {
	Categories []CategorySummary
}

// CategorySummary holds the surviving signals for one category.
type CategorySummary struct {
	Category triage.SignalCategory
	Signals  []triage.Signal
}

// DistinctSources returns the number of distinct source tags across all
// surviving signals.
func (s Summary) DistinctSources() int {
	seen := make(map[triage.SourceTag]struct{})
	for _, c := range s.Categories {
		for _, sig := range c.Signals {
			seen[sig.Source] = struct{}{}
		}
	}
	return len(seen)
}

// Has reports whether the summary retains any signal of the category.
func (s Summary) Has(cat triage.SignalCategory) bool {
	for _, c := range s.Categories {
		if c.Category == cat && len(c.Signals) > 0 {
			return true
		}
	}
	return false
}

// All returns every surviving signal across categories.
func (s Summary) All() []triage.Signal {
	var out []triage.Signal
	for _, c := range s.Categories {
		out = append(out, c.Signals...)
	}
	return out
}

// Summarize prepares signals for prompting: group by category, sort by
// (weight desc, detectedAt desc), deduplicate by normalized context prefix,
// cap at five per category. Categories appear in descending order of their
// strongest signal.
func Summarize(sigs []triage.Signal) Summary {
	groups := make(map[triage.SignalCategory][]triage.Signal)
	for _, s := range sigs {
		groups[s.Category] = append(groups[s.Category], s)
	}

	var cats []CategorySummary
	for cat, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Weight != group[j].Weight {
				return group[i].Weight > group[j].Weight
			}
			return group[i].DetectedAt.After(group[j].DetectedAt)
		})

		seen := make(map[string]struct{})
		var kept []triage.Signal
		for _, s := range group {
			key := dedupeKey(s.Context)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			kept = append(kept, s)
			if len(kept) == maxPerCategory {
				break
			}
		}
		cats = append(cats, CategorySummary{Category: cat, Signals: kept})
	}

	sort.SliceStable(cats, func(i, j int) bool {
		wi, wj := 0.0, 0.0
		if len(cats[i].Signals) > 0 {
			wi = cats[i].Signals[0].Weight
		}
		if len(cats[j].Signals) > 0 {
			wj = cats[j].Signals[0].Weight
		}
		if wi != wj {
			return wi > wj
		}
		return cats[i].Category < cats[j].Category
	})

	return Summary{Categories: cats}
}

// dedupeKey normalizes a context snippet to its comparable prefix.
func dedupeKey(context string) string {
	k := strings.ToLower(strings.Join(strings.Fields(context), " "))
	if len(k) > dedupePrefix {
		k = k[:dedupePrefix]
	}
	return k
}
