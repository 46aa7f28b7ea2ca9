package council

import (
	"regexp"
	"sort"
	"strings"
)

var labelPattern = regexp.MustCompile(`[Rr]esponse\s+([A-Z])\b`)

// parseRanking extracts an ordering of labels from an agent's free-form
// ranking text. Models rarely follow the requested format to the letter, so
// parsing is deliberately lenient: label mentions are taken in order of first
// appearance, duplicates collapse onto their first mention, unknown labels
// are dropped. If nothing usable remains the ranking is marked invalid and
// later excluded from aggregation (but kept for display).
func parseRanking(agent, raw string, labels LabelMap) Ranking {
	r := Ranking{Agent: agent, Raw: raw}

	// Prefer an explicit ranking section when the model supplied one.
	text := raw
	if idx := strings.LastIndex(strings.ToUpper(raw), "FINAL RANKING"); idx >= 0 {
		text = raw[idx:]
	}

	seen := make(map[string]bool)
	for _, match := range labelPattern.FindAllStringSubmatch(text, -1) {
		label := "Response " + match[1]
		if _, known := labels.Agent(label); !known {
			continue
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		r.Labels = append(r.Labels, label)
	}

	r.Valid = len(r.Labels) > 0
	return r
}

// aggregate computes the consensus ordering with Borda positional scoring:
// in a ranking of k labels the top one earns k-1 points down to 0 for the
// last; omitted labels earn nothing from that ranking. Ties break on
// first-place mentions, then on agent id for full determinism. With zero
// valid rankings every stage-1 success scores 0 in stage-1 order, so a run
// never dies just because every ranker rambled.
func aggregate(rankings []Ranking, labels LabelMap, stage1 Stage1Set) []AggregateEntry {
	scores := make(map[string]int)
	firsts := make(map[string]int)

	validCount := 0
	for _, r := range rankings {
		if !r.Valid {
			continue
		}
		validCount++
		k := len(r.Labels)
		for i, label := range r.Labels {
			agent, ok := labels.Agent(label)
			if !ok {
				continue
			}
			scores[agent] += k - 1 - i
			if i == 0 {
				firsts[agent]++
			}
		}
	}

	entries := make([]AggregateEntry, 0, labels.Len())
	for _, agent := range stage1.Succeeded() {
		entries = append(entries, AggregateEntry{
			Agent:      agent,
			Score:      scores[agent],
			FirstPlace: firsts[agent],
		})
	}

	if validCount == 0 {
		// Fallback ordering: stage-1 completion order, all zeros.
		return entries
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].FirstPlace != entries[j].FirstPlace {
			return entries[i].FirstPlace > entries[j].FirstPlace
		}
		return entries[i].Agent < entries[j].Agent
	})
	return entries
}
