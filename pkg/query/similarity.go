package query

import (
	"math"
	"sort"
	"strings"

	"github.com/loomgraph/loom/pkg/ai"
)

// lexicalScore rates how well label matches term in [0, 1]: exact
// match beats prefix, prefix beats substring, and anything else falls
// back to token overlap.
func lexicalScore(term, label string) float64 {
	t := strings.ToLower(ai.NormalizeLabel(term))
	l := strings.ToLower(ai.NormalizeLabel(label))
	if t == "" || l == "" {
		return 0
	}

	switch {
	case t == l:
		return 1.0
	case strings.HasPrefix(l, t) || strings.HasPrefix(t, l):
		return 0.9
	case strings.Contains(l, t) || strings.Contains(t, l):
		return 0.75
	}
	return 0.7 * tokenJaccard(t, l)
}

// tokenJaccard is the Jaccard index of the whitespace token sets.
func tokenJaccard(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}

	intersection := 0
	for tok := range as {
		if bs[tok] {
			intersection++
		}
	}
	union := len(as) + len(bs) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

func cosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortMatches orders by score descending, breaking ties by insertion
// order so equal scores rank deterministically.
func sortMatches(matches []EntityMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entity.Seq < matches[j].Entity.Seq
	})
}
