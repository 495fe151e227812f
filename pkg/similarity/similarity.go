// Package similarity scores how alike two free-text labels are.
//
// Scores are in [0, 1], deterministic, and symmetric: Score(a, b) == Score(b, a).
// Labels are reduced to a set of canonical tokens (NFKC, case folded, punctuation
// stripped, plurals singularized, domain abbreviations expanded) so that word order,
// pluralization, and common survey abbreviations do not affect the result.
package similarity

import (
	"cmp"
	"slices"
	"strings"
)

// Match is a scored candidate produced by Rank.
type Match struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score returns the similarity of a and b.
// It is the larger of the Dice coefficient over canonical token sets and the
// normalized Levenshtein similarity of the sorted token strings.
func Score(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)

	if len(ta) == 0 || len(tb) == 0 {
		if len(ta) == 0 && len(tb) == 0 && Key(a) == Key(b) {
			return 1.0
		}
		return 0.0
	}

	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	dice := 2 * float64(shared) / float64(len(ta)+len(tb))

	char := LevenshteinNormalized(joinSorted(ta), joinSorted(tb))

	return max(dice, char)
}

// Rank scores query against every candidate and returns the matches scoring
// strictly above threshold, ordered by score descending and then by candidate position.
func Rank(query string, candidates []string, threshold float64) []Match {
	matches := make([]Match, 0)
	for i, c := range candidates {
		s := Score(query, c)
		if s <= threshold {
			continue
		}
		matches = append(matches, Match{Label: c, Index: i, Score: s})
	}

	slices.SortStableFunc(matches, func(x, y Match) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		return cmp.Compare(x.Index, y.Index)
	})

	return matches
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(s) {
		set[t] = struct{}{}
	}
	return set
}

func joinSorted(set map[string]struct{}) string {
	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	slices.Sort(tokens)
	return strings.Join(tokens, " ")
}
