// CLAUDE:SUMMARY Similarity scorers on a 0-100 scale (normalized Indel ratio, token set ratio) and best-match extraction with tie detection.
package fuzzy

import (
	"slices"
	"strings"
)

// Scorer returns a similarity between 0 and 100.
type Scorer func(a, b string) float64

// Ratio is the normalized Indel similarity: 100 * (1 - indel(a, b) / (len(a) + len(b))),
// where indel counts insertions and deletions only. Two empty strings score 100.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	return 200 * float64(lcs(ra, rb)) / float64(total)
}

// lcs returns the length of the longest common subsequence.
func lcs(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// TokenSetRatio compares the sets of whitespace-separated tokens. It scores 100
// when one token set contains the other, otherwise the best Ratio among the
// shared tokens and each side's remainder.
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var sect, ab, ba []string
	for t := range ta {
		if tb[t] {
			sect = append(sect, t)
		} else {
			ab = append(ab, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			ba = append(ba, t)
		}
	}
	if len(sect) > 0 && (len(ab) == 0 || len(ba) == 0) {
		return 100
	}

	s := joinSorted(sect)
	sab := joinNonEmpty(s, joinSorted(ab))
	sba := joinNonEmpty(s, joinSorted(ba))

	best := Ratio(sab, sba)
	if s == "" {
		return best
	}
	return max(best, Ratio(s, sab), Ratio(s, sba))
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(s) {
		out[f] = true
	}
	return out
}

func joinSorted(tokens []string) string {
	slices.Sort(tokens)
	return strings.Join(tokens, " ")
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

// Match is one scored choice.
type Match struct {
	Index  int
	Choice string
	Score  float64
}

// ExtractOne returns the first best-scoring choice at or above cutoff.
func ExtractOne(query string, choices []string, scorer Scorer, cutoff float64) (Match, bool) {
	best := ExtractBest(query, choices, scorer, cutoff)
	if len(best) == 0 {
		return Match{}, false
	}
	return best[0], true
}

// ExtractBest returns every choice sharing the best score at or above cutoff,
// in choice order. More than one result means the best score is tied.
func ExtractBest(query string, choices []string, scorer Scorer, cutoff float64) []Match {
	var best []Match
	top := cutoff
	for i, c := range choices {
		score := scorer(query, c)
		switch {
		case score < top:
		case len(best) > 0 && score == top:
			best = append(best, Match{Index: i, Choice: c, Score: score})
		default:
			top = score
			best = append(best[:0], Match{Index: i, Choice: c, Score: score})
		}
	}
	return best
}
