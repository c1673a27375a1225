package fulltext

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Generic returns the matching form of a text: NFKC normalized, case
// folded, punctuation and symbols replaced by spaces and runs of white space
// collapsed to one space.
func Generic(s string) string {
	// A Caser holds state and cannot be shared between goroutines.
	s = cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// trigrams returns the distinct rune trigrams of a generic text padded with
// one space on each side, so that one and two rune words still produce
// grams.
func trigrams(g string) []string {
	if g == "" {
		return nil
	}
	r := []rune(" " + g + " ")
	seen := make(map[string]struct{}, len(r))
	out := make([]string, 0, len(r))
	for i := 0; i+3 <= len(r); i++ {
		t := string(r[i : i+3])
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// levenshtein returns the rune edit distance between a and b.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// similarity scores b against a in [0, 100] from their edit distance.
func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	n := max(la, lb)
	if n == 0 {
		return 100
	}
	return 100 * (1 - float64(levenshtein(a, b))/float64(n))
}
