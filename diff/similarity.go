package diff

import (
	"strings"

	"github.com/bearcove/dibs/schema"
)

// RenameThreshold is the similarity score above which a removed/added
// pair is treated as a rename rather than a drop+add. Exactly 0.70
// counts as a match (inclusive), per the boundary behavior in SPEC_FULL.
const RenameThreshold = 0.70

// tableSimilarity scores how likely table `a` (removed) was renamed to
// table `d` (added): 0.6 * column-set Jaccard overlap on (name, type)
// pairs, plus 0.4 * name similarity (edit distance plus a
// plural/singular heuristic).
func tableSimilarity(a, d *schema.Table) float64 {
	colScore := columnSetJaccard(a, d)
	nameScore := nameSimilarity(a.Name, d.Name)
	return 0.6*colScore + 0.4*nameScore
}

// columnSimilarity scores how likely column `a` (removed) was renamed
// to column `d` (added): 0.5 * pg_type equality, plus 0.5 * name
// similarity.
func columnSimilarity(a, d *schema.Column) float64 {
	typeScore := 0.0
	if a.Type.Equal(d.Type) {
		typeScore = 1.0
	}
	return 0.5*typeScore + 0.5*nameSimilarity(a.Name, d.Name)
}

// columnSetJaccard computes the Jaccard overlap between the two
// tables' (name, type) column-signature sets.
func columnSetJaccard(a, d *schema.Table) float64 {
	setA := columnSignatures(a)
	setD := columnSignatures(d)
	if len(setA) == 0 && len(setD) == 0 {
		return 1.0
	}
	intersection := 0
	for sig := range setA {
		if setD[sig] {
			intersection++
		}
	}
	union := len(setA) + len(setD) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func columnSignatures(t *schema.Table) map[string]bool {
	sigs := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		sigs[c.Name+"\x00"+c.Type.String()] = true
	}
	return sigs
}

// nameSimilarity combines normalized edit distance with a
// plural-to-singular heuristic: if normalizing one name to the other's
// plurality makes them identical, similarity is 1.0.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if isPluralSingularPair(a, b) {
		return 1.0
	}
	return editDistanceSimilarity(a, b)
}

// isPluralSingularPair reports whether a and b are the same word under
// a simple plural/singular heuristic: trailing "ies" -> "y", or a
// trailing "s" dropped.
func isPluralSingularPair(a, b string) bool {
	return pluralize(a) == b || pluralize(b) == a || singularize(a) == b || singularize(b) == a
}

func singularize(s string) string {
	switch {
	case strings.HasSuffix(s, "ies") && len(s) > 3:
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "s") && len(s) > 1:
		return s[:len(s)-1]
	default:
		return s
	}
}

func pluralize(s string) string {
	switch {
	case strings.HasSuffix(s, "y") && len(s) > 1:
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

// editDistanceSimilarity returns 1 - (levenshtein distance / max length),
// clamped to [0,1].
func editDistanceSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	sim := 1.0 - float64(dist)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	return sim
}

// levenshtein computes the classic edit distance between two strings
// using a two-row dynamic-programming table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
