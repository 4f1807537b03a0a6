package knowledge

import "strings"

// nameSimilarity scores two names as (longer - editDistance) / longer,
// case-insensitive. Identical strings score 1.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	if longer == 0 {
		return 1
	}
	return float64(longer-levenshtein(a, b)) / float64(longer)
}

// levenshtein computes the edit distance with a two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

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
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// aliasOverlap is the Jaccard index over lowercased alias sets, with each
// entity's name included in its set.
func aliasOverlap(nameA string, aliasesA []string, nameB string, aliasesB []string) float64 {
	setA := aliasSet(nameA, aliasesA)
	setB := aliasSet(nameB, aliasesB)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for a := range setA {
		if setB[a] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func aliasSet(name string, aliases []string) map[string]bool {
	set := make(map[string]bool, len(aliases)+1)
	if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
		set[trimmed] = true
	}
	for _, a := range aliases {
		if trimmed := strings.ToLower(strings.TrimSpace(a)); trimmed != "" {
			set[trimmed] = true
		}
	}
	return set
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
