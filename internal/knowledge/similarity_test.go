package knowledge

import (
	"math"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"database", "databases", 1},
		{"same", "same", 0},
	}
	for _, tc := range tests {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestNameSimilarity(t *testing.T) {
	if got := nameSimilarity("Redis", "redis"); got != 1 {
		t.Errorf("case difference should score 1, got %v", got)
	}
	if got := nameSimilarity("  redis ", "redis"); got != 1 {
		t.Errorf("surrounding whitespace should be ignored, got %v", got)
	}

	// "database" vs "databases": distance 1 over length 9.
	want := 8.0 / 9.0
	if got := nameSimilarity("database", "databases"); math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := nameSimilarity("redis", "kafka"); got >= 0.5 {
		t.Errorf("unrelated names should score low, got %v", got)
	}
	if got := nameSimilarity("", ""); got != 1 {
		t.Errorf("two empty names should score 1, got %v", got)
	}
}

func TestAliasOverlap(t *testing.T) {
	// Sets include the names: {pg, postgres} vs {postgres} -> 1/2.
	got := aliasOverlap("pg", []string{"postgres"}, "postgres", nil)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("got %v, want 0.5", got)
	}

	// Identical sets score 1 regardless of case.
	got = aliasOverlap("Postgres", []string{"PG"}, "pg", []string{"postgres"})
	if got != 1 {
		t.Errorf("got %v, want 1", got)
	}

	// Disjoint sets score 0.
	if got := aliasOverlap("redis", nil, "kafka", nil); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}
