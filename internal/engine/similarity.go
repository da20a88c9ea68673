package engine

import (
	"strings"
	"unicode"
)

// trigramSimilarity returns the Jaccard similarity of the two strings'
// trigram sets, following the pg_trgm construction: lowercase, split on
// non-alphanumeric runs, pad each word with two leading and one trailing
// space, then take every three-rune window. Identical strings score 1,
// disjoint strings 0.
func trigramSimilarity(a, b string) float64 {
	setA := trigramSet(a)
	setB := trigramSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	common := 0
	for gram := range setA {
		if _, ok := setB[gram]; ok {
			common++
		}
	}

	union := len(setA) + len(setB) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}

func trigramSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	set := make(map[string]struct{})
	for _, word := range words {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}
