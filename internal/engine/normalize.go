package engine

import "strings"

// normalizeName reduces an entity name for duplicate comparison: lowercase,
// trimmed, with a conservative English singularization applied to the
// string's tail. The rule deliberately stays narrow; irregular plurals
// ("mice", "children") pass through untouched rather than risk mangling
// proper names.
//
//	"Burritos"  -> "burrito"
//	"dishes"    -> "dish"
//	"berries"   -> "berry"
//	"grass"     -> "grass"  (double-s unaffected)
func normalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))

	if strings.HasSuffix(s, "ies") && len(s) > 3 {
		return s[:len(s)-3] + "y"
	}

	if strings.HasSuffix(s, "es") && len(s) > 2 {
		stem := s[:len(s)-2]
		if hasSibilantEnding(stem) {
			return stem
		}
	}

	if strings.HasSuffix(s, "s") && len(s) > 1 && !strings.HasSuffix(s, "ss") {
		return s[:len(s)-1]
	}

	return s
}

// hasSibilantEnding reports whether a stem ends in a sound that takes an
// "es" plural (sh, ch, x, s, z).
func hasSibilantEnding(stem string) bool {
	for _, suffix := range []string{"sh", "ch", "x", "s", "z"} {
		if strings.HasSuffix(stem, suffix) {
			return true
		}
	}
	return false
}
