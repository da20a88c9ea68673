package engine

import "testing"

// TestNormalizeName_Singularization verifies the conservative plural
// stripping used by the normalized dedup stage.
func TestNormalizeName_Singularization(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Burritos", "burrito"},
		{"Breakfast Burritos", "breakfast burrito"},
		{"dishes", "dish"},
		{"boxes", "box"},
		{"buses", "bus"},
		{"classes", "class"},
		{"berries", "berry"},
		{"grass", "grass"},
		{"chess", "chess"},
		{"pasta", "pasta"},
		{"mice", "mice"},
		{"s", "s"},
		{"ies", "ie"},
	}

	for _, tc := range cases {
		if got := normalizeName(tc.in); got != tc.want {
			t.Errorf("normalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestNormalizeName_CaseAndWhitespace verifies lowering and trimming
// happen before the suffix rules.
func TestNormalizeName_CaseAndWhitespace(t *testing.T) {
	if got := normalizeName("  PIZZA  "); got != "pizza" {
		t.Errorf("normalizeName with padding = %q, want %q", got, "pizza")
	}
	if got := normalizeName("BERRIES"); got != "berry" {
		t.Errorf("normalizeName(\"BERRIES\") = %q, want %q", got, "berry")
	}
}
