package extract

import (
	"context"
	"testing"

	"github.com/memvault/memvault/pkg/types"
)

func extractText(t *testing.T, text string) *Extraction {
	t.Helper()
	result, err := NewRuleExtractor().Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("Extract(%q) failed: %v", text, err)
	}
	return result
}

func findEdge(result *Extraction, relation, target string) *CandidateEdge {
	for i := range result.Edges {
		if result.Edges[i].Relation == relation && result.Edges[i].TargetName == target {
			return &result.Edges[i]
		}
	}
	return nil
}

func findEntity(result *Extraction, name string) *Candidate {
	for i := range result.Entities {
		if result.Entities[i].Name == name {
			return &result.Entities[i]
		}
	}
	return nil
}

func TestRuleExtractorFirstPerson(t *testing.T) {
	result := extractText(t, "I love breakfast burritos.")

	edge := findEdge(result, types.RelLikes, "breakfast burritos")
	if edge == nil {
		t.Fatalf("missing likes edge, got %+v", result.Edges)
	}
	if edge.SourceName != "user" {
		t.Errorf("SourceName: got %q, want %q", edge.SourceName, "user")
	}
	if edge.TargetType != types.EntityTypeFood {
		t.Errorf("TargetType: got %q, want %q", edge.TargetType, types.EntityTypeFood)
	}
	if edge.Evidence != "I love breakfast burritos" {
		t.Errorf("Evidence: got %q", edge.Evidence)
	}

	user := findEntity(result, "user")
	if user == nil {
		t.Fatal("speaker entity missing")
	}
	if user.Type != types.EntityTypePerson || user.Confidence != 0.99 {
		t.Errorf("speaker entity: got %+v", user)
	}
}

func TestRuleExtractorRelationTyping(t *testing.T) {
	tests := []struct {
		text     string
		relation string
		target   string
		wantType string
	}{
		{"I live in Seattle.", types.RelLivesIn, "Seattle", types.EntityTypePlace},
		{"I was born in Lisbon.", types.RelBornIn, "Lisbon", types.EntityTypePlace},
		{"I work at Globex.", types.RelWorksAt, "Globex", types.EntityTypeOrganization},
		{"I'm allergic to peanuts.", types.RelAllergicTo, "peanuts", types.EntityTypeFood},
		{"I do yoga.", types.RelPractices, "yoga", types.EntityTypeActivity},
		{"I really enjoy hiking.", types.RelLikes, "hiking", types.EntityTypeActivity},
		{"I hate cilantro.", types.RelDislikes, "cilantro", types.EntityTypeConcept},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			result := extractText(t, tt.text)
			edge := findEdge(result, tt.relation, tt.target)
			if edge == nil {
				t.Fatalf("missing %s edge to %q, got %+v", tt.relation, tt.target, result.Edges)
			}
			if edge.TargetType != tt.wantType {
				t.Errorf("TargetType: got %q, want %q", edge.TargetType, tt.wantType)
			}
		})
	}
}

func TestRuleExtractorObjectLists(t *testing.T) {
	result := extractText(t, "I'm allergic to peanuts and shellfish.")

	if findEdge(result, types.RelAllergicTo, "peanuts") == nil {
		t.Errorf("missing allergic_to peanuts, got %+v", result.Edges)
	}
	if findEdge(result, types.RelAllergicTo, "shellfish") == nil {
		t.Errorf("missing allergic_to shellfish, got %+v", result.Edges)
	}
}

func TestRuleExtractorTrailingClause(t *testing.T) {
	result := extractText(t, "I love ramen because it reminds me of Tokyo.")

	edge := findEdge(result, types.RelLikes, "ramen")
	if edge == nil {
		t.Fatalf("missing likes ramen, got %+v", result.Edges)
	}
	if edge.TargetType != types.EntityTypeFood {
		t.Errorf("TargetType: got %q, want %q", edge.TargetType, types.EntityTypeFood)
	}
	// Tokyo survives as a mention even though the clause was cut.
	if findEdge(result, types.RelMentions, "Tokyo") == nil {
		t.Errorf("missing mentions Tokyo, got %+v", result.Edges)
	}
}

func TestRuleExtractorKinship(t *testing.T) {
	result := extractText(t, "My wife Sarah loves hiking.")

	edge := findEdge(result, types.RelMarriedTo, "Sarah")
	if edge == nil {
		t.Fatalf("missing married_to Sarah, got %+v", result.Edges)
	}
	if edge.TargetType != types.EntityTypePerson {
		t.Errorf("TargetType: got %q, want %q", edge.TargetType, types.EntityTypePerson)
	}
	// The bound name must not come back again as a mention.
	if len(result.Edges) != 1 {
		t.Errorf("Edges: got %d, want 1: %+v", len(result.Edges), result.Edges)
	}
}

func TestRuleExtractorPets(t *testing.T) {
	result := extractText(t, "My dog Rex chewed the couch.")

	edge := findEdge(result, types.RelOwns, "Rex")
	if edge == nil {
		t.Fatalf("missing owns Rex, got %+v", result.Edges)
	}
	if edge.TargetType != types.EntityTypeAnimal {
		t.Errorf("TargetType: got %q, want %q", edge.TargetType, types.EntityTypeAnimal)
	}
}

func TestRuleExtractorCompanions(t *testing.T) {
	result := extractText(t, "I went hiking with Sarah and Alex.")

	if edge := findEdge(result, types.RelKnows, "Sarah"); edge == nil {
		t.Fatalf("missing knows Sarah, got %+v", result.Edges)
	} else if edge.TargetType != types.EntityTypePerson {
		t.Errorf("TargetType: got %q, want %q", edge.TargetType, types.EntityTypePerson)
	}
	// Alex is outside the companion capture but still registers as a mention.
	if findEdge(result, types.RelMentions, "Alex") == nil {
		t.Errorf("missing mentions Alex, got %+v", result.Edges)
	}
}

func TestRuleExtractorNegation(t *testing.T) {
	result := extractText(t, "I do not like cilantro.")

	if len(result.Edges) != 0 {
		t.Errorf("negated statement produced edges: %+v", result.Edges)
	}
	if len(result.Entities) != 0 {
		t.Errorf("negated statement produced entities: %+v", result.Entities)
	}
}

func TestRuleExtractorDeduplicates(t *testing.T) {
	result := extractText(t, "I love sushi. I love sushi!")

	if len(result.Edges) != 1 {
		t.Errorf("Edges: got %d, want 1: %+v", len(result.Edges), result.Edges)
	}
	if got := len(result.Entities); got != 2 { // user + sushi
		t.Errorf("Entities: got %d, want 2: %+v", got, result.Entities)
	}
}

func TestRuleExtractorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewRuleExtractor().Extract(ctx, "I love sushi."); err == nil {
		t.Error("Extract() should fail with cancelled context")
	}
}
