package extract

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/memvault/memvault/pkg/types"
)

// extractionResponse is the wire shape both model-backed extractors request.
type extractionResponse struct {
	Entities  []Candidate     `json:"entities"`
	Relations []CandidateEdge `json:"relations"`
}

// extractJSON extracts the first complete JSON object from a string that may
// contain extra text. This handles cases where models add explanations
// before/after the JSON despite instructions.
func extractJSON(text string) string {
	// Remove common markdown code block markers
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // no JSON found, return as-is and let the parser fail
	}

	// Find the matching closing brace
	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // no complete JSON found, return as-is
}

// ParseExtraction parses a model's extraction JSON and filters it down to
// usable candidates. Unknown entity types fall back to "concept" so a
// creative model still yields a queryable graph; unknown relations are
// skipped because a wrong relation is worse than a missing one. Out-of-range
// confidence or empty names skip the entry. Returns an error only when the
// JSON itself is malformed.
func ParseExtraction(jsonStr string) (*Extraction, error) {
	cleanJSON := extractJSON(jsonStr)

	var response extractionResponse
	if err := json.Unmarshal([]byte(cleanJSON), &response); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	result := &Extraction{}
	seen := make(map[string]bool, len(response.Entities))

	for _, entity := range response.Entities {
		entity.Name = strings.TrimSpace(entity.Name)
		if entity.Name == "" {
			continue
		}
		if entity.Confidence < 0.0 || entity.Confidence > 1.0 {
			log.Printf("response_parser: skipping entity %q with invalid confidence %f", entity.Name, entity.Confidence)
			continue
		}
		if !types.IsKnownEntityType(entity.Type) {
			log.Printf("response_parser: entity %q has unknown type %q, using %q", entity.Name, entity.Type, types.EntityTypeConcept)
			entity.Type = types.EntityTypeConcept
		}
		key := entity.Type + "\x00" + strings.ToLower(entity.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		result.Entities = append(result.Entities, entity)
	}

	for _, edge := range response.Relations {
		edge.SourceName = strings.TrimSpace(edge.SourceName)
		edge.TargetName = strings.TrimSpace(edge.TargetName)
		if edge.SourceName == "" || edge.TargetName == "" {
			continue
		}
		if edge.Confidence < 0.0 || edge.Confidence > 1.0 {
			log.Printf("response_parser: skipping relation %s->%s with invalid confidence %f", edge.SourceName, edge.TargetName, edge.Confidence)
			continue
		}
		if !types.IsKnownRelation(edge.Relation) {
			log.Printf("response_parser: skipping relation %s->%s with unknown relation %q", edge.SourceName, edge.TargetName, edge.Relation)
			continue
		}
		if !types.IsKnownEntityType(edge.SourceType) {
			edge.SourceType = types.EntityTypeConcept
		}
		if !types.IsKnownEntityType(edge.TargetType) {
			edge.TargetType = types.EntityTypeConcept
		}
		result.Edges = append(result.Edges, edge)
	}

	return result, nil
}
