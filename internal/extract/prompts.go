package extract

import (
	"fmt"
	"strings"

	"github.com/memvault/memvault/pkg/types"
)

// entityTypeDescriptions maps known entity type tags to the one-line
// descriptions shown to the model.
var entityTypeDescriptions = map[string]string{
	types.EntityTypePerson:       "Individual human (use \"user\" for the speaker)",
	types.EntityTypeFood:         "Food, dish, or drink",
	types.EntityTypePlace:        "City, country, venue, or region",
	types.EntityTypeOrganization: "Company, institution, or group",
	types.EntityTypeEvent:        "Trip, meeting, or occurrence",
	types.EntityTypeConcept:      "Idea, topic, or interest",
	types.EntityTypeActivity:     "Hobby, sport, or practice",
	types.EntityTypeProduct:      "Physical or digital product",
	types.EntityTypeMedia:        "Book, film, show, or music",
	types.EntityTypeAnimal:       "Pet or other animal",
}

// ExtractionPrompt generates a strict JSON-only prompt that pulls entities
// and relations out of personal memory text in a single pass. The prompt
// demands an object (never a bare array) so tolerant parsing can locate the
// payload even when the model wraps it in prose.
func ExtractionPrompt(text string) string {
	var typeList strings.Builder
	for _, t := range types.KnownEntityTypes {
		fmt.Fprintf(&typeList, "- %s: %s\n", t, entityTypeDescriptions[t])
	}

	return fmt.Sprintf(`TASK: Extract entities and relations from personal memory text.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks. NO ARRAY - MUST BE OBJECT.

The text is something a user told an assistant about themselves. The speaker
is always the entity {"name":"user","type":"person"}. First-person
statements become relations FROM "user".

ENTITY TYPES (ONLY these %d):
%s
RELATIONS (ONLY these %d):
%s

REQUIRED JSON STRUCTURE:
Your response MUST start with { and end with }
Your response MUST have an "entities" key and a "relations" key, both arrays
Each entity MUST have: name, type, confidence
Each relation MUST have: from, from_type, to, to_type, relation, confidence, evidence

Example structure (EXACT FORMAT REQUIRED):
{
  "entities": [
    {"name":"user","type":"person","confidence":0.99},
    {"name":"breakfast burritos","type":"food","confidence":0.95}
  ],
  "relations": [
    {"from":"user","from_type":"person","to":"breakfast burritos","to_type":"food","relation":"likes","confidence":0.9,"evidence":"I love breakfast burritos"}
  ]
}

VALIDATION (STRICT):
1. Start with { - End with }
2. "entities" and "relations" keys must both be present
3. Every relation endpoint must also appear in "entities"
4. Types EXACTLY from the entity type list
5. Relations EXACTLY from the relation list
6. Confidence 0.0-1.0
7. No null values
8. No trailing commas
9. Evidence is a short verbatim fragment of the input text
10. Do NOT invent facts absent from the text

TEXT TO EXTRACT FROM:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"entities":[{"name":"X","type":"person","confidence":0.9}],"relations":[]}`,
		len(types.KnownEntityTypes), typeList.String(),
		len(types.KnownRelations), strings.Join(types.KnownRelations, ", "),
		text)
}
