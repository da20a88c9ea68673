package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/memvault/memvault/pkg/types"
)

// rulePattern maps a first-person sentence pattern to a relation. The first
// capture group is the object phrase; the speaker ("user") is the source.
type rulePattern struct {
	re         *regexp.Regexp
	relation   string
	confidence float64
}

// firstPersonPatterns are matched per sentence, most specific first.
var firstPersonPatterns = []rulePattern{
	{regexp.MustCompile(`(?i)\bI(?:'m| am)\s+allergic\s+to\s+(.+)`), types.RelAllergicTo, 0.95},
	{regexp.MustCompile(`(?i)\bI\s+(?:absolutely\s+|really\s+)?(?:love|adore)\s+(.+)`), types.RelLikes, 0.9},
	{regexp.MustCompile(`(?i)\bI\s+(?:really\s+)?(?:like|enjoy)\s+(.+)`), types.RelLikes, 0.85},
	{regexp.MustCompile(`(?i)\bI\s+(?:really\s+)?(?:hate|dislike|can(?:no|')t\s+stand)\s+(.+)`), types.RelDislikes, 0.85},
	{regexp.MustCompile(`(?i)\bI\s+prefer\s+(.+)`), types.RelPrefers, 0.85},
	{regexp.MustCompile(`(?i)\bI\s+(?:usually\s+|often\s+|always\s+)?eat\s+(.+)`), types.RelEats, 0.8},
	{regexp.MustCompile(`(?i)\bI\s+live\s+in\s+(.+)`), types.RelLivesIn, 0.9},
	{regexp.MustCompile(`(?i)\bI\s+(?:was\s+born|grew\s+up)\s+in\s+(.+)`), types.RelBornIn, 0.9},
	{regexp.MustCompile(`(?i)\bI\s+work\s+(?:at|for)\s+(.+)`), types.RelWorksAt, 0.9},
	{regexp.MustCompile(`(?i)\bI(?:'m| am)\s+a\s+member\s+of\s+(.+)`), types.RelMemberOf, 0.85},
	{regexp.MustCompile(`(?i)\bI\s+(?:visited|traveled\s+to|went\s+to)\s+(.+)`), types.RelVisits, 0.75},
	{regexp.MustCompile(`(?i)\bI\s+(?:play|practice|do)\s+(.+)`), types.RelPractices, 0.8},
	{regexp.MustCompile(`(?i)\bI\s+own\s+(.+)`), types.RelOwns, 0.8},
}

// kinshipRelation maps a possessive noun ("my wife X") to its relation.
// Nouns with no matching relation in the vocabulary fall back to knows.
var kinshipRelation = map[string]string{
	"wife":     types.RelMarriedTo,
	"husband":  types.RelMarriedTo,
	"spouse":   types.RelMarriedTo,
	"partner":  types.RelMarriedTo,
	"friend":   types.RelFriendOf,
	"buddy":    types.RelFriendOf,
	"son":      types.RelParentOf,
	"daughter": types.RelParentOf,
	"mother":   types.RelChildOf,
	"father":   types.RelChildOf,
	"mom":      types.RelChildOf,
	"dad":      types.RelChildOf,
	"brother":  types.RelKnows,
	"sister":   types.RelKnows,
}

// Name captures stay case-sensitive; a global (?i) would let [A-Z] match
// lowercase and turn ordinary words into names.
var (
	kinshipRe = regexp.MustCompile(`\b[Mm]y\s+(wife|husband|spouse|partner|friend|buddy|son|daughter|mother|father|mom|dad|brother|sister)\s*,?\s*(?:is\s+|named\s+|called\s+)?([A-Z][a-z'-]+(?:\s+[A-Z][a-z'-]+)?)`)
	petRe     = regexp.MustCompile(`\b[Mm]y\s+(dog|cat|bird|parrot|rabbit|horse|hamster|fish|snake|turtle)\s*,?\s*(?:is\s+|named\s+|called\s+)?([A-Z][a-z'-]+)`)
	withRe    = regexp.MustCompile(`\b[Ww]ith\s+([A-Z][a-z'-]+(?:\s+[A-Z][a-z'-]+)?)`)
	properRe  = regexp.MustCompile(`\b[A-Z][a-z'-]+(?:\s+[A-Z][a-z'-]+){0,2}\b`)
)

// properStopwords are capitalized words that look like names but aren't.
var properStopwords = map[string]bool{
	"I": true, "My": true, "The": true, "A": true, "An": true,
	"We": true, "He": true, "She": true, "They": true, "It": true,
	"But": true, "And": true, "Or": true, "So": true, "Then": true,
	"When": true, "After": true, "Before": true, "Also": true,
	"Yesterday": true, "Today": true, "Tomorrow": true, "Last": true,
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true,
	"Friday": true, "Saturday": true, "Sunday": true,
	"January": true, "February": true, "March": true, "April": true,
	"May": true, "June": true, "July": true, "August": true,
	"September": true, "October": true, "November": true, "December": true,
}

// relationObjectType is the entity type implied by a relation's object.
var relationObjectType = map[string]string{
	types.RelLivesIn:    types.EntityTypePlace,
	types.RelBornIn:     types.EntityTypePlace,
	types.RelVisits:     types.EntityTypePlace,
	types.RelWorksAt:    types.EntityTypeOrganization,
	types.RelEmployedBy: types.EntityTypeOrganization,
	types.RelMemberOf:   types.EntityTypeOrganization,
	types.RelAllergicTo: types.EntityTypeFood,
	types.RelEats:       types.EntityTypeFood,
	types.RelPractices:  types.EntityTypeActivity,
	types.RelKnows:      types.EntityTypePerson,
	types.RelFriendOf:   types.EntityTypePerson,
	types.RelMarriedTo:  types.EntityTypePerson,
	types.RelParentOf:   types.EntityTypePerson,
	types.RelChildOf:    types.EntityTypePerson,
}

var foodWords = wordSet(
	"burrito", "pizza", "sushi", "taco", "pasta", "ramen", "curry",
	"salad", "sandwich", "burger", "chocolate", "cheese", "bread",
	"rice", "noodle", "soup", "steak", "egg", "pancake", "waffle",
	"bagel", "cookie", "cake", "coffee", "tea", "beer", "wine",
)

var activityWords = wordSet(
	"hiking", "running", "climbing", "cycling", "swimming", "yoga",
	"chess", "reading", "cooking", "baking", "photography", "painting",
	"gardening", "tennis", "soccer", "basketball", "golf", "skiing",
	"surfing", "dancing", "knitting", "guitar", "piano",
)

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// RuleExtractor finds candidate facts with regular expressions and small
// lexicons. It is the default extractor: deterministic, fast, and available
// without a model backend. Recall is deliberately modest; it only emits
// facts it can anchor to an explicit first-person pattern or a proper noun.
type RuleExtractor struct{}

// NewRuleExtractor creates the rule-based extractor.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// Extract scans the text sentence by sentence. First-person statements
// become relations from the "user" entity; proper nouns not already bound
// to a relation become low-confidence mention edges.
func (e *RuleExtractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := newExtractionBuilder()
	for _, sentence := range splitSentences(text) {
		e.matchFirstPerson(sentence, b)
		e.matchKinship(sentence, b)
		e.matchPets(sentence, b)
		e.matchCompanions(sentence, b)
	}
	// Mentions run last so typed candidates from the relation passes win.
	for _, sentence := range splitSentences(text) {
		e.matchMentions(sentence, b)
	}

	return b.result(), nil
}

func (e *RuleExtractor) matchFirstPerson(sentence string, b *extractionBuilder) {
	for _, p := range firstPersonPatterns {
		m := p.re.FindStringSubmatch(sentence)
		if m == nil {
			continue
		}
		for _, object := range splitObjectList(m[1]) {
			object = cleanObject(object)
			if object == "" {
				continue
			}
			objectType := relationObjectType[p.relation]
			if objectType == "" {
				objectType = types.EntityTypeConcept
			}
			objectType = refineByLexicon(object, objectType)
			b.addEdge(CandidateEdge{
				SourceName: "user",
				SourceType: types.EntityTypePerson,
				TargetName: object,
				TargetType: objectType,
				Relation:   p.relation,
				Confidence: p.confidence,
				Evidence:   sentence,
			})
		}
	}
}

func (e *RuleExtractor) matchKinship(sentence string, b *extractionBuilder) {
	for _, m := range kinshipRe.FindAllStringSubmatch(sentence, -1) {
		relation := kinshipRelation[strings.ToLower(m[1])]
		b.addEdge(CandidateEdge{
			SourceName: "user",
			SourceType: types.EntityTypePerson,
			TargetName: m[2],
			TargetType: types.EntityTypePerson,
			Relation:   relation,
			Confidence: 0.9,
			Evidence:   sentence,
		})
	}
}

func (e *RuleExtractor) matchPets(sentence string, b *extractionBuilder) {
	for _, m := range petRe.FindAllStringSubmatch(sentence, -1) {
		b.addEdge(CandidateEdge{
			SourceName: "user",
			SourceType: types.EntityTypePerson,
			TargetName: m[2],
			TargetType: types.EntityTypeAnimal,
			Relation:   types.RelOwns,
			Confidence: 0.85,
			Evidence:   sentence,
		})
	}
}

func (e *RuleExtractor) matchCompanions(sentence string, b *extractionBuilder) {
	for _, m := range withRe.FindAllStringSubmatch(sentence, -1) {
		if properStopwords[firstWord(m[1])] {
			continue
		}
		b.addEdge(CandidateEdge{
			SourceName: "user",
			SourceType: types.EntityTypePerson,
			TargetName: m[1],
			TargetType: types.EntityTypePerson,
			Relation:   types.RelKnows,
			Confidence: 0.7,
			Evidence:   sentence,
		})
	}
}

// matchMentions emits a weak mentions edge for each leftover proper noun.
// Sentence-initial capitals are skipped; they are usually just sentence case.
func (e *RuleExtractor) matchMentions(sentence string, b *extractionBuilder) {
	for _, loc := range properRe.FindAllStringIndex(sentence, -1) {
		if loc[0] == 0 {
			continue
		}
		name := sentence[loc[0]:loc[1]]
		if properStopwords[firstWord(name)] || b.hasName(name) {
			continue
		}
		b.addEdge(CandidateEdge{
			SourceName: "user",
			SourceType: types.EntityTypePerson,
			TargetName: name,
			TargetType: types.EntityTypeConcept,
			Relation:   types.RelMentions,
			Confidence: 0.5,
			Evidence:   sentence,
		})
	}
}

// extractionBuilder accumulates candidates, deduplicating entities by
// (type, lowercase name) and edges by (source, relation, target).
type extractionBuilder struct {
	entityIdx map[string]int
	names     map[string]bool
	edgeSeen  map[string]bool
	out       Extraction
}

func newExtractionBuilder() *extractionBuilder {
	return &extractionBuilder{
		entityIdx: make(map[string]int),
		names:     make(map[string]bool),
		edgeSeen:  make(map[string]bool),
	}
}

func (b *extractionBuilder) hasName(name string) bool {
	return b.names[strings.ToLower(name)]
}

func (b *extractionBuilder) addEntity(name, entityType string, confidence float64) {
	key := entityType + "\x00" + strings.ToLower(name)
	if i, ok := b.entityIdx[key]; ok {
		if confidence > b.out.Entities[i].Confidence {
			b.out.Entities[i].Confidence = confidence
		}
		return
	}
	b.entityIdx[key] = len(b.out.Entities)
	b.names[strings.ToLower(name)] = true
	b.out.Entities = append(b.out.Entities, Candidate{
		Name:       name,
		Type:       entityType,
		Confidence: confidence,
	})
}

func (b *extractionBuilder) addEdge(e CandidateEdge) {
	key := strings.ToLower(e.SourceName) + "\x00" + e.Relation + "\x00" + strings.ToLower(e.TargetName)
	if b.edgeSeen[key] {
		return
	}
	b.edgeSeen[key] = true

	if strings.EqualFold(e.SourceName, "user") {
		b.addEntity("user", types.EntityTypePerson, 0.99)
	} else {
		b.addEntity(e.SourceName, e.SourceType, e.Confidence)
	}
	b.addEntity(e.TargetName, e.TargetType, e.Confidence)
	b.out.Edges = append(b.out.Edges, e)
}

func (b *extractionBuilder) result() *Extraction {
	return &b.out
}

func splitSentences(text string) []string {
	parts := regexp.MustCompile(`[.!?;\n]+`).Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// splitObjectList breaks "burritos, sushi and ramen" into its items.
func splitObjectList(s string) []string {
	s = strings.ReplaceAll(s, ", and ", ", ")
	s = strings.ReplaceAll(s, " and ", ", ")
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}

// cleanObject trims an object phrase down to a usable entity name. Returns
// "" when the phrase is negated, clausal, or too long to be a name.
func cleanObject(s string) string {
	lower := strings.ToLower(s)
	for _, sep := range []string{" because ", " since ", " when ", " while ", " which ", " but ", " though ", " so "} {
		if idx := strings.Index(lower, sep); idx >= 0 {
			s = s[:idx]
			lower = lower[:idx]
		}
	}
	s = strings.Trim(s, " .,!?;:\"'")
	lower = strings.ToLower(s)

	for _, prefix := range []string{"not ", "no ", "that ", "when ", "how ", "it ", "this ", "to "} {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}
	for _, article := range []string{"a ", "an ", "the ", "my ", "some "} {
		if strings.HasPrefix(lower, article) {
			s = strings.TrimSpace(s[len(article):])
			break
		}
	}

	words := strings.Fields(s)
	if len(words) == 0 || len(words) > 6 {
		return ""
	}
	return s
}

// refineByLexicon upgrades a generic object type using the word lexicons.
func refineByLexicon(name, fallback string) string {
	if fallback != types.EntityTypeConcept {
		return fallback
	}
	for _, word := range strings.Fields(strings.ToLower(name)) {
		word = strings.Trim(word, ",.!?'\"")
		singular := strings.TrimSuffix(word, "s")
		if foodWords[word] || foodWords[singular] {
			return types.EntityTypeFood
		}
		if activityWords[word] || activityWords[singular] {
			return types.EntityTypeActivity
		}
	}
	return fallback
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

var _ Extractor = (*RuleExtractor)(nil)
