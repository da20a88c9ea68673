// Package types defines the core data structures for the memvault memory
// system: entities and edges of the per-user knowledge graph, memory-quality
// metadata, consent rules, and the records produced by the write-ingestion
// pipeline.
package types

// MetaStatus represents the review state of a memory-quality record.
type MetaStatus string

// Memory-quality record states
const (
	// MetaActive indicates the fact is live and uncontested
	MetaActive MetaStatus = "active"

	// MetaContested indicates the fact is part of an unresolved contradiction
	MetaContested MetaStatus = "contested"

	// MetaResolved indicates the fact was superseded or discarded during review
	MetaResolved MetaStatus = "resolved"
)

// Origin classifies who asserted a fact; it seeds the initial confidence.
type Origin string

// Fact origins, ordered from most to least trustworthy
const (
	// OriginUserStated is a fact the user asserted directly
	OriginUserStated Origin = "user_stated"

	// OriginAIInferred is a fact an agent derived from user input
	OriginAIInferred Origin = "ai_inferred"

	// OriginAIPattern is a fact an agent inferred from behavioral patterns
	OriginAIPattern Origin = "ai_pattern"
)

// ValidOrigins is a slice of all valid fact origins for validation
var ValidOrigins = []Origin{
	OriginUserStated,
	OriginAIInferred,
	OriginAIPattern,
}

// IsValidOrigin checks if the given origin is valid
func IsValidOrigin(origin Origin) bool {
	for _, valid := range ValidOrigins {
		if valid == origin {
			return true
		}
	}
	return false
}

// Resolution is the reviewer's verdict on a contradiction.
type Resolution string

// Contradiction resolutions
const (
	// ResolutionConfirm accepts the new value; the old entry is superseded
	ResolutionConfirm Resolution = "confirm"

	// ResolutionReject discards the new value; the old entry stands
	ResolutionReject Resolution = "reject"

	// ResolutionKeepBoth keeps both values as contextually valid
	ResolutionKeepBoth Resolution = "keep_both"
)

// IsValidResolution checks if the given resolution is valid
func IsValidResolution(r Resolution) bool {
	return r == ResolutionConfirm || r == ResolutionReject || r == ResolutionKeepBoth
}

// Permission is the access level a consent rule grants to an agent.
type Permission string

// Consent permissions - write implies read, none is an explicit deny
const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionNone  Permission = "none"
)

// IsValidPermission checks if the given permission is valid
func IsValidPermission(p Permission) bool {
	return p == PermissionRead || p == PermissionWrite || p == PermissionNone
}

// WriteStatus is the synchronous outcome of an ingestion call.
type WriteStatus string

// Write statuses
const (
	WriteAccepted WriteStatus = "accepted"
	WriteRejected WriteStatus = "rejected"
)

// Entity type constants. The type column is an open tag: unknown lowercase
// tags are accepted by the store, but extraction maps candidates onto this
// known set (falling back to "concept") so the graph stays queryable.
const (
	EntityTypePerson       = "person"
	EntityTypeFood         = "food"
	EntityTypePlace        = "place"
	EntityTypeOrganization = "organization"
	EntityTypeEvent        = "event"
	EntityTypeConcept      = "concept"
	EntityTypeActivity     = "activity"
	EntityTypeProduct      = "product"
	EntityTypeMedia        = "media"
	EntityTypeAnimal       = "animal"
)

// KnownEntityTypes is a slice of the entity types extraction maps onto
var KnownEntityTypes = []string{
	EntityTypePerson,
	EntityTypeFood,
	EntityTypePlace,
	EntityTypeOrganization,
	EntityTypeEvent,
	EntityTypeConcept,
	EntityTypeActivity,
	EntityTypeProduct,
	EntityTypeMedia,
	EntityTypeAnimal,
}

// IsKnownEntityType checks if the given entity type is in the known set
func IsKnownEntityType(entityType string) bool {
	for _, known := range KnownEntityTypes {
		if known == entityType {
			return true
		}
	}
	return false
}

// Relation constants - the edge vocabulary of a personal vault
const (
	// Preference relations
	RelLikes      = "likes"
	RelDislikes   = "dislikes"
	RelPrefers    = "prefers"
	RelEats       = "eats"
	RelAllergicTo = "allergic_to"
	RelPractices  = "practices"

	// Social relations
	RelKnows     = "knows"
	RelFriendOf  = "friend_of"
	RelMarriedTo = "married_to"
	RelParentOf  = "parent_of"
	RelChildOf   = "child_of"

	// Place and affiliation relations
	RelLivesIn    = "lives_in"
	RelBornIn     = "born_in"
	RelWorksAt    = "works_at"
	RelEmployedBy = "employed_by"
	RelMemberOf   = "member_of"
	RelVisits     = "visits"
	RelOwns       = "owns"

	// Generic relations
	RelRelatesTo = "relates_to"
	RelMentions  = "mentions"
)

// KnownRelations is a slice of the relations extraction maps onto
var KnownRelations = []string{
	RelLikes, RelDislikes, RelPrefers, RelEats, RelAllergicTo, RelPractices,
	RelKnows, RelFriendOf, RelMarriedTo, RelParentOf, RelChildOf,
	RelLivesIn, RelBornIn, RelWorksAt, RelEmployedBy, RelMemberOf,
	RelVisits, RelOwns,
	RelRelatesTo, RelMentions,
}

// IsKnownRelation checks if the given relation is in the known set
func IsKnownRelation(relation string) bool {
	for _, known := range KnownRelations {
		if known == relation {
			return true
		}
	}
	return false
}

// SingleValuedRelations holds relations for which one source entity is
// expected to have at most one active target; a second target raises a
// contradiction instead of silently coexisting.
var SingleValuedRelations = map[string]bool{
	RelLivesIn:    true,
	RelWorksAt:    true,
	RelEmployedBy: true,
	RelMarriedTo:  true,
	RelBornIn:     true,
}
