package types

import "time"

// ConsentRule grants or denies one agent an access level on one resource
// path. Resources are /-delimited hierarchical paths, optionally ending in
// a * wildcard segment (e.g. "tables/*"). Rules are created by the account
// owner only; agents can never grant themselves access.
type ConsentRule struct {
	AgentID    string     `json:"agent_id"`
	Resource   string     `json:"resource"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Allows reports whether the rule's permission satisfies the requested
// access level: write implies read, none satisfies nothing.
func (r *ConsentRule) Allows(requested Permission) bool {
	switch r.Permission {
	case PermissionWrite:
		return requested == PermissionRead || requested == PermissionWrite
	case PermissionRead:
		return requested == PermissionRead
	default:
		return false
	}
}
