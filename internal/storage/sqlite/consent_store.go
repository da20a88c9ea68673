package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// UpsertConsentRule writes one consent rule, replacing any prior
// permission for the same (agent, resource) pair.
func (s *VaultStore) UpsertConsentRule(ctx context.Context, rule *types.ConsentRule) error {
	if rule == nil {
		return storage.ErrInvalidInput
	}
	if strings.TrimSpace(rule.AgentID) == "" || strings.TrimSpace(rule.Resource) == "" {
		return fmt.Errorf("%w: agent id and resource are required", storage.ErrInvalidInput)
	}
	if !types.IsValidPermission(rule.Permission) {
		return fmt.Errorf("%w: unknown permission %q", storage.ErrInvalidInput, rule.Permission)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_rules (agent_id, resource, permission, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, resource) DO UPDATE SET
			permission = excluded.permission,
			updated_at = excluded.updated_at`,
		rule.AgentID, rule.Resource, string(rule.Permission), rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: UpsertConsentRule: %w", err)
	}
	return nil
}

// DeleteConsentRule removes one consent rule. Deleting a rule that does
// not exist is a no-op.
func (s *VaultStore) DeleteConsentRule(ctx context.Context, agentID, resource string) error {
	if strings.TrimSpace(agentID) == "" || strings.TrimSpace(resource) == "" {
		return fmt.Errorf("%w: agent id and resource are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM consent_rules WHERE agent_id = ? AND resource = ?`,
		agentID, resource)
	if err != nil {
		return fmt.Errorf("sqlite: DeleteConsentRule: %w", err)
	}
	return nil
}

// ListConsentRules returns every rule granted to one agent.
func (s *VaultStore) ListConsentRules(ctx context.Context, agentID string) ([]*types.ConsentRule, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("%w: agent id is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, resource, permission, created_at, updated_at
		FROM consent_rules WHERE agent_id = ? ORDER BY resource`, agentID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListConsentRules: %w", err)
	}
	defer rows.Close()

	return collectConsentRules(rows)
}

// ListAllConsentRules returns every rule in the namespace, for the
// owner's audit view.
func (s *VaultStore) ListAllConsentRules(ctx context.Context) ([]*types.ConsentRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, resource, permission, created_at, updated_at
		FROM consent_rules ORDER BY agent_id, resource`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListAllConsentRules: %w", err)
	}
	defer rows.Close()

	return collectConsentRules(rows)
}

func collectConsentRules(rows *sql.Rows) ([]*types.ConsentRule, error) {
	var rules []*types.ConsentRule
	for rows.Next() {
		var (
			rule       types.ConsentRule
			permission string
		)
		if err := rows.Scan(&rule.AgentID, &rule.Resource, &permission, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: consent rules: scan: %w", err)
		}
		rule.Permission = types.Permission(permission)
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: consent rules: rows: %w", err)
	}
	return rules, nil
}
