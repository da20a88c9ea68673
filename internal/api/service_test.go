package api

import (
	"context"
	"strings"
	"testing"

	"github.com/memvault/memvault/internal/consent"
	"github.com/memvault/memvault/internal/engine"
	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/internal/storage/sqlite"
	"github.com/memvault/memvault/pkg/types"
)

const testUser = "test-user"

var (
	asOwner = Caller{UserID: testUser, Owner: true}
	asAgent = Caller{UserID: testUser, AgentID: "agent-1"}
)

type staticResolver struct {
	store storage.Store
}

func (r staticResolver) Store(userID string) (storage.Store, error) {
	return r.store, nil
}

// newTestService wires a service over a fresh in-memory store, with the
// engine started and a caching consent authority.
func newTestService(t *testing.T) *Service {
	t.Helper()

	store, err := sqlite.NewVaultStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	engineConfig := engine.DefaultConfig()
	engineConfig.NumWorkers = 1
	vaultEngine, err := engine.NewVaultEngine(staticResolver{store: store}, engineConfig)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := vaultEngine.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	t.Cleanup(func() { _ = vaultEngine.Shutdown(context.Background()) })

	authority, err := consent.NewAuthority(staticResolver{store: store}, consent.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}
	t.Cleanup(authority.Close)

	service, err := NewService(vaultEngine, authority)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return service
}

// grantRule installs a consent rule through the owner surface.
func grantRule(t *testing.T, service *Service, agentID, resource string, permission types.Permission) {
	t.Helper()
	resp := service.GrantConsent(context.Background(), asOwner, &types.ConsentRule{
		AgentID:    agentID,
		Resource:   resource,
		Permission: permission,
	})
	if resp.Error != nil {
		t.Fatalf("Failed to grant %s on %s: %+v", permission, resource, resp.Error)
	}
}

// requireOK asserts a success envelope and returns its payload.
func requireOK(t *testing.T, resp *Response) interface{} {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Expected success, got %s: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Data
}

// requireCode asserts a failure envelope with the given code.
func requireCode(t *testing.T, resp *Response, code string) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("Expected %s, got success with data %v", code, resp.Data)
	}
	if resp.Error.Code != code {
		t.Fatalf("Expected code %s, got %s: %s", code, resp.Error.Code, resp.Error.Message)
	}
}

// TestOwnerBypassesConsent verifies that owner sessions never consult the
// authority.
func TestOwnerBypassesConsent(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	data := requireOK(t, service.CreateEntity(ctx, asOwner, &types.Entity{Type: "person", Name: "Dana"}))
	entity, ok := data.(*types.Entity)
	if !ok {
		t.Fatalf("Expected an entity payload, got %T", data)
	}
	if entity.ID == 0 {
		t.Error("Expected the created entity to carry an id")
	}
}

// TestAgentDeniedWithoutRule verifies the default-deny posture for
// agents.
func TestAgentDeniedWithoutRule(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	resp := service.CreateEntity(ctx, asAgent, &types.Entity{Type: "person", Name: "Dana"})
	requireCode(t, resp, CodeConsentDenied)
	if !strings.Contains(resp.Error.Message, "graph/entities") {
		t.Errorf("Denial should name the resource, got: %s", resp.Error.Message)
	}
}

// TestAgentAllowedWithRule verifies that a write grant opens both write
// and read on the resource.
func TestAgentAllowedWithRule(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	grantRule(t, service, "agent-1", "graph/entities", types.PermissionWrite)

	data := requireOK(t, service.CreateEntity(ctx, asAgent, &types.Entity{Type: "place", Name: "Lisbon"}))
	entity := data.(*types.Entity)

	requireOK(t, service.GetEntity(ctx, asAgent, entity.ID))
}

// TestTableConsentScopedPerTable verifies the tables/<name> resource
// mapping: read consent does not cover a write, and one table's grant
// does not leak to another.
func TestTableConsentScopedPerTable(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	record := map[string]interface{}{"dish": "ramen"}

	grantRule(t, service, "agent-1", "tables/meals", types.PermissionRead)
	requireCode(t, service.IngestTableRecord(ctx, asAgent, "meals", record, ""), CodeConsentDenied)

	grantRule(t, service, "agent-1", "tables/meals", types.PermissionWrite)
	data := requireOK(t, service.IngestTableRecord(ctx, asAgent, "meals", record, ""))
	receipt := data.(*engine.WriteReceipt)
	if receipt.Status != types.WriteAccepted {
		t.Errorf("Expected an accepted receipt, got %q", receipt.Status)
	}

	requireCode(t, service.IngestTableRecord(ctx, asAgent, "sleep", record, ""), CodeConsentDenied)
}

// TestErrorCodeMapping verifies the sentinel-to-code translation in the
// envelope.
func TestErrorCodeMapping(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	requireCode(t, service.GetEntity(ctx, asOwner, 9999), CodeNotFound)
	requireCode(t, service.CreateEntity(ctx, asOwner, &types.Entity{Type: "person"}), CodeInvalidArgs)
	requireCode(t, service.QueryPattern(ctx, asOwner, engine.PatternQuery{Text: "sing me a song"}), CodePatternNotRecognized)
}

// TestOwnerOnlyOperations verifies that consent management and decay
// never open to agents, regardless of granted rules.
func TestOwnerOnlyOperations(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	grantRule(t, service, "agent-1", "*", types.PermissionWrite)

	rule := &types.ConsentRule{AgentID: "agent-2", Resource: "memories", Permission: types.PermissionRead}
	requireCode(t, service.GrantConsent(ctx, asAgent, rule), CodeConsentDenied)
	requireCode(t, service.RevokeConsent(ctx, asAgent, "agent-1", "*"), CodeConsentDenied)
	requireCode(t, service.RunDecay(ctx, asAgent), CodeConsentDenied)
	requireCode(t, service.RequireConsent(ctx, asAgent, "agent-2", "memories", types.PermissionRead), CodeConsentDenied)
	requireCode(t, service.ListAllConsentRules(ctx, asAgent), CodeConsentDenied)
}

// TestConsentProbe verifies the owner's dry-run check on an agent's
// access.
func TestConsentProbe(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	data := requireOK(t, service.RequireConsent(ctx, asOwner, "agent-1", "memories", types.PermissionRead))
	probe := data.(*ProbeResult)
	if probe.Allowed {
		t.Error("Expected the probe to report denial before any grant")
	}
	if probe.Reason == "" {
		t.Error("Expected the denial reason to be carried")
	}

	grantRule(t, service, "agent-1", "memories", types.PermissionRead)

	data = requireOK(t, service.RequireConsent(ctx, asOwner, "agent-1", "memories", types.PermissionRead))
	if probe := data.(*ProbeResult); !probe.Allowed {
		t.Errorf("Expected the probe to report allowed after the grant, got %+v", probe)
	}
}

// TestAgentIngestAndSearchFlow runs an agent write and read back through
// the facade under a single memories grant.
func TestAgentIngestAndSearchFlow(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	grantRule(t, service, "agent-1", "memories", types.PermissionWrite)

	data := requireOK(t, service.IngestMemoryText(ctx, asAgent, "bought fresh basil at the market", ""))
	receipt := data.(*engine.WriteReceipt)
	if receipt.Status != types.WriteAccepted || receipt.WriteID == "" {
		t.Fatalf("Expected an accepted receipt with a write id, got %+v", receipt)
	}

	// The write grant implies read access on the same resource.
	data = requireOK(t, service.SearchMemories(ctx, asAgent, "basil", engine.SearchOptions{}))
	results := data.([]engine.MemorySearchResult)
	if len(results) != 1 {
		t.Fatalf("Expected the ingested note to be searchable, got %d results", len(results))
	}
	if results[0].Note.Origin != types.OriginAIInferred {
		t.Errorf("Expected the agent write to default to ai_inferred, got %q", results[0].Note.Origin)
	}

	requireOK(t, service.GetWriteRecord(ctx, asOwner, receipt.WriteID))
}

// TestResourceMappingPerGroup verifies that a grant on one operation
// group does not open the others.
func TestResourceMappingPerGroup(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	grantRule(t, service, "agent-1", "graph/stats", types.PermissionRead)

	requireOK(t, service.GetGraphStats(ctx, asAgent))
	requireCode(t, service.Traverse(ctx, asAgent, 1, engine.TraverseOptions{}), CodeConsentDenied)
	requireCode(t, service.QueryPattern(ctx, asAgent, engine.PatternQuery{Text: "what is related to pizza"}), CodeConsentDenied)
	requireCode(t, service.ListMemories(ctx, asAgent, 10, 0), CodeConsentDenied)
}
