package namespaces

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/memvault/memvault/internal/storage/sqlite"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(Config{Backend: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestStore_OpensOneFilePerUser(t *testing.T) {
	dataDir := t.TempDir()
	manager, err := NewManager(Config{Backend: "sqlite", DataDir: dataDir})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer func() { _ = manager.Close() }()

	if _, err := manager.Store("alice"); err != nil {
		t.Fatalf("Store(alice) failed: %v", err)
	}
	if _, err := manager.Store("bob"); err != nil {
		t.Fatalf("Store(bob) failed: %v", err)
	}

	for _, name := range []string{"alice.db", "bob.db"} {
		if _, err := os.Stat(filepath.Join(dataDir, name)); err != nil {
			t.Errorf("expected vault file %s: %v", name, err)
		}
	}
}

func TestStore_CachesPerUser(t *testing.T) {
	manager := newTestManager(t)

	store1, err := manager.Store("alice")
	if err != nil {
		t.Fatalf("first Store() failed: %v", err)
	}
	store2, err := manager.Store("alice")
	if err != nil {
		t.Fatalf("second Store() failed: %v", err)
	}
	if store1 != store2 {
		t.Error("Store() did not return the same cached instance")
	}

	other, err := manager.Store("bob")
	if err != nil {
		t.Fatalf("Store(bob) failed: %v", err)
	}
	if other == store1 {
		t.Error("different users should get different stores")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)

	if _, err := manager.Store("alice"); err != nil {
		t.Fatalf("initial Store() failed: %v", err)
	}

	numGoroutines := 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if _, err := manager.Store("alice"); err != nil {
				t.Errorf("Store() failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestStore_RejectsInvalidUserIDs(t *testing.T) {
	manager := newTestManager(t)

	for _, userID := range []string{"", "../escape", "a b", "user/1", strings64() + "x"} {
		if _, err := manager.Store(userID); err == nil {
			t.Errorf("Store(%q) should fail", userID)
		}
	}
}

// strings64 returns a 64-character id, one over the limit when suffixed.
func strings64() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestStore_AppliesMigrationsOnOpen(t *testing.T) {
	dataDir := t.TempDir()
	migrationsDir := t.TempDir()

	upSQL := "CREATE TABLE note_pins (note_id INTEGER PRIMARY KEY, pinned_at TIMESTAMP NOT NULL);"
	if err := os.WriteFile(filepath.Join(migrationsDir, "001_add_note_pins.up.sql"), []byte(upSQL), 0o644); err != nil {
		t.Fatalf("failed to write migration: %v", err)
	}

	manager, err := NewManager(Config{Backend: "sqlite", DataDir: dataDir, MigrationsDir: migrationsDir})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	store, err := manager.Store("alice")
	if err != nil {
		t.Fatalf("Store(alice) failed: %v", err)
	}

	vault, ok := store.(*sqlite.VaultStore)
	if !ok {
		t.Fatalf("expected a sqlite vault, got %T", store)
	}
	var name string
	err = vault.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'note_pins'").Scan(&name)
	if err != nil {
		t.Fatalf("migrated table missing: %v", err)
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("manager.Close() failed: %v", err)
	}

	// Reopening must not replay the recorded step; a replay would fail on
	// the duplicate CREATE TABLE.
	manager2, err := NewManager(Config{Backend: "sqlite", DataDir: dataDir, MigrationsDir: migrationsDir})
	if err != nil {
		t.Fatalf("failed to recreate manager: %v", err)
	}
	defer func() { _ = manager2.Close() }()
	if _, err := manager2.Store("alice"); err != nil {
		t.Fatalf("Store(alice) after reopen failed: %v", err)
	}
}

func TestUsersListsOpenNamespaces(t *testing.T) {
	manager := newTestManager(t)

	if _, err := manager.Store("alice"); err != nil {
		t.Fatalf("Store(alice) failed: %v", err)
	}
	if _, err := manager.Store("bob"); err != nil {
		t.Fatalf("Store(bob) failed: %v", err)
	}

	users := manager.Users()
	if len(users) != 2 {
		t.Fatalf("Users() returned %d ids, want 2", len(users))
	}
	seen := map[string]bool{}
	for _, u := range users {
		seen[u] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("Users() = %v, want alice and bob", users)
	}
}

func TestBorrowedStoreNotClosedOnManagerClose(t *testing.T) {
	borrowed, err := sqlite.NewVaultStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = borrowed.Close() }()

	manager := NewManagerWithStore("alice", borrowed)
	if err := manager.Close(); err != nil {
		t.Fatalf("manager.Close() failed: %v", err)
	}

	// The borrowed store must still answer queries after the manager is
	// closed.
	if _, err := borrowed.ListTables(context.Background()); err != nil {
		t.Errorf("borrowed store unusable after manager.Close(): %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"sqlite with dir", Config{Backend: "sqlite", DataDir: "/tmp/x"}, false},
		{"sqlite without dir", Config{Backend: "sqlite"}, true},
		{"postgres with dsn", Config{Backend: "postgres", PostgresDSN: "postgres://localhost/x"}, false},
		{"postgres without dsn", Config{Backend: "postgres"}, true},
		{"unknown backend", Config{Backend: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
