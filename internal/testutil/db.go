package testutil

import (
	"path/filepath"
	"testing"

	"github.com/aplowman/hpcflow-new/internal/config"
	internal_storage "github.com/aplowman/hpcflow-new/internal/storage"
)

// SetupTestStore creates a fresh SQLite store under a temp directory, with
// the schema applied, and closes it when the test finishes.
func SetupTestStore(t *testing.T) *internal_storage.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflows.db")
	store, err := internal_storage.InitStore(path, false)
	if err != nil {
		t.Fatalf("Failed to initialize test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close test store: %v", err)
		}
	})
	return store
}

// TestConfig loads the default settings with an isolated config dir.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to load test config: %v", err)
	}
	return cfg
}
