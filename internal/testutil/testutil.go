// Package testutil provides shared test helpers for setting up projects and databases.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/shape/internal/index"
	"github.com/starford/shape/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "shape-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestProject creates a temporary project directory with its task store
// and document provider.
func TestProject(t *testing.T) (string, *storage.TaskStore, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	docs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, storage.NewTaskStore(dir), docs
}
