// Package testutil provides shared test helpers for setting up workspaces and
// history databases.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/workspace"
)

// TestHistory opens a history store in a temporary directory that is closed
// automatically.
func TestHistory(t *testing.T) *history.Store {
	t.Helper()
	h, err := history.Open(filepath.Join(t.TempDir(), workspace.HistoryDBName))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

// TestWorkspace creates an initialised workspace in a temporary directory and
// writes files (workspace-relative path to content) into it.
func TestWorkspace(t *testing.T, files map[string]string) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := workspace.Init(store, "Test"); err != nil {
		t.Fatal(err)
	}
	for p, content := range files {
		if err := store.Write(p, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	return dir, store
}
