// Package workspace describes the reserved folio layout inside a workspace root.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/starford/folio/internal/storage"
)

// ControlDir is the reserved directory at the workspace root.
const ControlDir = storage.ControlDir

// Reserved locations, relative to the workspace root.
var (
	MetaDir      = path.Join(ControlDir, "meta")
	AgentsDir    = path.Join(MetaDir, "agents")
	DocTypesDir  = path.Join(MetaDir, "doctypes")
	WorkflowsDir = path.Join(MetaDir, "workflows")
	HistoryDir   = path.Join(ControlDir, "history")
	ConfigFile   = path.Join(ControlDir, "config.yaml")
)

// HistoryDBName is the SQLite file inside HistoryDir.
const HistoryDBName = "history.db"

// Layout resolves reserved locations for one workspace root.
type Layout struct {
	Root string
}

// Abs maps a reserved relative location to an absolute path.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// HistoryDB returns the absolute path of the history database.
func (l Layout) HistoryDB() string {
	return filepath.Join(l.Abs(HistoryDir), HistoryDBName)
}

// IsInitialized reports whether every reserved directory exists.
func (l Layout) IsInitialized() bool {
	for _, dir := range []string{AgentsDir, DocTypesDir, WorkflowsDir, HistoryDir} {
		info, err := os.Stat(l.Abs(dir))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// ErrNoWorkspace is returned by FindRoot when no ancestor holds ControlDir.
var ErrNoWorkspace = errors.New("no folio workspace found")

// FindRoot walks up from start until it finds a directory containing ControlDir.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve %s: %w", start, err)
	}
	for {
		info, err := os.Stat(filepath.Join(dir, ControlDir))
		if err == nil && info.IsDir() {
			return dir, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("workspace: stat %s: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("workspace: %s: %w", start, ErrNoWorkspace)
		}
		dir = parent
	}
}

// Init creates the reserved directories and seeds default definitions and a
// README. Existing files are never overwritten. It returns the paths created.
func Init(store storage.Provider, name string) ([]string, error) {
	l := Layout{Root: store.Root()}
	for _, dir := range []string{AgentsDir, DocTypesDir, WorkflowsDir, HistoryDir} {
		if err := os.MkdirAll(l.Abs(dir), 0o755); err != nil {
			return nil, fmt.Errorf("workspace: create %s: %w", dir, err)
		}
	}

	var created []string
	for _, tpl := range defaultTemplates {
		doc, err := store.ReadOrCreate(tpl.path, []byte(tpl.content))
		if err != nil {
			return created, fmt.Errorf("workspace: seed %s: %w", tpl.path, err)
		}
		if doc.Created {
			created = append(created, doc.Path)
		}
	}

	if name == "" {
		name = filepath.Base(l.Root)
	}
	readme := fmt.Sprintf("# %s\n\nA folio workspace for document-driven AI collaboration.\n", name)
	doc, err := store.ReadOrCreate("README.md", []byte(readme))
	if err != nil {
		return created, fmt.Errorf("workspace: seed README.md: %w", err)
	}
	if doc.Created {
		created = append(created, doc.Path)
	}
	return created, nil
}
