// Package storage defines the workspace file-system abstraction.
package storage

import (
	"iter"

	"github.com/starford/folio/internal/models"
)

// Provider is the interface for workspace document operations.
// All paths are relative to the workspace root.
type Provider interface {
	// Root returns the absolute workspace root.
	Root() string
	// Read loads the document at path; a missing file is apperr.ErrNotFound.
	Read(path string) (*models.Document, error)
	// ReadOrCreate loads the document at path, creating it from template if absent.
	// Creation is atomic: concurrent callers observe one complete file.
	ReadOrCreate(path string, template []byte) (*models.Document, error)
	// Write atomically replaces the content at path.
	Write(path string, content []byte) error
	// Exists reports whether a regular file is present at path.
	Exists(path string) bool
	// List lazily yields document paths under dir that carry one of exts
	// (Markdown extensions when exts is empty).
	List(dir string, exts ...string) iter.Seq2[string, error]
}
