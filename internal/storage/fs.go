package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/models"
)

// ControlDir is the reserved directory at the workspace root. Listings from
// above it never descend into it.
const ControlDir = ".folio"

const tmpPattern = ".folio-tmp-*"

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to workspace directory
}

var _ Provider = (*FS)(nil)

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute workspace root.
func (f *FS) Root() string { return f.root }

// resolve normalises a document path and maps it under the root.
func (f *FS) resolve(p string) (rel, abs string, err error) {
	rel, err = Normalize(p)
	if err != nil {
		return "", "", err
	}
	abs, err = f.absPath(rel)
	if err != nil {
		return "", "", err
	}
	return rel, abs, nil
}

// absPath joins a cleaned relative path to the root and rejects any result
// that escapes it.
func (f *FS) absPath(rel string) (string, error) {
	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	if abs != f.root && !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", apperr.Path("resolve", rel, apperr.ErrInvalidPath, errors.New("path escapes workspace root"))
	}
	return abs, nil
}

// Read returns the document stored at path.
func (f *FS) Read(path string) (*models.Document, error) {
	rel, abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	return f.read(rel, abs)
}

func (f *FS) read(rel, abs string) (*models.Document, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Path("read", rel, apperr.ErrNotFound, err)
		}
		return nil, apperr.Path("read", rel, apperr.ErrIOFailure, err)
	}
	doc := &models.Document{
		Path:     rel,
		Text:     string(data),
		Checksum: checksum.Sum(data),
		Exists:   true,
	}
	if info, err := os.Stat(abs); err == nil {
		doc.UpdatedAt = info.ModTime()
	}
	return doc, nil
}

// ReadOrCreate returns the document at path, creating it from template first
// when it does not exist. The template is staged in a temp file and hard-linked
// into place, so the link either installs the complete file or fails because
// another caller (in any process) got there first.
func (f *FS) ReadOrCreate(path string, template []byte) (*models.Document, error) {
	rel, abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	doc, err := f.read(rel, abs)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	created, err := f.create(rel, abs, template)
	if err != nil {
		return nil, err
	}
	doc, err = f.read(rel, abs)
	if err != nil {
		return nil, err
	}
	doc.Created = created
	return doc, nil
}

func (f *FS) create(rel, abs string, content []byte) (bool, error) {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, apperr.Path("create", rel, apperr.ErrIOFailure, err)
	}
	tmpName, err := writeTemp(dir, content)
	if err != nil {
		return false, apperr.Path("create", rel, apperr.ErrIOFailure, err)
	}
	defer os.Remove(tmpName)

	if err := os.Link(tmpName, abs); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, apperr.Path("create", rel, apperr.ErrIOFailure, err)
	}
	return true, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	rel, abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Path("write", rel, apperr.ErrIOFailure, err)
	}
	tmpName, err := writeTemp(dir, content)
	if err != nil {
		return apperr.Path("write", rel, apperr.ErrIOFailure, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return apperr.Path("write", rel, apperr.ErrIOFailure, err)
	}
	return nil
}

// writeTemp stages content in a synced temp file inside dir and returns its name.
func writeTemp(dir string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp: %w", err)
	}
	success = true
	return tmpName, nil
}

// Exists reports whether a regular file exists at path.
func (f *FS) Exists(path string) bool {
	_, abs, err := f.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// List walks dir (relative to root) in lexical order and yields the relative
// path of every file with a matching extension. The control directory is
// skipped unless dir lies inside it; a missing dir yields nothing.
func (f *FS) List(dir string, exts ...string) iter.Seq2[string, error] {
	if len(exts) == 0 {
		exts = MarkdownExts
	}
	return func(yield func(string, error) bool) {
		cleaned, err := cleanRel(dir)
		if err != nil {
			yield("", err)
			return
		}
		base, err := f.absPath(cleaned)
		if err != nil {
			yield("", err)
			return
		}
		if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
			return
		}

		err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if p != base && d.Name() == ControlDir && filepath.Dir(p) == f.root {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !hasExt(d.Name(), exts) {
				return nil
			}
			rel, err := filepath.Rel(f.root, p)
			if err != nil {
				return err
			}
			if !yield(filepath.ToSlash(rel), nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			yield("", apperr.Path("list", cleaned, apperr.ErrIOFailure, err))
		}
	}
}

func hasExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
