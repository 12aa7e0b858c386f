package storage

import (
	"path"
	"strings"

	"github.com/starford/folio/internal/apperr"
)

// MarkdownExts are the extensions recognised as documents.
var MarkdownExts = []string{".md", ".markdown"}

// HasMarkdownExt reports whether p ends in a Markdown extension (case-insensitive).
func HasMarkdownExt(p string) bool {
	lower := strings.ToLower(p)
	for _, ext := range MarkdownExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Normalize turns rel into the canonical workspace-relative document path:
// forward slashes, cleaned, and ending in a Markdown extension. Absolute paths
// and paths escaping the root are rejected with apperr.ErrInvalidPath.
func Normalize(rel string) (string, error) {
	p, err := cleanRel(rel)
	if err != nil {
		return "", err
	}
	if p == "." {
		return "", apperr.Path("normalize", rel, apperr.ErrInvalidPath, nil)
	}
	if !HasMarkdownExt(p) {
		p += ".md"
	}
	return p, nil
}

// cleanRel cleans a workspace-relative path without touching its extension.
func cleanRel(rel string) (string, error) {
	p := strings.ReplaceAll(strings.TrimSpace(rel), `\`, "/")
	if p == "" {
		return ".", nil
	}
	if strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return "", apperr.Path("normalize", rel, apperr.ErrInvalidPath, nil)
	}
	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", apperr.Path("normalize", rel, apperr.ErrInvalidPath, nil)
	}
	return p, nil
}
