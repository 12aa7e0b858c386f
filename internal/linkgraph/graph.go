// Package linkgraph resolves [[references]] against a snapshot of the
// workspace listing. A Graph is built fresh for every context build and never
// touches the file system itself.
package linkgraph

import (
	"iter"
	"path"
	"strings"

	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/storage"
)

// Neighbor pairs a reference with its resolution.
type Neighbor struct {
	Reference  models.Reference  `json:"reference"`
	Resolution models.Resolution `json:"resolution"`
}

// Graph is an immutable, case-insensitive index of existing document paths.
type Graph struct {
	byFold map[string]string // lower-cased path -> first path in listing order
}

// New builds a Graph from a document listing.
func New(paths []string) *Graph {
	g := &Graph{byFold: make(map[string]string, len(paths))}
	for _, p := range paths {
		key := strings.ToLower(p)
		if _, dup := g.byFold[key]; !dup {
			g.byFold[key] = p
		}
	}
	return g
}

// FromListing drains a storage listing into a Graph.
func FromListing(seq iter.Seq2[string, error]) (*Graph, error) {
	var paths []string
	for p, err := range seq {
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return New(paths), nil
}

// Len returns the number of indexed documents.
func (g *Graph) Len() int { return len(g.byFold) }

// Lookup returns the existing path matching p case-insensitively.
func (g *Graph) Lookup(p string) (string, bool) {
	found, ok := g.byFold[strings.ToLower(p)]
	return found, ok
}

// Candidates returns the workspace-relative paths a target may denote, most
// specific first. A leading "/" anchors the target at the root; otherwise it is
// tried next to the referring document and then at the root.
func Candidates(from, target string) []string {
	name := strings.ReplaceAll(strings.TrimSpace(target), `\`, "/")
	if name == "" {
		return nil
	}

	var raw []string
	if strings.HasPrefix(name, "/") {
		raw = []string{strings.TrimLeft(name, "/")}
	} else {
		if dir := path.Dir(from); from != "" && dir != "." {
			raw = append(raw, path.Join(dir, name))
		}
		raw = append(raw, name)
	}

	out := make([]string, 0, len(raw))
	for _, r := range raw {
		p, err := storage.Normalize(r)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ResolveTarget maps a reference target to an existing document, or to a
// Missing resolution carrying the literal target.
func (g *Graph) ResolveTarget(from, target string) models.Resolution {
	for _, c := range Candidates(from, target) {
		if p, ok := g.Lookup(c); ok {
			return models.ExistingAt(p)
		}
	}
	return models.MissingNamed(strings.TrimSpace(target))
}

// MaterializePath returns the path at which a missing target should be
// created: the most specific candidate. ok is false when the target cannot
// name a workspace document.
func MaterializePath(from, target string) (string, bool) {
	c := Candidates(from, target)
	if len(c) == 0 {
		return "", false
	}
	return c[0], true
}

// Neighbors resolves every reference of the document at from, preserving order.
func (g *Graph) Neighbors(from string, refs []models.Reference) []Neighbor {
	out := make([]Neighbor, 0, len(refs))
	for _, ref := range refs {
		out = append(out, Neighbor{Reference: ref, Resolution: g.ResolveTarget(from, ref.Target)})
	}
	return out
}
