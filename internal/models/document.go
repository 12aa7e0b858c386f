// Package models defines the domain types for folio.
package models

import "time"

// Document is a Markdown file in the workspace.
type Document struct {
	Path        string         `json:"path"`
	Text        string         `json:"-"`
	Checksum    string         `json:"checksum"`
	Exists      bool           `json:"exists"`
	Created     bool           `json:"created,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	FrontMatter map[string]any `json:"front_matter,omitempty"`
	Body        string         `json:"body,omitempty"`
	References  []Reference    `json:"references,omitempty"`
}

// Reference is a [[Target]] link found in a document body.
type Reference struct {
	Target string `json:"target"`
	Alias  string `json:"alias,omitempty"`
	Offset int    `json:"offset"`
}

// Display returns the alias when present, otherwise the literal target.
func (r Reference) Display() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Target
}

// ResolutionKind distinguishes existing from not-yet-created reference targets.
type ResolutionKind string

const (
	Existing ResolutionKind = "existing"
	Missing  ResolutionKind = "missing"
)

// Resolution is the outcome of resolving a reference target.
// Path is set for Existing, Name for Missing.
type Resolution struct {
	Kind ResolutionKind `json:"kind"`
	Path string         `json:"path,omitempty"`
	Name string         `json:"name,omitempty"`
}

// ExistingAt returns an Existing resolution for path.
func ExistingAt(path string) Resolution {
	return Resolution{Kind: Existing, Path: path}
}

// MissingNamed returns a Missing resolution for name.
func MissingNamed(name string) Resolution {
	return Resolution{Kind: Missing, Name: name}
}

// Exists reports whether the target resolved to a document on disk.
func (r Resolution) Exists() bool { return r.Kind == Existing }
