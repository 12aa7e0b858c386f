// Package registry loads agent, doctype and workflow definitions from the
// reserved workspace directories and resolves the effective configuration of
// a document from its front-matter.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/parser"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/workspace"
)

// Kind is the family a definition belongs to.
type Kind string

const (
	KindAgent    Kind = "agent"
	KindDocType  Kind = "doctype"
	KindWorkflow Kind = "workflow"
)

// Kinds lists every kind in load order together with its directory.
var Kinds = []struct {
	Kind Kind
	Dir  string
}{
	{KindAgent, workspace.AgentsDir},
	{KindDocType, workspace.DocTypesDir},
	{KindWorkflow, workspace.WorkflowsDir},
}

var (
	nameRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	semverRe = regexp.MustCompile(`^v?\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)
)

// Definition is one agent, doctype or workflow file.
type Definition struct {
	Kind         Kind           `json:"kind"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Version      string         `json:"version,omitempty"`
	Instructions string         `json:"instructions"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Path         string         `json:"path"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Options tunes loading and resolution.
type Options struct {
	// DefaultAgent is applied when a document resolves no agent of its own.
	DefaultAgent string
}

// Index is an immutable snapshot of loaded definitions keyed by name.
type Index struct {
	defs         map[Kind]map[string]*Definition
	defaultAgent string
}

// NewIndex builds an Index from definitions; later entries win on duplicate
// names. It is used by Load and by callers assembling definitions in memory.
func NewIndex(opts Options, defs ...*Definition) *Index {
	idx := &Index{
		defs:         make(map[Kind]map[string]*Definition, len(Kinds)),
		defaultAgent: opts.DefaultAgent,
	}
	if idx.defaultAgent == "" {
		idx.defaultAgent = workspace.DefaultAgent
	}
	for _, k := range Kinds {
		idx.defs[k.Kind] = map[string]*Definition{}
	}
	for _, d := range defs {
		idx.defs[d.Kind][d.Name] = d
	}
	return idx
}

// Load scans the reserved directories in lexical order. Files that cannot be
// parsed or lack a valid name are skipped with a warning; duplicate names are
// won by the last file loaded, also with a warning. Storage failures abort.
func Load(ctx context.Context, store storage.Provider, opts Options) (*Index, []apperr.Warning, error) {
	var (
		defs     []*Definition
		warnings []apperr.Warning
	)
	for _, k := range Kinds {
		seen := map[string]string{}
		for p, err := range store.List(k.Dir) {
			if err != nil {
				return nil, warnings, fmt.Errorf("registry: list %s: %w", k.Dir, err)
			}
			if err := ctx.Err(); err != nil {
				return nil, warnings, err
			}
			doc, err := store.Read(p)
			if err != nil {
				return nil, warnings, fmt.Errorf("registry: %w", err)
			}
			def, warns := parseDefinition(k.Kind, p, doc.Text)
			warnings = append(warnings, warns...)
			if def == nil {
				continue
			}
			if prev, dup := seen[def.Name]; dup {
				warnings = append(warnings, apperr.Warnf(p,
					"duplicate %s name %q (also in %s); using %s", k.Kind, def.Name, prev, p))
			}
			seen[def.Name] = p
			defs = append(defs, def)
		}
	}
	return NewIndex(opts, defs...), warnings, nil
}

// parseDefinition returns nil when the file cannot serve as a definition.
func parseDefinition(kind Kind, p, text string) (*Definition, []apperr.Warning) {
	fm, body, err := parser.ParseFrontMatter(text)
	if err != nil {
		return nil, []apperr.Warning{apperr.Warnf(p, "skipped %s definition: %v", kind, err)}
	}

	name, present, valid := parser.String(fm, "name")
	if !present || !valid {
		return nil, []apperr.Warning{apperr.Warnf(p, "skipped %s definition: front-matter key \"name\" is required", kind)}
	}
	if err := validation.Validate(name, validation.Required, validation.Match(nameRe)); err != nil {
		return nil, []apperr.Warning{apperr.Warnf(p, "skipped %s definition: name %q: %v", kind, name, err)}
	}

	def := &Definition{
		Kind:         kind,
		Name:         name,
		Instructions: strings.TrimSpace(body),
		Path:         p,
		Metadata:     maps.Clone(fm),
	}
	def.Description, _, _ = parser.String(fm, "description")
	if kind == KindAgent {
		def.Capabilities = parser.Strings(fm, "capabilities")
	}

	var warnings []apperr.Warning
	switch v := fm["version"].(type) {
	case nil:
	case string:
		def.Version = strings.TrimSpace(v)
	default:
		// YAML reads 1.0 as a float.
		def.Version = fmt.Sprint(v)
	}
	if err := validation.Validate(def.Version, validation.Match(semverRe)); err != nil {
		warnings = append(warnings, apperr.Warnf(p, "version %q is not a semantic version", def.Version))
	}
	return def, warnings
}

// DefaultAgent returns the name of the fallback agent.
func (idx *Index) DefaultAgent() string { return idx.defaultAgent }

// Lookup returns the definition of kind named name.
func (idx *Index) Lookup(kind Kind, name string) (*Definition, bool) {
	d, ok := idx.defs[kind][name]
	return d, ok
}

// Definitions returns every definition of kind sorted by name.
func (idx *Index) Definitions(kind Kind) []*Definition {
	names := slices.Sorted(maps.Keys(idx.defs[kind]))
	out := make([]*Definition, 0, len(names))
	for _, n := range names {
		out = append(out, idx.defs[kind][n])
	}
	return out
}

// Catalog is a listing of every loaded definition grouped by kind.
type Catalog struct {
	DefaultAgent string           `json:"default_agent"`
	Agents       []*Definition    `json:"agents"`
	DocTypes     []*Definition    `json:"doctypes"`
	Workflows    []*Definition    `json:"workflows"`
	Warnings     []apperr.Warning `json:"warnings,omitempty"`
}

// Catalog lists the index contents; warnings are the ones reported by Load.
func (idx *Index) Catalog(warnings []apperr.Warning) Catalog {
	return Catalog{
		DefaultAgent: idx.defaultAgent,
		Agents:       idx.Definitions(KindAgent),
		DocTypes:     idx.Definitions(KindDocType),
		Workflows:    idx.Definitions(KindWorkflow),
		Warnings:     warnings,
	}
}

// EffectiveConfig is the resolved guidance for one document.
type EffectiveConfig struct {
	Agent        *Definition `json:"agent,omitempty"`
	DocType      *Definition `json:"doctype,omitempty"`
	Workflow     *Definition `json:"workflow,omitempty"`
	DefaultAgent bool        `json:"default_agent"`
	Instructions string      `json:"instructions"`
}

// ErrDefaultAgentMissing is wrapped in the ConfigurationError Resolve returns.
var ErrDefaultAgentMissing = errors.New("default agent is not defined")

// Resolve computes the effective configuration for the document at path from
// its front-matter. The agent named by "agent" is used when known, otherwise
// the default agent; "doctype" and "workflow" add their guidance when known.
// Instructions are concatenated agent first, then doctype, then workflow.
// Unknown or non-string names are warnings. The only error is a missing
// default agent, reported as apperr.ErrConfiguration.
func (idx *Index) Resolve(path string, meta map[string]any) (EffectiveConfig, []apperr.Warning, error) {
	var (
		cfg      EffectiveConfig
		warnings []apperr.Warning
	)

	lookup := func(kind Kind) *Definition {
		key := string(kind)
		name, present, valid := parser.String(meta, key)
		switch {
		case !present:
			return nil
		case !valid:
			warnings = append(warnings, apperr.Warnf(path, "front-matter key %q must be a string; ignored", key))
			return nil
		case name == "":
			return nil
		}
		if d, ok := idx.Lookup(kind, name); ok {
			return d
		}
		warnings = append(warnings, apperr.Warnf(path, "unknown %s %q in front-matter key %q; ignored", kind, name, key))
		return nil
	}

	cfg.Agent = lookup(KindAgent)
	cfg.DocType = lookup(KindDocType)
	cfg.Workflow = lookup(KindWorkflow)

	if cfg.Agent == nil {
		d, ok := idx.Lookup(KindAgent, idx.defaultAgent)
		if !ok {
			return EffectiveConfig{}, warnings, apperr.Path("resolve", path, apperr.ErrConfiguration,
				fmt.Errorf("%w: add %s/%s.md", ErrDefaultAgentMissing, workspace.AgentsDir, idx.defaultAgent))
		}
		cfg.Agent = d
		cfg.DefaultAgent = true
	}

	var sections []string
	for _, d := range []*Definition{cfg.Agent, cfg.DocType, cfg.Workflow} {
		if d != nil && d.Instructions != "" {
			sections = append(sections, d.Instructions)
		}
	}
	cfg.Instructions = strings.Join(sections, "\n\n")
	return cfg, warnings, nil
}
