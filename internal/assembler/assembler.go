// Package assembler builds the bounded context bundle for an active document
// from the document store, parser, link graph, definition registry and
// history log.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/linkgraph"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/parser"
	"github.com/starford/folio/internal/registry"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/workspace"
)

// Defaults applied to zero Options fields.
const (
	DefaultHistoryWindow = 20
	DefaultExcerptChars  = 500
	DefaultMaxBytes      = 32 * 1024

	readConcurrency = 8
)

// Options tunes context assembly.
type Options struct {
	// HistoryWindow and ExcerptChars below 1 take the defaults.
	HistoryWindow int
	ExcerptChars  int
	// MaxBytes caps the rendered bundle; negative disables the cap.
	MaxBytes     int
	DefaultAgent string
	Logger       *slog.Logger
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HistoryWindow < 1 {
		o.HistoryWindow = DefaultHistoryWindow
	}
	if o.ExcerptChars < 1 {
		o.ExcerptChars = DefaultExcerptChars
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.DefaultAgent == "" {
		o.DefaultAgent = workspace.DefaultAgent
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Assembler builds context bundles. It keeps no per-document state; the
// registry and link graph are rebuilt from the workspace on every build.
type Assembler struct {
	store   storage.Provider
	history history.Log
	opts    Options
	logger  *slog.Logger
}

// New creates an Assembler.
func New(store storage.Provider, log history.Log, opts Options) *Assembler {
	opts = opts.withDefaults()
	return &Assembler{store: store, history: log, opts: opts, logger: opts.Logger}
}

// Build assembles the context bundle for the document at activePath, creating
// the document from the new-document template when it does not exist yet.
// Malformed front-matter degrades the bundle with a warning; storage,
// persistence and configuration failures abort the build.
func (a *Assembler) Build(ctx context.Context, activePath string) (*Bundle, error) {
	p, err := storage.Normalize(activePath)
	if err != nil {
		return nil, err
	}
	doc, err := a.store.ReadOrCreate(p, workspace.NewDocument(p, a.opts.Now()))
	if err != nil {
		return nil, err
	}

	b := &Bundle{Path: doc.Path, Created: doc.Created, Content: doc.Text}
	p = doc.Path

	res, err := parser.Parse(doc.Text)
	switch {
	case errors.Is(err, apperr.ErrMetadataParse):
		b.Degraded = true
		b.FrontMatter = map[string]any{}
		b.Body = doc.Text
		b.Warnings = append(b.Warnings, apperr.Warnf(p, "front-matter ignored: %v", err))
		res = &parser.Result{
			Body:       doc.Text,
			References: parser.ExtractReferences(doc.Text),
			Title:      parser.DeriveTitle(nil, doc.Text),
		}
	case err != nil:
		return nil, fmt.Errorf("assembler: parse %s: %w", p, err)
	default:
		b.FrontMatter = res.FrontMatter
		b.Body = res.Body
	}
	b.Title = res.Title

	graph, err := linkgraph.FromListing(a.store.List(""))
	if err != nil {
		return nil, fmt.Errorf("assembler: list workspace: %w", err)
	}
	related := relatedFrom(p, graph.Neighbors(p, res.References))
	warns, err := a.readExcerpts(ctx, related)
	if err != nil {
		return nil, err
	}
	b.Related = related
	b.Warnings = append(b.Warnings, warns...)

	idx, warns, err := registry.Load(ctx, a.store, registry.Options{DefaultAgent: a.opts.DefaultAgent})
	if err != nil {
		return nil, fmt.Errorf("assembler: load definitions: %w", err)
	}
	b.Warnings = append(b.Warnings, warns...)
	cfg, warns, err := idx.Resolve(p, b.FrontMatter)
	b.Warnings = append(b.Warnings, warns...)
	if err != nil {
		return nil, err
	}
	b.Config = cfg

	if b.History, err = a.history.Recent(ctx, p, a.opts.HistoryWindow); err != nil {
		return nil, err
	}

	b.fit(a.opts.MaxBytes)

	for _, w := range b.Warnings {
		a.logger.Warn("context warning", slog.String("source", w.Source), slog.String("message", w.Message))
	}
	a.logger.Debug("context built",
		slog.String("path", p),
		slog.Bool("created", b.Created),
		slog.Int("related", len(b.Related)),
		slog.Int("history", len(b.History)),
		slog.Int("bytes", b.Size()))
	return b, nil
}

// relatedFrom drops self references and repeats, keeping first occurrences in
// reference order. Missing targets are compared case-insensitively.
func relatedFrom(self string, neighbors []linkgraph.Neighbor) []Related {
	seen := make(map[string]struct{}, len(neighbors))
	out := make([]Related, 0, len(neighbors))
	for _, n := range neighbors {
		key := "missing:" + strings.ToLower(n.Resolution.Name)
		if n.Resolution.Exists() {
			if n.Resolution.Path == self {
				continue
			}
			key = "path:" + n.Resolution.Path
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Related{Reference: n.Reference, Resolution: n.Resolution})
	}
	return out
}

// readExcerpts fills title and excerpt of existing related documents. Reads
// run in parallel; each result lands at its own index so order is unchanged.
// A document removed since the listing becomes a warning.
func (a *Assembler) readExcerpts(ctx context.Context, related []Related) ([]apperr.Warning, error) {
	warns := make([]*apperr.Warning, len(related))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i := range related {
		if !related[i].Resolution.Exists() {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := &related[i]
			doc, err := a.store.Read(r.Resolution.Path)
			if errors.Is(err, apperr.ErrNotFound) {
				w := apperr.Warnf(r.Resolution.Path, "referenced document disappeared while building context")
				warns[i] = &w
				return nil
			}
			if err != nil {
				return err
			}
			fm, body, err := parser.ParseFrontMatter(doc.Text)
			if err != nil {
				fm, body = nil, doc.Text
			}
			r.Title = parser.DeriveTitle(fm, body)
			r.Excerpt, r.Truncated = excerpt(body, a.opts.ExcerptChars)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assembler: read related: %w", err)
	}

	var out []apperr.Warning
	for _, w := range warns {
		if w != nil {
			out = append(out, *w)
		}
	}
	return out, nil
}

// Open resolves target relative to the document at from and returns the
// matching document, creating it from the new-document template when it does
// not exist. target is a workspace path or a [[Target]] reference. This is the
// only step that materialises referenced documents.
func (a *Assembler) Open(_ context.Context, from, target string) (*models.Document, error) {
	name := unwrapReference(target)
	graph, err := linkgraph.FromListing(a.store.List(""))
	if err != nil {
		return nil, fmt.Errorf("assembler: list workspace: %w", err)
	}

	var p string
	if res := graph.ResolveTarget(from, name); res.Exists() {
		p = res.Path
	} else {
		var ok bool
		if p, ok = linkgraph.MaterializePath(from, name); !ok {
			return nil, apperr.Path("open", target, apperr.ErrInvalidPath, errors.New("target does not name a workspace document"))
		}
	}

	doc, err := a.store.ReadOrCreate(p, workspace.NewDocument(p, a.opts.Now()))
	if err != nil {
		return nil, err
	}
	describe(doc)
	a.logger.Info("document opened", slog.String("path", doc.Path), slog.Bool("created", doc.Created))
	return doc, nil
}

// describe fills the parsed fields of doc. Malformed front-matter leaves the
// metadata empty and the whole text as body.
func describe(doc *models.Document) {
	res, err := parser.Parse(doc.Text)
	if err != nil {
		doc.FrontMatter = map[string]any{}
		doc.Body = doc.Text
		doc.References = parser.ExtractReferences(doc.Text)
		return
	}
	doc.FrontMatter = res.FrontMatter
	doc.Body = res.Body
	doc.References = res.References
}

// unwrapReference turns "[[Target|Alias]]" into "Target"; other input is
// returned trimmed.
func unwrapReference(s string) string {
	s = strings.TrimSpace(s)
	if isReference(s) {
		if refs := parser.ExtractReferences(s); len(refs) == 1 {
			return refs[0].Target
		}
	}
	return s
}

// Documents returns every document path in the workspace in lexical order.
func (a *Assembler) Documents() ([]string, error) {
	var out []string
	for p, err := range a.store.List("") {
		if err != nil {
			return nil, fmt.Errorf("assembler: list workspace: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Definitions loads the current definition registry.
func (a *Assembler) Definitions(ctx context.Context) (*registry.Index, []apperr.Warning, error) {
	return registry.Load(ctx, a.store, registry.Options{DefaultAgent: a.opts.DefaultAgent})
}

// History returns the newest limit history entries of path, oldest first.
func (a *Assembler) History(ctx context.Context, path string, limit int) ([]history.Entry, error) {
	return a.history.Recent(ctx, path, limit)
}

// HistoryCount returns the total number of history entries of path.
func (a *Assembler) HistoryCount(ctx context.Context, path string) (int, error) {
	return a.history.Count(ctx, path)
}

// Conversations lists every document with recorded history, ordered by path.
func (a *Assembler) Conversations(ctx context.Context) ([]history.Summary, error) {
	docs, err := a.history.Documents(ctx)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []history.Summary{}
	}
	return docs, nil
}

// Record appends one turn to the history of path.
func (a *Assembler) Record(ctx context.Context, path string, role history.Role, text string) (history.Entry, error) {
	return a.history.Append(ctx, path, history.Entry{Role: role, Text: text, Timestamp: a.opts.Now()})
}
