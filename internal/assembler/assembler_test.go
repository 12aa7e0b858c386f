package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/testutil"
	"github.com/starford/folio/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *storage.FS
	history *history.Store
	asm     *Assembler
}

func newFixture(t *testing.T, files map[string]string, opts Options) *fixture {
	t.Helper()
	_, store := testutil.TestWorkspace(t, files)
	h := testutil.TestHistory(t)
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return &fixture{store: store, history: h, asm: New(store, h, opts)}
}

func (f *fixture) build(t *testing.T, p string) *Bundle {
	t.Helper()
	b, err := f.asm.Build(context.Background(), p)
	if err != nil {
		t.Fatalf("Build(%s): %v", p, err)
	}
	return b
}

func TestBuild_MissingReferenceIsNotCreated(t *testing.T) {
	f := newFixture(t, map[string]string{"index.md": "# Index\nSee [[Planning]].\n"}, Options{})

	b := f.build(t, "index.md")
	want := []Related{{
		Reference:  models.Reference{Target: "Planning", Offset: 12},
		Resolution: models.MissingNamed("Planning"),
	}}
	if diff := cmp.Diff(want, b.Related); diff != "" {
		t.Errorf("related (-want +got):\n%s", diff)
	}
	if f.store.Exists("Planning.md") {
		t.Error("building context must not create Planning.md")
	}
}

func TestBuild_CreatesActiveDocument(t *testing.T) {
	f := newFixture(t, nil, Options{})

	b := f.build(t, "ideas/new_plan")
	if !b.Created || b.Path != "ideas/new_plan.md" {
		t.Errorf("created=%v path=%s", b.Created, b.Path)
	}
	if b.Title != "New Plan" {
		t.Errorf("title = %q", b.Title)
	}
	if got := b.FrontMatter["created_at"]; got != fixedNow.UTC().Format(time.RFC3339) {
		t.Errorf("created_at = %#v in %q", got, b.Content)
	}
	if !f.store.Exists("ideas/new_plan.md") {
		t.Error("active document was not created")
	}

	again := f.build(t, "ideas/new_plan.md")
	if again.Created || again.Content != b.Content {
		t.Errorf("second build created=%v", again.Created)
	}
}

func TestBuild_ConcurrentCreateSingleWinner(t *testing.T) {
	f := newFixture(t, nil, Options{})
	const callers = 6

	var wg sync.WaitGroup
	bundles := make([]*Bundle, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bundles[i], errs[i] = f.asm.Build(context.Background(), "race.md")
		}()
	}
	wg.Wait()

	created := 0
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if bundles[i].Created {
			created++
		}
		if bundles[i].Content != bundles[0].Content {
			t.Errorf("caller %d saw different content", i)
		}
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

func TestBuild_MalformedFrontMatterDegrades(t *testing.T) {
	raw := "---\nagent: [broken\n---\n# Broken\nLinks to [[Other]].\n"
	f := newFixture(t, map[string]string{"broken.md": raw, "Other.md": "other body"}, Options{})

	b := f.build(t, "broken.md")
	if !b.Degraded {
		t.Error("expected degraded bundle")
	}
	if len(b.FrontMatter) != 0 || b.Body != raw || b.Content != raw {
		t.Errorf("front-matter=%v body=%q", b.FrontMatter, b.Body)
	}
	if !b.Config.DefaultAgent {
		t.Error("degraded bundle should fall back to the default agent")
	}
	if len(b.Related) != 1 || b.Related[0].Resolution.Path != "Other.md" {
		t.Errorf("related = %+v", b.Related)
	}
	found := false
	for _, w := range b.Warnings {
		if w.Source == "broken.md" && strings.Contains(w.Message, "front-matter") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing front-matter warning: %v", b.Warnings)
	}
}

func TestBuild_AgentInstructionsBeforeDocType(t *testing.T) {
	f := newFixture(t, map[string]string{
		workspace.AgentsDir + "/assistant.md":      "---\nname: assistant\n---\nASSISTANT RULES\n",
		workspace.DocTypesDir + "/workflow_def.md": "---\nname: workflow_def\n---\nWORKFLOW_DEF GUIDANCE\n",
		"flow.md": "---\nagent: assistant\ndoctype: workflow_def\n---\n# Flow\n",
	}, Options{})

	b := f.build(t, "flow.md")
	sys := b.SystemInstructions()
	a, d := strings.Index(sys, "ASSISTANT RULES"), strings.Index(sys, "WORKFLOW_DEF GUIDANCE")
	if a < 0 || d < 0 || a > d {
		t.Errorf("instructions = %q, want assistant then workflow_def", sys)
	}
	if len(b.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", b.Warnings)
	}
}

func TestBuild_RelatedOrderExcerptAndDedup(t *testing.T) {
	f := newFixture(t, map[string]string{
		"hub.md":     "[[B]] then [[a|the A]] then [[b]] again, [[Gone]], [[gone]], [[hub]]\n",
		"A.md":       "---\ntitle: Alpha\n---\n" + strings.Repeat("α", 30) + "\n",
		"notes/B.md": "# Nested Beta\nnot referenced from the root\n",
		"B.md":       "# Root Beta\nroot body\n",
	}, Options{ExcerptChars: 25})

	b := f.build(t, "hub.md")
	var got []string
	for _, r := range b.Related {
		if r.Resolution.Exists() {
			got = append(got, r.Resolution.Path)
		} else {
			got = append(got, "missing:"+r.Resolution.Name)
		}
	}
	if diff := cmp.Diff([]string{"B.md", "A.md", "missing:Gone"}, got); diff != "" {
		t.Errorf("related (-want +got):\n%s", diff)
	}

	alpha := b.Related[1]
	if alpha.Title != "Alpha" || alpha.Excerpt != strings.Repeat("α", 25) || !alpha.Truncated {
		t.Errorf("alpha = %+v", alpha)
	}
	beta := b.Related[0]
	if beta.Title != "Root Beta" || beta.Truncated {
		t.Errorf("beta = %+v", beta)
	}
	if b.Related[2].Excerpt != "" {
		t.Error("missing documents carry no excerpt")
	}
}

func TestBuild_HistoryWindowAndIsolation(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": "A", "b.md": "B"}, Options{HistoryWindow: 2})
	ctx := context.Background()
	for _, text := range []string{"E1", "E2", "E3"} {
		if _, err := f.asm.Record(ctx, "a.md", history.RoleUser, text); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.asm.Record(ctx, "b.md", history.RoleUser, "only b"); err != nil {
		t.Fatal(err)
	}

	var texts []string
	for _, e := range f.build(t, "a.md").History {
		texts = append(texts, e.Text)
	}
	if diff := cmp.Diff([]string{"E2", "E3"}, texts); diff != "" {
		t.Errorf("a.md history (-want +got):\n%s", diff)
	}
	bh := f.build(t, "b.md").History
	if len(bh) != 1 || bh[0].Text != "only b" {
		t.Errorf("b.md history = %+v", bh)
	}
}

func TestBuild_MissingDefaultAgentIsFatal(t *testing.T) {
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Write("doc.md", []byte("# Doc\n"))
	asm := New(store, testutil.TestHistory(t), Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	_, err = asm.Build(context.Background(), "doc.md")
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestBuild_InvalidPath(t *testing.T) {
	f := newFixture(t, nil, Options{})
	if _, err := f.asm.Build(context.Background(), "../outside.md"); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("err = %v, want ErrInvalidPath", err)
	}
}

// sizeFixture builds a document with two long related excerpts and five
// history entries and returns the uncapped bundle.
func sizeFixture(t *testing.T, maxBytes int) (*fixture, *Bundle) {
	t.Helper()
	f := newFixture(t, map[string]string{
		"main.md": "# Main\nSee [[One]] and [[Two]].\n",
		"One.md":  strings.Repeat("one ", 100),
		"Two.md":  strings.Repeat("two ", 100),
	}, Options{MaxBytes: maxBytes, ExcerptChars: 1000})
	for i := 1; i <= 5; i++ {
		if _, err := f.asm.Record(context.Background(), "main.md", history.RoleUser, fmt.Sprintf("turn %d %s", i, strings.Repeat("x", 80))); err != nil {
			t.Fatal(err)
		}
	}
	return f, f.build(t, "main.md")
}

func withoutExcerpts(b *Bundle) *Bundle {
	c := *b
	c.Related = append([]Related(nil), b.Related...)
	for i := range c.Related {
		c.Related[i].Excerpt = ""
	}
	return &c
}

func TestBuild_TruncatesExcerptsBeforeHistory(t *testing.T) {
	_, full := sizeFixture(t, -1)
	limit := withoutExcerpts(full).Size() + 20

	_, b := sizeFixture(t, limit)
	if b.Size() > limit {
		t.Errorf("size = %d, limit %d", b.Size(), limit)
	}
	if len(b.History) != 5 || b.Truncation.HistoryDropped != 0 {
		t.Errorf("history trimmed before excerpts: %+v", b.Truncation)
	}
	if b.Related[1].Excerpt != "" || !b.Related[1].Truncated {
		t.Errorf("last excerpt should be cut first: %q", b.Related[1].Excerpt)
	}
	if b.Truncation.ExcerptsTrimmed != 2 {
		t.Errorf("excerpts trimmed = %d, want 2", b.Truncation.ExcerptsTrimmed)
	}
	if b.Content != full.Content {
		t.Error("active content was modified")
	}
}

func TestBuild_DropsOldestHistoryAfterExcerpts(t *testing.T) {
	_, full := sizeFixture(t, -1)
	bare := withoutExcerpts(full)
	bare.History = bare.History[2:]
	limit := bare.Size()

	_, b := sizeFixture(t, limit)
	if b.Size() > limit {
		t.Errorf("size = %d, limit %d", b.Size(), limit)
	}
	for _, r := range b.Related {
		if r.Excerpt != "" {
			t.Errorf("excerpt of %s kept while history was dropped", r.Resolution.Path)
		}
	}
	if b.Truncation.HistoryDropped != 2 || len(b.History) != 3 {
		t.Errorf("truncation = %+v, history = %d", b.Truncation, len(b.History))
	}
	if !strings.HasPrefix(b.History[0].Text, "turn 3") || !strings.HasPrefix(b.History[2].Text, "turn 5") {
		t.Errorf("kept history = %q .. %q", b.History[0].Text, b.History[2].Text)
	}
	if b.Content != full.Content {
		t.Error("active content was modified")
	}
}

func TestBuild_OversizeActiveDocumentKeptWhole(t *testing.T) {
	_, full := sizeFixture(t, -1)
	_, b := sizeFixture(t, 10)

	if b.Content != full.Content {
		t.Error("active content was modified")
	}
	if !b.Truncation.Oversize || len(b.History) != 0 {
		t.Errorf("truncation = %+v", b.Truncation)
	}
	if len(b.Warnings) == 0 {
		t.Error("expected oversize warning")
	}
}

func TestRender(t *testing.T) {
	f := newFixture(t, map[string]string{
		"r.md":     "# R\n[[Known]] [[Unknown]]",
		"Known.md": "known text",
	}, Options{})
	if _, err := f.asm.Record(context.Background(), "r.md", history.RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}

	out := f.build(t, "r.md").Render()
	for _, want := range []string{
		"# Active document: r.md\n\n# R\n[[Known]] [[Unknown]]\n",
		"### [[Known]] (Known.md)\n\nknown text\n",
		"### [[Unknown]] (missing)",
		"## Conversation history\n\n**user** (2026-04-02T09:00:00Z):\nhello\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestExcerptAndDropTail(t *testing.T) {
	if got, cut := excerpt("  héllo wörld  ", 5); got != "héllo" || !cut {
		t.Errorf("excerpt = %q cut=%v", got, cut)
	}
	if got, cut := excerpt("short", 10); got != "short" || cut {
		t.Errorf("excerpt = %q cut=%v", got, cut)
	}
	// "é" is two bytes; dropping one byte must not split it.
	if got := dropTail("abé", 1); got != "ab" {
		t.Errorf("dropTail = %q", got)
	}
	if got := dropTail("abc", 5); got != "" {
		t.Errorf("dropTail = %q", got)
	}
}

func TestBuild_NewDocumentWithControlCharacterStem(t *testing.T) {
	f := newFixture(t, nil, Options{})

	b := f.build(t, "notes/a\x01b.md")
	if !b.Created {
		t.Error("expected the document to be created")
	}
	if b.Degraded {
		t.Errorf("freshly created document is degraded: %v", b.Warnings)
	}
	if b.FrontMatter["title"] != "A\x01b" {
		t.Errorf("title = %#v", b.FrontMatter["title"])
	}
}

func TestBuild_ResolvesSiblingsInDotDirectory(t *testing.T) {
	f := newFixture(t, map[string]string{
		".drafts/a.md": "See [[b]].\n",
		".drafts/b.md": "draft b",
	}, Options{})

	b := f.build(t, ".drafts/a.md")
	if len(b.Related) != 1 {
		t.Fatalf("related = %+v", b.Related)
	}
	if got := b.Related[0].Resolution; got != models.ExistingAt(".drafts/b.md") {
		t.Errorf("resolution = %+v, want existing .drafts/b.md", got)
	}
	if b.Related[0].Excerpt != "draft b" {
		t.Errorf("excerpt = %q", b.Related[0].Excerpt)
	}
}

func TestNew_NonPositiveKnobsUseDefaults(t *testing.T) {
	long := strings.Repeat("x", DefaultExcerptChars+100)
	f := newFixture(t, map[string]string{
		"a.md":    "[[long]]",
		"long.md": long,
	}, Options{ExcerptChars: -5, HistoryWindow: -1, MaxBytes: -1})

	if f.asm.opts.ExcerptChars != DefaultExcerptChars || f.asm.opts.HistoryWindow != DefaultHistoryWindow {
		t.Errorf("opts = %+v", f.asm.opts)
	}
	b := f.build(t, "a.md")
	if len(b.Related) != 1 || !b.Related[0].Truncated || len([]rune(b.Related[0].Excerpt)) != DefaultExcerptChars {
		t.Errorf("related = %+v", b.Related)
	}
}
