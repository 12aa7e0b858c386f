package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/folio/internal/assembler"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/testutil"
)

func testServer(t *testing.T, files map[string]string) (*Server, *storage.FS) {
	t.Helper()
	_, store := testutil.TestWorkspace(t, files)
	h := testutil.TestHistory(t)
	asm := assembler.New(store, h, assembler.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	return New(asm, assembler.EchoCollaborator{}, "test"), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process "call tool" helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "build_context":
		result, err = srv.buildContext(ctx, req)
	case "list_documents":
		result, err = srv.listDocuments(ctx, req)
	case "open_document":
		result, err = srv.openDocument(ctx, req)
	case "read_history":
		result, err = srv.readHistory(ctx, req)
	case "append_history":
		result, err = srv.appendHistory(ctx, req)
	case "list_conversations":
		result, err = srv.listConversations(ctx, req)
	case "ask":
		result, err = srv.ask(ctx, req)
	case "get_document_contract":
		result, err = srv.getDocumentContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestBuildContext(t *testing.T) {
	srv, store := testServer(t, map[string]string{
		"plan.md": "---\nagent: writer\n---\n# Plan\nSee [[Ideas]].\n",
	})

	r := callTool(t, srv, "build_context", map[string]interface{}{"path": "plan.md"})
	if r.IsError {
		t.Fatalf("build_context error: %s", resultText(r))
	}
	var got struct {
		Path    string `json:"path"`
		System  string `json:"system"`
		Related []struct {
			Resolution struct {
				Kind string `json:"kind"`
				Name string `json:"name"`
			} `json:"resolution"`
		} `json:"related"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatal(err)
	}
	if got.Path != "plan.md" || !strings.Contains(got.System, "Writer Agent") {
		t.Errorf("bundle = %+v", got)
	}
	if len(got.Related) != 1 || got.Related[0].Resolution.Kind != "missing" || got.Related[0].Resolution.Name != "Ideas" {
		t.Errorf("related = %+v", got.Related)
	}
	if store.Exists("Ideas.md") {
		t.Error("build_context created a referenced document")
	}
}

func TestBuildContext_Markdown(t *testing.T) {
	srv, _ := testServer(t, map[string]string{"n.md": "# N\n"})

	r := callTool(t, srv, "build_context", map[string]interface{}{"path": "n.md", "format": "markdown"})
	if !strings.HasPrefix(resultText(r), "# Active document: n.md") {
		t.Errorf("rendered = %q", resultText(r))
	}
}

func TestBuildContext_Errors(t *testing.T) {
	srv, _ := testServer(t, nil)

	if r := callTool(t, srv, "build_context", map[string]interface{}{}); !r.IsError {
		t.Error("expected error for missing path")
	}
	if r := callTool(t, srv, "build_context", map[string]interface{}{"path": "../escape.md"}); !r.IsError {
		t.Error("expected error for escaping path")
	}
}

func TestListDocuments(t *testing.T) {
	srv, _ := testServer(t, map[string]string{"b.md": "b", "a/c.md": "c"})

	r := callTool(t, srv, "list_documents", map[string]interface{}{})
	if text := resultText(r); text != "README.md\na/c.md\nb.md" {
		t.Errorf("list = %q", text)
	}
}

func TestOpenDocument(t *testing.T) {
	srv, store := testServer(t, map[string]string{"notes/index.md": "[[Ideas]]"})

	r := callTool(t, srv, "open_document", map[string]interface{}{"target": "[[Ideas]]", "from": "notes/index.md"})
	if text := resultText(r); !strings.HasPrefix(text, "created: notes/Ideas.md") {
		t.Errorf("open = %q", text)
	}
	if !store.Exists("notes/Ideas.md") {
		t.Error("document was not created")
	}

	r = callTool(t, srv, "open_document", map[string]interface{}{"target": "notes/ideas"})
	if text := resultText(r); !strings.HasPrefix(text, "opened: notes/Ideas.md") {
		t.Errorf("reopen = %q", text)
	}
}

func TestHistoryTools(t *testing.T) {
	srv, _ := testServer(t, nil)

	for i, text := range []string{"E1", "E2", "E3"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		r := callTool(t, srv, "append_history", map[string]interface{}{"path": "chat.md", "role": role, "text": text})
		if r.IsError {
			t.Fatalf("append: %s", resultText(r))
		}
	}

	r := callTool(t, srv, "read_history", map[string]interface{}{"path": "chat", "limit": float64(2)})
	var entries []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Text != "E2" || entries[1].Text != "E3" {
		t.Errorf("entries = %+v", entries)
	}

	r = callTool(t, srv, "append_history", map[string]interface{}{"path": "chat.md", "role": "system", "text": "x"})
	if !r.IsError {
		t.Error("expected error for invalid role")
	}
}

func TestAsk(t *testing.T) {
	srv, _ := testServer(t, map[string]string{"q.md": "# Q\n"})

	r := callTool(t, srv, "ask", map[string]interface{}{"path": "q.md", "message": "hello"})
	if text := resultText(r); !strings.HasPrefix(text, "[default] hello") {
		t.Errorf("reply = %q", text)
	}

	r = callTool(t, srv, "read_history", map[string]interface{}{"path": "q.md"})
	if !strings.Contains(resultText(r), `"role": "assistant"`) {
		t.Errorf("history = %s", resultText(r))
	}
}

func TestDefinitionsResource(t *testing.T) {
	srv, _ := testServer(t, nil)

	contents, err := srv.readDefinitionsResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents = %T", contents[0])
	}
	var cat struct {
		DefaultAgent string `json:"default_agent"`
		Agents       []any  `json:"agents"`
		Workflows    []any  `json:"workflows"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &cat); err != nil {
		t.Fatal(err)
	}
	if cat.DefaultAgent != "default" || len(cat.Agents) != 2 || len(cat.Workflows) != 1 {
		t.Errorf("catalog = %+v", cat)
	}
}

func TestDocumentContract(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := callTool(t, srv, "get_document_contract", nil)
	if !strings.Contains(resultText(r), "[[Target|Alias]]") {
		t.Error("contract does not describe references")
	}
}

func TestActiveDocumentFallback(t *testing.T) {
	srv, _ := testServer(t, map[string]string{"notes/index.md": "# Index\nSee [[Ideas]].\n"})

	if r := callTool(t, srv, "ask", map[string]interface{}{"message": "hi"}); !r.IsError {
		t.Error("ask without path or active document must fail")
	}

	callTool(t, srv, "open_document", map[string]interface{}{"target": "notes/index.md"})
	r := callTool(t, srv, "build_context", map[string]interface{}{"format": "markdown"})
	if !strings.HasPrefix(resultText(r), "# Active document: notes/index.md") {
		t.Errorf("build_context = %q", resultText(r))
	}

	// A reference resolves next to the active document.
	r = callTool(t, srv, "open_document", map[string]interface{}{"target": "[[Ideas]]"})
	if !strings.HasPrefix(resultText(r), "created: notes/Ideas.md") {
		t.Errorf("open reference = %q", resultText(r))
	}

	if r := callTool(t, srv, "ask", map[string]interface{}{"message": "hello"}); r.IsError {
		t.Fatalf("ask: %s", resultText(r))
	}
	r = callTool(t, srv, "append_history", map[string]interface{}{"role": "user", "text": "more"})
	if text := resultText(r); text != "appended: notes/Ideas.md #3" {
		t.Errorf("append = %q", text)
	}

	r = callTool(t, srv, "list_conversations", nil)
	var docs []struct {
		Path    string `json:"path"`
		Entries int    `json:"entries"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Path != "notes/Ideas.md" || docs[0].Entries != 3 {
		t.Errorf("conversations = %+v", docs)
	}
}
