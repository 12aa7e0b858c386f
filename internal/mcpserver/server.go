// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes folio context assembly to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/folio/internal/assembler"
	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/models"
)

const (
	definitionsURI = "folio://definitions"
	formatURI      = "folio://document-format"
)

// Server wraps the MCP server with folio tools. A stdio server talks to a
// single client, so it owns one session: open_document sets the active
// document and tools called without a path fall back to it.
type Server struct {
	mcp     *server.MCPServer
	asm     *assembler.Assembler
	session *assembler.Session
	collab  assembler.Collaborator
}

// New creates a new MCP server with all folio tools registered. collab
// answers the ask tool; nil disables it.
func New(asm *assembler.Assembler, collab assembler.Collaborator, version string) *Server {
	s := &Server{asm: asm, session: assembler.NewSession(asm), collab: collab}

	s.mcp = server.NewMCPServer(
		"Folio",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("build_context",
		mcp.WithDescription("Assemble the context bundle for a document: its content, "+
			"related documents referenced with [[Target]], the effective agent/doctype/workflow "+
			"instructions and the recent conversation history. Creates the document when missing."),
		mcp.WithString("path", mcp.Description("Workspace-relative document path (e.g. notes/plan.md); defaults to the active document")),
		mcp.WithString("format", mcp.Description("json (default) or markdown")),
	), s.buildContext)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List every document path in the workspace in lexical order."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("open_document",
		mcp.WithDescription("Open a document by path or [[Target]] reference and make it the active document, "+
			"creating it from the new-document template when it does not exist. Returns its content."),
		mcp.WithString("target", mcp.Required(), mcp.Description("Path or [[Target]] reference")),
		mcp.WithString("from", mcp.Description("Document the reference is resolved from (default: the active document for references, the workspace root for paths)")),
	), s.openDocument)

	s.mcp.AddTool(mcp.NewTool("read_history",
		mcp.WithDescription("Read the most recent conversation entries of a document, oldest first."),
		mcp.WithString("path", mcp.Description("Document path; defaults to the active document")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
	), s.readHistory)

	s.mcp.AddTool(mcp.NewTool("append_history",
		mcp.WithDescription("Append one conversation turn to the history of a document."),
		mcp.WithString("path", mcp.Description("Document path; defaults to the active document")),
		mcp.WithString("role", mcp.Required(), mcp.Enum(string(history.RoleUser), string(history.RoleAssistant))),
		mcp.WithString("text", mcp.Required(), mcp.Description("Entry text")),
	), s.appendHistory)

	s.mcp.AddTool(mcp.NewTool("list_conversations",
		mcp.WithDescription("List every document with recorded history, with entry counts."),
	), s.listConversations)

	if collab != nil {
		s.mcp.AddTool(mcp.NewTool("ask",
			mcp.WithDescription("Send a message about a document to the configured collaborator. "+
				"The question and the reply are recorded in the document history."),
			mcp.WithString("path", mcp.Description("Document path; defaults to the active document")),
			mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
		), s.ask)
	}

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the folio document format contract. "+
			"Call this before writing documents to use front-matter keys and references correctly."),
	), s.getDocumentContract)

	s.mcp.AddResource(
		mcp.NewResource(definitionsURI, "Definitions",
			mcp.WithResourceDescription("Agents, doctypes and workflows loaded from the workspace."),
			mcp.WithMIMEType("application/json"),
		),
		s.readDefinitionsResource,
	)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Document Format Contract",
			mcp.WithResourceDescription("Markdown document format understood by folio."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// documentPath returns the path argument, or the active document when absent.
func (s *Server) documentPath(req mcp.CallToolRequest) (string, error) {
	if p := req.GetString("path", ""); p != "" {
		return p, nil
	}
	if p := s.session.Active(); p != "" {
		return p, nil
	}
	return "", assembler.ErrNoActiveDocument
}

func (s *Server) buildContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		b   *assembler.Bundle
		err error
	)
	if path := req.GetString("path", ""); path != "" {
		b, err = s.asm.Build(ctx, path)
	} else {
		b, err = s.session.Build(ctx)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.GetString("format", "json") == "markdown" {
		return mcp.NewToolResultText(b.Render()), nil
	}
	return jsonResult(struct {
		*assembler.Bundle
		System   string `json:"system"`
		Rendered string `json:"rendered"`
	}{b, b.SystemInstructions(), b.Render()})
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.asm.Documents()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.Join(docs, "\n")), nil
}

func (s *Server) openDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var doc *models.Document
	if from := req.GetString("from", ""); from != "" {
		doc, err = s.session.OpenFrom(ctx, from, target)
	} else {
		doc, err = s.session.Open(ctx, target)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	verb := "opened"
	if doc.Created {
		verb = "created"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s\n\n%s", verb, doc.Path, doc.Text)), nil
}

func (s *Server) readHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := s.documentPath(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", assembler.DefaultHistoryWindow)
	if limit < 0 {
		return mcp.NewToolResultError("limit must be non-negative"), nil
	}
	entries, err := s.asm.History(ctx, path, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return jsonResult(entries)
}

func (s *Server) appendHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := s.documentPath(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	role, err := req.RequireString("role")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.asm.Record(ctx, path, history.Role(role), text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("appended: %s #%d", e.Path, e.Seq)), nil
}

func (s *Server) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var ex *assembler.Exchange
	if path := req.GetString("path", ""); path != "" {
		ex, err = s.asm.Ask(ctx, path, s.collab, message)
	} else {
		ex, err = s.session.Ask(ctx, s.collab, message)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(ex.Answer.Text), nil
}

func (s *Server) listConversations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.asm.Conversations(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(docs)
}

func (s *Server) getDocumentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readDefinitionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	idx, warns, err := s.asm.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(idx.Catalog(warns), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      definitionsURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
