package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/assembler"
	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/storage"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	asm    *assembler.Assembler
	collab assembler.Collaborator
}

// NewHandler creates a new Handler.
func NewHandler(asm *assembler.Assembler, collab assembler.Collaborator) *Handler {
	return &Handler{asm: asm, collab: collab}
}

// DocumentResponse describes an opened document.
type DocumentResponse struct {
	Path        string             `json:"path"`
	Checksum    string             `json:"checksum"`
	Created     bool               `json:"created"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Content     string             `json:"content"`
	FrontMatter map[string]any     `json:"front_matter"`
	References  []models.Reference `json:"references"`
}

// ContextResponse is a context bundle together with its rendered forms.
type ContextResponse struct {
	*assembler.Bundle
	System   string `json:"system"`
	Rendered string `json:"rendered"`
	Size     int    `json:"size"`
}

// docPath extracts the document path from the URL wildcard.
// Supports encoded slashes (e.g. notes%2Fplan.md).
func docPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListDocuments handles GET /api/documents.
//
//	@Summary	List workspace documents in lexical order
//	@Tags		documents
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Router		/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, _ *http.Request) {
	docs, err := h.asm.Documents()
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

// OpenDocument handles POST /api/documents/open. The target is a path or a
// [[Target]] reference resolved relative to "from"; a missing document is
// created from the new-document template (201).
func (h *Handler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
		From   string `json:"from"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("target is required"))
		return
	}
	doc, err := h.asm.Open(r.Context(), req.From, req.Target)
	if err != nil {
		writeError(w, "open document", err)
		return
	}
	status := http.StatusOK
	if doc.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, DocumentResponse{
		Path:        doc.Path,
		Checksum:    doc.Checksum,
		Created:     doc.Created,
		UpdatedAt:   doc.UpdatedAt,
		Content:     doc.Text,
		FrontMatter: doc.FrontMatter,
		References:  refsOrEmpty(doc.References),
	})
}

func refsOrEmpty(refs []models.Reference) []models.Reference {
	if refs == nil {
		return []models.Reference{}
	}
	return refs
}

// GetContext handles GET /api/context/*. With ?format=markdown the rendered
// context is returned as text.
//
//	@Summary	Build the context bundle for a document
//	@Tags		context
//	@Produce	json
//	@Param		path	path		string	true	"Document path"
//	@Param		format	query		string	false	"Response format"	Enums(json, markdown)
//	@Success	200		{object}	ContextResponse
//	@Failure	400		{object}	errResponse
//	@Failure	422		{object}	errResponse
//	@Router		/context/{path} [get]
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	p := docPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	b, err := h.asm.Build(r.Context(), p)
	if err != nil {
		writeError(w, "build context", err)
		return
	}
	rendered := b.Render()
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(rendered))
		return
	}
	writeJSON(w, http.StatusOK, ContextResponse{
		Bundle:   b,
		System:   b.SystemInstructions(),
		Rendered: rendered,
		Size:     len(rendered),
	})
}

// Ask handles POST /api/ask/*: one turn with the configured collaborator.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	p := docPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ex, err := h.asm.Ask(r.Context(), p, h.collab, req.Message)
	if err != nil {
		writeError(w, "ask", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reply":    ex.Answer.Text,
		"question": ex.Question,
		"answer":   ex.Answer,
		"warnings": ex.Bundle.Warnings,
	})
}

// GetHistory handles GET /api/history/*?limit=N.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	p, err := storage.Normalize(docPath(r))
	if err != nil {
		writeError(w, "read history", err)
		return
	}
	limit := assembler.DefaultHistoryWindow
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := h.asm.History(r.Context(), p, limit)
	if err != nil {
		writeError(w, "read history", err)
		return
	}
	total, err := h.asm.HistoryCount(r.Context(), p)
	if err != nil {
		writeError(w, "read history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    p,
		"entries": entries,
		"total":   total,
	})
}

// ListConversations handles GET /api/history: every document with history.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	docs, err := h.asm.Conversations(r.Context())
	if err != nil {
		writeError(w, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

// AppendHistory handles POST /api/history/*.
func (h *Handler) AppendHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := h.asm.Record(r.Context(), docPath(r), history.Role(req.Role), req.Text)
	if err != nil {
		writeError(w, "append history", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// ListDefinitions handles GET /api/definitions.
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	idx, warns, err := h.asm.Definitions(r.Context())
	if err != nil {
		writeError(w, "list definitions", err)
		return
	}
	writeJSON(w, http.StatusOK, idx.Catalog(warns))
}
