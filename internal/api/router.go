package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/assembler"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// collab answers POST /ask requests.
func NewRouter(asm *assembler.Assembler, collab assembler.Collaborator, authEnabled bool, token string) chi.Router {
	h := NewHandler(asm, collab)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents/open", h.OpenDocument)

	// Context assembly.
	r.Get("/context/*", h.GetContext)
	r.Post("/ask/*", h.Ask)

	// Conversation history.
	r.Get("/history", h.ListConversations)
	r.Get("/history/*", h.GetHistory)
	r.Post("/history/*", h.AppendHistory)

	// Definitions.
	r.Get("/definitions", h.ListDefinitions)

	return r
}
