package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/models"
)

// ErrNoActiveDocument is returned by Session operations before Open.
var ErrNoActiveDocument = errors.New("no active document")

// Collaborator is the external assistant: given the system instructions, the
// context bundle and the user's message it returns the reply text.
type Collaborator interface {
	Reply(ctx context.Context, system string, bundle *Bundle, message string) (string, error)
}

// CollaboratorFunc adapts a function to Collaborator.
type CollaboratorFunc func(ctx context.Context, system string, bundle *Bundle, message string) (string, error)

// Reply calls f.
func (f CollaboratorFunc) Reply(ctx context.Context, system string, bundle *Bundle, message string) (string, error) {
	return f(ctx, system, bundle, message)
}

// EchoCollaborator answers deterministically without calling a model.
type EchoCollaborator struct{}

// Reply echoes message along with a summary of the context it was given.
func (EchoCollaborator) Reply(_ context.Context, _ string, b *Bundle, message string) (string, error) {
	agent := "none"
	if b.Config.Agent != nil {
		agent = b.Config.Agent.Name
	}
	return fmt.Sprintf("[%s] %s\n\n(context: %s, %d related, %d history entries)",
		agent, message, b.Path, len(b.Related), len(b.History)), nil
}

// Exchange is the outcome of one Ask turn.
type Exchange struct {
	Bundle   *Bundle       `json:"bundle"`
	Question history.Entry `json:"question"`
	Answer   history.Entry `json:"answer"`
}

// Ask builds the context for path, asks c and records both turns in the
// document's history. Nothing is recorded when the collaborator fails.
func (a *Assembler) Ask(ctx context.Context, path string, c Collaborator, message string) (*Exchange, error) {
	if err := (history.Entry{Role: history.RoleUser, Text: message}).Validate(); err != nil {
		return nil, fmt.Errorf("assembler: ask: %w: %w", history.ErrInvalidEntry, err)
	}
	b, err := a.Build(ctx, path)
	if err != nil {
		return nil, err
	}
	reply, err := c.Reply(ctx, b.SystemInstructions(), b, message)
	if err != nil {
		return nil, fmt.Errorf("assembler: collaborator: %w", err)
	}

	q, err := a.Record(ctx, b.Path, history.RoleUser, message)
	if err != nil {
		return nil, err
	}
	ans, err := a.Record(ctx, b.Path, history.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}
	return &Exchange{Bundle: b, Question: q, Answer: ans}, nil
}

// Session tracks the single active document of one user's session.
type Session struct {
	asm *Assembler

	mu     sync.Mutex
	active string
}

// NewSession creates a Session with no active document.
func NewSession(asm *Assembler) *Session {
	return &Session{asm: asm}
}

// Active returns the active document path, or "" before Open.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Open makes target the active document, creating it when absent. A
// [[Target]] reference resolves relative to the current active document;
// a plain path resolves from the workspace root.
func (s *Session) Open(ctx context.Context, target string) (*models.Document, error) {
	from := ""
	if isReference(target) {
		from = s.Active()
	}
	return s.OpenFrom(ctx, from, target)
}

// OpenFrom makes target, resolved relative to the document at from, the
// active document.
func (s *Session) OpenFrom(ctx context.Context, from, target string) (*models.Document, error) {
	doc, err := s.asm.Open(ctx, from, target)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.active = doc.Path
	s.mu.Unlock()
	return doc, nil
}

// Build assembles the context bundle of the active document.
func (s *Session) Build(ctx context.Context) (*Bundle, error) {
	p := s.Active()
	if p == "" {
		return nil, ErrNoActiveDocument
	}
	return s.asm.Build(ctx, p)
}

// Ask runs one turn against the active document.
func (s *Session) Ask(ctx context.Context, c Collaborator, message string) (*Exchange, error) {
	p := s.Active()
	if p == "" {
		return nil, ErrNoActiveDocument
	}
	return s.asm.Ask(ctx, p, c, message)
}

func isReference(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[[") && strings.HasSuffix(s, "]]")
}
