package assembler

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/history"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/registry"
)

// Related is one document referenced by the active document.
type Related struct {
	Reference  models.Reference  `json:"reference"`
	Resolution models.Resolution `json:"resolution"`
	Title      string            `json:"title,omitempty"`
	Excerpt    string            `json:"excerpt,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
}

// Truncation records what was trimmed to keep a bundle under the size cap.
type Truncation struct {
	ExcerptsTrimmed int  `json:"excerpts_trimmed"`
	HistoryDropped  int  `json:"history_dropped"`
	Oversize        bool `json:"oversize"`
}

// Bundle is the context handed to the collaborator for one turn. It is built
// fresh for every turn and never persisted.
type Bundle struct {
	Path        string                   `json:"path"`
	Created     bool                     `json:"created"`
	Title       string                   `json:"title,omitempty"`
	Content     string                   `json:"content"`
	Body        string                   `json:"body"`
	FrontMatter map[string]any           `json:"front_matter"`
	Degraded    bool                     `json:"degraded,omitempty"`
	Config      registry.EffectiveConfig `json:"config"`
	History     []history.Entry          `json:"history"`
	Related     []Related                `json:"related"`
	Warnings    []apperr.Warning         `json:"warnings,omitempty"`
	Truncation  Truncation               `json:"truncation"`
}

// SystemInstructions returns the resolved agent, doctype and workflow guidance.
func (b *Bundle) SystemInstructions() string {
	return b.Config.Instructions
}

// Render returns the Markdown context text: the active document verbatim,
// then related documents, then the conversation history, oldest first.
func (b *Bundle) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Active document: %s\n\n", b.Path)
	sb.WriteString(b.Content)
	if !strings.HasSuffix(b.Content, "\n") {
		sb.WriteByte('\n')
	}

	if len(b.Related) > 0 {
		sb.WriteString("\n## Related documents\n\n")
		for _, r := range b.Related {
			if !r.Resolution.Exists() {
				fmt.Fprintf(&sb, "### [[%s]] (missing)\n\n", r.Resolution.Name)
				continue
			}
			fmt.Fprintf(&sb, "### [[%s]] (%s)\n\n", r.Reference.Target, r.Resolution.Path)
			if r.Excerpt != "" {
				sb.WriteString(r.Excerpt)
				sb.WriteString("\n\n")
			}
		}
	}

	if len(b.History) > 0 {
		sb.WriteString("\n## Conversation history\n\n")
		for _, e := range b.History {
			fmt.Fprintf(&sb, "**%s** (%s):\n%s\n\n", e.Role, e.Timestamp.Format(time.RFC3339), e.Text)
		}
	}
	return sb.String()
}

// Size returns the rendered size in bytes.
func (b *Bundle) Size() int {
	return len(b.Render())
}

// fit shrinks the bundle to at most limit bytes: excerpts are cut from the
// last related document backwards, then the oldest history entries are
// dropped. The active document is never cut.
func (b *Bundle) fit(limit int) {
	if limit <= 0 {
		return
	}
	for i := len(b.Related) - 1; i >= 0; i-- {
		over := b.Size() - limit
		if over <= 0 {
			return
		}
		r := &b.Related[i]
		if r.Excerpt == "" {
			continue
		}
		r.Excerpt = dropTail(r.Excerpt, over)
		r.Truncated = true
		b.Truncation.ExcerptsTrimmed++
	}
	for len(b.History) > 0 && b.Size() > limit {
		b.History = b.History[1:]
		b.Truncation.HistoryDropped++
	}
	if size := b.Size(); size > limit {
		b.Truncation.Oversize = true
		b.Warnings = append(b.Warnings, apperr.Warnf(b.Path,
			"context is %d bytes, over the %d byte limit; the active document is never truncated", size, limit))
	}
}

// dropTail removes at least n bytes from the end of s on a rune boundary.
func dropTail(s string, n int) string {
	k := len(s) - n
	if k <= 0 {
		return ""
	}
	for k > 0 && !utf8.RuneStart(s[k]) {
		k--
	}
	return strings.TrimRight(s[:k], " \t\r\n")
}

// excerpt returns the first n runes of text.
func excerpt(text string, n int) (string, bool) {
	text = strings.TrimSpace(text)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text, false
	}
	i := 0
	for pos := range text {
		if i == n {
			return strings.TrimRight(text[:pos], " \t\r\n"), true
		}
		i++
	}
	return text, false
}
