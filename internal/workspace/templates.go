package workspace

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DefaultAgent is the agent applied when a document names none.
const DefaultAgent = "default"

type template struct {
	path    string
	content string
}

var defaultTemplates = []template{
	{path: path.Join(AgentsDir, "default.md"), content: `---
name: default
description: General-purpose assistant for any document
version: 0.1.0
---

# Default Agent

You are a helpful assistant working alongside the user on the active document.
Use the document, its related documents and the conversation so far as context.

- Keep answers short and direct.
- Ask a clarifying question when the request is ambiguous.
- Suggest a more specific agent or doctype when one would fit better.
`},
	{path: path.Join(AgentsDir, "writer.md"), content: `---
name: writer
description: Editing partner focused on clarity, structure and style
version: 0.1.0
capabilities:
  - edit
  - review
---

# Writer Agent

You help the user write and revise prose.

- Improve clarity and flow before polishing wording.
- Point out structural problems and propose a better outline.
- Keep tone and terminology consistent across the document.
- Flag grammar issues with a suggested correction.
`},
	{path: path.Join(DocTypesDir, "meeting_notes.md"), content: `---
name: meeting_notes
description: Notes and outcomes of a meeting
version: 0.1.0
---

# Meeting Notes

A meeting notes document records who met, what was discussed and what happens next.

## Sections

1. **Details**: date, time, participants, purpose.
2. **Discussion**: topics, decisions, open questions.
3. **Action items**: owner and due date for each task, as checkboxes.
4. **Next steps**: follow-up meetings and milestones.
`},
	{path: path.Join(DocTypesDir, "brainstorming.md"), content: `---
name: brainstorming
description: Free-form ideation to be refined later
version: 0.1.0
---

# Brainstorming

A brainstorming document collects ideas quickly and sorts them afterwards.

## Sections

1. **Problem**: the question being explored and its constraints.
2. **Ideas**: an unfiltered list; link related notes with [[wikilinks]].
3. **Shortlist**: ideas worth a deeper look and how to test them.

Favour quantity first and evaluation later.
`},
	{path: path.Join(WorkflowsDir, "document_review.md"), content: `---
name: document_review
description: Staged review of an existing document
version: 0.1.0
---

# Document Review

Reference this workflow from a document with ` + "`workflow: document_review`" + `.

1. **Assess**: identify the document's purpose and audience.
2. **Content**: check completeness, accuracy and logical order.
3. **Language**: tighten wording, fix grammar, align terminology.
4. **Finalize**: apply agreed changes and bump the version.

Track progress with checkboxes such as ` + "`- [x] Assess`" + `.
`},
}

type newDocumentMeta struct {
	Title     string `yaml:"title"`
	CreatedAt string `yaml:"created_at"`
}

// NewDocument returns the initial content for a document created at p.
func NewDocument(p string, now time.Time) []byte {
	title := TitleFromPath(p)
	meta, err := yaml.Marshal(newDocumentMeta{
		Title:     title,
		CreatedAt: now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return []byte(fmt.Sprintf("# %s\n\n", title))
	}
	return []byte(fmt.Sprintf("---\n%s---\n\n# %s\n\n", meta, title))
}

// TitleFromPath derives a human title from a document path stem.
func TitleFromPath(p string) string {
	stem := strings.TrimSuffix(path.Base(p), path.Ext(p))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	words := strings.Fields(stem)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
