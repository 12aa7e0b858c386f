package mcpserver

// DocumentFormatContract describes the Markdown document format that LLM
// consumers should follow when reading or writing workspace documents.
const DocumentFormatContract = `# Folio Document Format Contract

Every document in a folio workspace is a Markdown file ending in ` + "`" + `.md` + "`" + `.

## Structure

` + "```" + `markdown
---
title: Human-readable title        # OPTIONAL – defaults to the file name
agent: writer                      # OPTIONAL – agent definition to apply
doctype: meeting_notes             # OPTIONAL – doctype definition to apply
workflow: document_review          # OPTIONAL – workflow definition to apply
---

Body text in standard Markdown.

Use [[Target]] to reference other documents (without .md extension).
Use [[Target|Alias]] for display text that differs from the target.
` + "```" + `

## Rules

1. **Front-matter is optional.** When present the ` + "```" + `---` + "```" + ` fence must be the
   first line of the file and the block must be a YAML mapping.
2. **References** use double brackets. The target is a path relative to the
   referring document's folder; a target starting with ` + "`" + `/` + "`" + ` is relative to
   the workspace root. Matching is case-insensitive.
3. **Missing targets** are listed as missing in the context. They are only
   created when opened explicitly with the ` + "`" + `open_document` + "`" + ` tool.
4. **Definitions** live in ` + "`" + `.folio/meta/agents` + "`" + `, ` + "`" + `.folio/meta/doctypes` + "`" + ` and
   ` + "`" + `.folio/meta/workflows` + "`" + `. Each carries a ` + "`" + `name` + "`" + ` key; the body is the guidance.
5. **Unknown agent, doctype or workflow names** are reported as warnings and
   the default agent applies.
6. **Encoding** is UTF-8 with a trailing newline. Paths use forward slashes.

## Example

` + "```" + `markdown
---
title: Weekly sync 2026-01-20
agent: writer
doctype: meeting_notes
---

# Weekly sync 2026-01-20

Follow-ups from [[Planning]] and [[/projects/roadmap|the roadmap]].
` + "```" + `
`
