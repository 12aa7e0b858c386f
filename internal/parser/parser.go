// Package parser extracts front-matter and [[references]] from Markdown content.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/models"
)

// Delimiter opens and closes a front-matter block.
const Delimiter = "---"

// referenceRe matches the innermost well-formed [[...]] on a single line, so
// nested and unterminated brackets never produce a match.
var referenceRe = regexp.MustCompile(`\[\[([^\[\]\n]*)\]\]`)

// Result holds the output of parsing a Markdown document.
type Result struct {
	FrontMatter map[string]any
	Body        string
	References  []models.Reference
	Title       string
}

// FrontMatterError reports a front-matter block that is not a YAML mapping.
type FrontMatterError struct {
	Span string // raw text between the delimiters
	Line int    // 1-based line in the document, 0 when unknown
	Err  error
}

func (e *FrontMatterError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("front-matter line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("front-matter: %v", e.Err)
}

func (e *FrontMatterError) Unwrap() []error {
	return []error{apperr.ErrMetadataParse, e.Err}
}

// Parse splits front-matter from the body and extracts references and title.
// On a malformed front-matter block it returns a *FrontMatterError and no result.
func Parse(raw string) (*Result, error) {
	fm, body, err := ParseFrontMatter(raw)
	if err != nil {
		return nil, err
	}
	return &Result{
		FrontMatter: fm,
		Body:        body,
		References:  ExtractReferences(body),
		Title:       DeriveTitle(fm, body),
	}, nil
}

// ParseFrontMatter separates the YAML block delimited by --- lines at the very
// start of raw from the body. Without an opening and closing delimiter the
// metadata is empty and the body is raw unchanged.
func ParseFrontMatter(raw string) (map[string]any, string, error) {
	block, body, ok := splitFrontMatter(raw)
	if !ok {
		return map[string]any{}, raw, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(block), &node); err != nil {
		return nil, "", &FrontMatterError{Span: block, Line: yamlErrLine(err), Err: err}
	}
	// Empty block.
	if node.Kind == 0 || (node.Kind == yaml.DocumentNode && len(node.Content) == 0) {
		return map[string]any{}, body, nil
	}
	root := &node
	if root.Kind == yaml.DocumentNode {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, "", &FrontMatterError{
			Span: block,
			Line: root.Line + 1,
			Err:  errors.New("expected a mapping of keys to values"),
		}
	}
	fm := map[string]any{}
	if err := root.Decode(&fm); err != nil {
		return nil, "", &FrontMatterError{Span: block, Line: yamlErrLine(err), Err: err}
	}
	return fm, body, nil
}

// splitFrontMatter returns the block between the first two delimiter lines and
// the text after the closing one.
func splitFrontMatter(raw string) (block, body string, ok bool) {
	first, rest, found := strings.Cut(raw, "\n")
	if !found || strings.TrimRight(first, " \t\r") != Delimiter {
		return "", "", false
	}

	offset := 0
	for offset <= len(rest) {
		line, after, more := strings.Cut(rest[offset:], "\n")
		if strings.TrimRight(line, " \t\r") == Delimiter {
			block = rest[:offset]
			if more {
				body = after
			}
			return block, strings.TrimLeft(body, "\r\n"), true
		}
		if !more {
			break
		}
		offset += len(line) + 1
	}
	return "", "", false
}

// yamlErrLine maps a yaml.v3 error line (relative to the block) to a document
// line, accounting for the opening delimiter.
func yamlErrLine(err error) int {
	var line int
	msg := err.Error()
	if i := strings.Index(msg, "line "); i >= 0 {
		if _, scanErr := fmt.Sscanf(msg[i:], "line %d", &line); scanErr == nil {
			return line + 1
		}
	}
	return 0
}

// ExtractReferences returns every [[Target]] and [[Target|Alias]] in body, in
// order of appearance with duplicates kept. Empty targets are skipped.
func ExtractReferences(body string) []models.Reference {
	matches := referenceRe.FindAllStringSubmatchIndex(body, -1)
	out := make([]models.Reference, 0, len(matches))
	for _, m := range matches {
		inner := body[m[2]:m[3]]
		target, alias, _ := strings.Cut(inner, "|")
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		out = append(out, models.Reference{
			Target: target,
			Alias:  strings.TrimSpace(alias),
			Offset: m[0],
		})
	}
	return out
}

// DeriveTitle returns the front-matter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func DeriveTitle(fm map[string]any, body string) string {
	if t, ok := fm["title"].(string); ok && t != "" {
		return t
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// String returns a string front-matter value; ok is false when key is absent.
// A present key holding a non-string value reports ok=true with valid=false.
func String(fm map[string]any, key string) (value string, ok, valid bool) {
	raw, ok := fm[key]
	if !ok || raw == nil {
		return "", false, false
	}
	s, valid := raw.(string)
	return strings.TrimSpace(s), true, valid
}

// Strings returns a sequence front-matter value as strings, accepting a
// single scalar or comma-separated string too.
func Strings(fm map[string]any, key string) []string {
	switch v := fm[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
