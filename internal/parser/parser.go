// Package parser reads and renders brief documents: Markdown with a YAML
// frontmatter block.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

var (
	refRe = regexp.MustCompile(`(?:^|[^\w-])((?:[abt])-[0-9a-fA-F]{7}(?:\.[1-9][0-9]*)*)\b`)
	tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Refs        []ident.ID
	Tags        []string
	Title       string
}

// Parse extracts frontmatter, body, task references and tags from raw
// Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Refs:        extractRefs(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}, nil
}

// frontmatter is the stored header of a brief.
type frontmatter struct {
	ID        string         `yaml:"id"`
	Title     string         `yaml:"title"`
	Type      string         `yaml:"type"`
	Status    string         `yaml:"status"`
	CreatedAt time.Time      `yaml:"created_at"`
	UpdatedAt time.Time      `yaml:"updated_at"`
	Meta      map[string]any `yaml:"meta,omitempty"`
}

// ParseBrief decodes a brief document. Unlike Parse it requires a valid
// frontmatter block with an id.
func ParseBrief(data []byte) (*models.Brief, error) {
	block, body, ok := cutFrontmatter(data)
	if !ok {
		return nil, fmt.Errorf("parser: brief has no frontmatter")
	}
	var fm frontmatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, fmt.Errorf("parser: brief frontmatter: %w", err)
	}
	id, err := ident.Parse(fm.ID)
	if err != nil {
		return nil, fmt.Errorf("parser: brief id: %w", err)
	}
	if id.Kind() != ident.KindBrief || !id.IsRoot() {
		return nil, fmt.Errorf("parser: %s is not a brief id", id)
	}
	status, err := models.ParseBriefStatus(fm.Status)
	if err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}
	title := fm.Title
	if title == "" {
		title = deriveTitle(nil, body)
	}
	briefType := fm.Type
	if briefType == "" {
		briefType = models.DefaultBriefType
	}
	return &models.Brief{
		ID:        id,
		Title:     title,
		Type:      briefType,
		Status:    status,
		CreatedAt: fm.CreatedAt.UTC(),
		UpdatedAt: fm.UpdatedAt.UTC(),
		Meta:      fm.Meta,
		Body:      body,
	}, nil
}

// FormatBrief renders b as a Markdown document with frontmatter.
func FormatBrief(b *models.Brief) ([]byte, error) {
	fm := frontmatter{
		ID:        b.ID.String(),
		Title:     b.Title,
		Type:      b.Type,
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt.UTC(),
		UpdatedAt: b.UpdatedAt.UTC(),
		Meta:      b.Meta,
	}
	head, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("parser: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n")
	if b.Body != "" {
		buf.WriteString("\n")
		buf.WriteString(b.Body)
		if !strings.HasSuffix(b.Body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// cutFrontmatter splits the YAML block between the leading --- delimiters
// from the body.
func cutFrontmatter(data []byte) (block []byte, body string, ok bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), false
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), false
	}

	block = rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	return block, strings.TrimLeft(string(afterDelim), "\n\r"), true
}

// splitFrontmatter separates YAML frontmatter from the Markdown body. If no
// frontmatter is found, or it is not valid YAML, the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	block, body, ok := cutFrontmatter(data)
	if !ok {
		return nil, string(data), nil
	}

	var fm map[string]interface{}
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractRefs returns the deduplicated task and brief ids mentioned in body.
func extractRefs(body string) []ident.ID {
	matches := refRe.FindAllStringSubmatch(body, -1)
	seen := make(map[ident.ID]struct{}, len(matches))
	var out []ident.ID
	for _, m := range matches {
		id, err := ident.Parse(m[1])
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}

	if items, ok := fm["tags"].([]interface{}); ok {
		for _, item := range items {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
