package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - shape\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "shape" {
		t.Errorf("tags = %v, want [go shape]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestExtractRefs(t *testing.T) {
	body := "Depends on t-1234567 and b-ABCDEF1.2.\nLegacy a-7654321.1, again t-1234567.\nNot x-1234567 or foo-t-1234567 or t-123."
	refs := extractRefs(body)
	want := []string{"t-1234567", "b-abcdef1.2", "b-7654321.1"}
	if len(refs) != len(want) {
		t.Fatalf("refs = %v, want %v", refs, want)
	}
	for i, w := range want {
		if refs[i].String() != w {
			t.Errorf("refs[%d] = %s, want %s", i, refs[i], w)
		}
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{
		"tags": []any{"alpha"},
	}
	body := "Some text #beta and #alpha again."
	tags := extractTags(body, fm)
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	title := deriveTitle(fm, "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestBriefRoundTrip(t *testing.T) {
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	b := models.NewBrief("Checkout v2", "shapeup", at)
	b.Status = models.BriefBetting
	b.Meta = map[string]any{"appetite": "6 weeks"}
	b.Body = "## Problem\nCarts time out.\n"

	data, err := FormatBrief(b)
	if err != nil {
		t.Fatalf("FormatBrief: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\nid: "+b.ID.String()+"\n") {
		t.Errorf("document starts with %q", data[:30])
	}

	back, err := ParseBrief(data)
	if err != nil {
		t.Fatalf("ParseBrief: %v", err)
	}
	if back.ID != b.ID || back.Title != b.Title || back.Type != "shapeup" || back.Status != models.BriefBetting {
		t.Errorf("brief = %+v", back)
	}
	if !back.CreatedAt.Equal(at) || !back.UpdatedAt.Equal(at) {
		t.Errorf("timestamps = %v / %v", back.CreatedAt, back.UpdatedAt)
	}
	if back.Body != b.Body {
		t.Errorf("body = %q", back.Body)
	}
	if back.Meta["appetite"] != "6 weeks" {
		t.Errorf("meta = %v", back.Meta)
	}
}

func TestParseBrief_LegacyIDAndDefaults(t *testing.T) {
	doc := "---\nid: a-1234567\nstatus: in-progress\n---\n# From heading\n"
	b, err := ParseBrief([]byte(doc))
	if err != nil {
		t.Fatalf("ParseBrief: %v", err)
	}
	if b.ID != ident.MustParse("b-1234567") {
		t.Errorf("id = %s", b.ID)
	}
	if b.Title != "From heading" || b.Type != models.DefaultBriefType || b.Status != models.BriefInProgress {
		t.Errorf("brief = %+v", b)
	}
}

func TestParseBrief_Errors(t *testing.T) {
	cases := map[string]string{
		"no frontmatter": "# Title only\n",
		"bad id":         "---\nid: nope\n---\n",
		"task id":        "---\nid: b-1234567.1\n---\n",
		"standalone id":  "---\nid: t-1234567\n---\n",
		"bad status":     "---\nid: b-1234567\nstatus: someday\n---\n",
	}
	for name, doc := range cases {
		if _, err := ParseBrief([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
