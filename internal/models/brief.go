package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/shape/internal/ident"
)

// BriefStatus is the lifecycle state of a brief.
type BriefStatus string

const (
	BriefProposed   BriefStatus = "proposed"
	BriefBetting    BriefStatus = "betting"
	BriefInProgress BriefStatus = "in_progress"
	BriefShipped    BriefStatus = "shipped"
	BriefArchived   BriefStatus = "archived"
)

// ParseBriefStatus accepts the stored names and a few aliases.
func ParseBriefStatus(s string) (BriefStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "proposed":
		return BriefProposed, nil
	case "betting":
		return BriefBetting, nil
	case "in_progress", "in-progress", "inprogress":
		return BriefInProgress, nil
	case "shipped", "done", "complete", "completed":
		return BriefShipped, nil
	case "archived", "cancelled", "canceled":
		return BriefArchived, nil
	}
	return "", fmt.Errorf("unknown brief status %q", s)
}

// IsComplete reports whether the brief is shipped or archived.
func (s BriefStatus) IsComplete() bool {
	return s == BriefShipped || s == BriefArchived
}

// DefaultBriefType is used when a brief is created without a type.
const DefaultBriefType = "minimal"

// Brief is an organizing document that groups tasks. Briefs live as
// Markdown files with YAML frontmatter under the project directory.
type Brief struct {
	ID        ident.ID       `json:"id"`
	Title     string         `json:"title"`
	Type      string         `json:"type"`
	Status    BriefStatus    `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Meta      map[string]any `json:"meta,omitempty"`
	Body      string         `json:"body,omitempty"`
	Checksum  string         `json:"checksum,omitempty"`
}

// NewBrief returns a proposed brief whose id derives from title and at.
func NewBrief(title, briefType string, at time.Time) *Brief {
	at = at.UTC()
	if briefType == "" {
		briefType = DefaultBriefType
	}
	return &Brief{
		ID:        ident.New(title, at),
		Title:     title,
		Type:      briefType,
		Status:    BriefProposed,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// SetStatus transitions the brief. It reports whether anything changed.
func (b *Brief) SetStatus(s BriefStatus, at time.Time) bool {
	if b.Status == s {
		return false
	}
	b.Status = s
	b.UpdatedAt = at.UTC()
	return true
}

// FileName is the on-disk name of the brief document.
func (b *Brief) FileName() string {
	return b.ID.String() + ".md"
}
