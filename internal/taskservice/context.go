package taskservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/graph"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

// contextBodyLimit caps brief bodies in the full export.
const contextBodyLimit = 500

// ContextRequest shapes a context export. Days defaults to 7.
type ContextRequest struct {
	// Compact renders tasks as "id: title" strings.
	Compact bool
	Brief   ident.ID
	Days    int
}

// ContextExport is a snapshot of the project sized for an agent's
// context window.
type ContextExport struct {
	Briefs            []ContextBrief     `json:"briefs"`
	Ready             []ContextTask      `json:"ready"`
	InProgress        []ContextTask      `json:"in_progress"`
	Blocked           []ContextTask      `json:"blocked"`
	RecentlyCompleted []ContextTask      `json:"recently_completed"`
	Compacted         []CompactedSummary `json:"compacted"`
	Standalone        struct {
		Ready      []ContextTask `json:"ready"`
		InProgress []ContextTask `json:"in_progress"`
		Blocked    []ContextTask `json:"blocked"`
	} `json:"standalone_tasks"`
	Summary struct {
		Briefs          int `json:"total_briefs"`
		Tasks           int `json:"total_tasks"`
		StandaloneTasks int `json:"standalone_tasks"`
		Ready           int `json:"ready_count"`
		Blocked         int `json:"blocked_count"`
		InProgress      int `json:"in_progress_count"`
		CompactedGroups int `json:"compacted_groups"`
	} `json:"summary"`
}

// ContextBrief is a brief in the export. Type and Body are left out of
// compact exports.
type ContextBrief struct {
	ID     ident.ID `json:"id"`
	Title  string   `json:"title"`
	Type   string   `json:"type,omitempty"`
	Status string   `json:"status"`
	Body   string   `json:"body,omitempty"`
}

// ContextDep is an incomplete dependency of a blocked task.
type ContextDep struct {
	ID     ident.ID      `json:"id"`
	Title  string        `json:"title,omitempty"`
	Status models.Status `json:"status,omitempty"`
}

// ContextTask is a task in the export. In compact exports it encodes as a
// single "id: title" string.
type ContextTask struct {
	ID          ident.ID     `json:"id"`
	Title       string       `json:"title"`
	Standalone  bool         `json:"standalone"`
	Brief       string       `json:"brief,omitempty"`
	Description *string      `json:"description,omitempty"`
	Meta        models.Meta  `json:"meta,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	ClaimedBy   string       `json:"claimed_by,omitempty"`
	BlockedBy   []ContextDep `json:"blocked_by,omitempty"`

	compact bool
}

type contextTaskJSON ContextTask

// MarshalJSON implements json.Marshaler.
func (c ContextTask) MarshalJSON() ([]byte, error) {
	if !c.compact {
		return json.Marshal(contextTaskJSON(c))
	}
	line := c.ID.String() + ": " + c.Title
	if len(c.BlockedBy) > 0 {
		deps := make([]string, len(c.BlockedBy))
		for i, d := range c.BlockedBy {
			deps[i] = d.ID.String()
		}
		line += " (blocked by " + strings.Join(deps, ", ") + ")"
	}
	return json.Marshal(line)
}

// CompactedSummary is a compaction representative in the export.
type CompactedSummary struct {
	ID          ident.ID   `json:"id"`
	Summary     string     `json:"summary"`
	TaskCount   int        `json:"task_count"`
	TaskIDs     []ident.ID `json:"task_ids,omitempty"`
	Brief       string     `json:"brief,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Context exports briefs and tasks grouped by what an agent can act on.
// Compacted tasks appear only through their representative's summary.
func (s *Service) Context(ctx context.Context, req ContextRequest) (*ContextExport, error) {
	if req.Days <= 0 {
		req.Days = 7
	}
	var briefs []*models.Brief
	if req.Brief.IsZero() {
		all, err := s.ListBriefs(ctx)
		if err != nil {
			return nil, err
		}
		briefs = all
	} else {
		if req.Brief.Kind() != ident.KindBrief || !req.Brief.IsRoot() {
			return nil, fmt.Errorf("%w: %s is not a brief", apperr.ErrInvalidInput, req.Brief)
		}
		b, err := s.briefs.Get(req.Brief)
		if err != nil {
			return nil, err
		}
		briefs = []*models.Brief{b}
	}

	tasks, g, err := s.load()
	if err != nil {
		return nil, err
	}
	statuses := models.Statuses(tasks)
	ready := idSet(g.Ready(statuses))
	blocked := idSet(g.Blocked(statuses))
	cutoff := s.clock().Add(-time.Duration(req.Days) * 24 * time.Hour)

	out := &ContextExport{
		Briefs:            make([]ContextBrief, 0, len(briefs)),
		Ready:             []ContextTask{},
		InProgress:        []ContextTask{},
		Blocked:           []ContextTask{},
		RecentlyCompleted: []ContextTask{},
		Compacted:         []CompactedSummary{},
	}
	out.Standalone.Ready = []ContextTask{}
	out.Standalone.InProgress = []ContextTask{}
	out.Standalone.Blocked = []ContextTask{}
	for _, b := range briefs {
		cb := ContextBrief{ID: b.ID, Title: b.Title, Status: string(b.Status)}
		if !req.Compact {
			cb.Type = b.Type
			cb.Body = truncate(b.Body, contextBodyLimit)
		}
		out.Briefs = append(out.Briefs, cb)
	}
	out.Summary.Briefs = len(out.Briefs)

	for _, id := range models.SortedIDs(tasks) {
		t := tasks[id]
		if !req.Brief.IsZero() {
			if owner, ok := id.Brief(); !ok || owner != req.Brief {
				continue
			}
		}
		out.Summary.Tasks++
		if id.IsStandalone() {
			out.Summary.StandaloneTasks++
		}

		switch {
		case t.IsCompactionRepresentative():
			out.Compacted = append(out.Compacted, s.compactedSummary(t, req.Compact))
		case t.Status.IsComplete():
			if !t.IsCompacted() && t.CompletedAt != nil && t.CompletedAt.After(cutoff) {
				ct := s.contextTask(t, req.Compact)
				ct.CompletedAt = t.CompletedAt
				out.RecentlyCompleted = append(out.RecentlyCompleted, ct)
			}
		case t.Status.IsActive():
			ct := s.contextTask(t, req.Compact)
			ct.StartedAt = &t.UpdatedAt
			ct.ClaimedBy = t.ClaimHolder()
			out.InProgress = append(out.InProgress, ct)
			if id.IsStandalone() {
				out.Standalone.InProgress = append(out.Standalone.InProgress, ct)
			}
		}
		if ready[id] {
			ct := s.contextTask(t, req.Compact)
			out.Ready = append(out.Ready, ct)
			if id.IsStandalone() {
				out.Standalone.Ready = append(out.Standalone.Ready, ct)
			}
		}
		if blocked[id] {
			ct := s.contextTask(t, req.Compact)
			ct.BlockedBy = blockedBy(g, id, tasks, statuses)
			ct.Description, ct.Meta = nil, nil
			out.Blocked = append(out.Blocked, ct)
			if id.IsStandalone() {
				out.Standalone.Blocked = append(out.Standalone.Blocked, ct)
			}
		}
	}
	out.Summary.Ready = len(out.Ready)
	out.Summary.Blocked = len(out.Blocked)
	out.Summary.InProgress = len(out.InProgress)
	out.Summary.CompactedGroups = len(out.Compacted)
	return out, nil
}

func (s *Service) contextTask(t *models.Task, compact bool) ContextTask {
	ct := ContextTask{ID: t.ID, Title: t.Title, Standalone: t.ID.IsStandalone(), compact: compact}
	if b, ok := t.ID.Brief(); ok {
		ct.Brief = b.String()
	}
	if !compact {
		ct.Description = t.Description
		ct.Meta = t.Meta
	}
	return ct
}

func (s *Service) compactedSummary(t *models.Task, compact bool) CompactedSummary {
	cs := CompactedSummary{ID: t.ID, TaskCount: len(t.CompactedTasks), CompletedAt: t.CompletedAt}
	if t.Summary != nil {
		cs.Summary = *t.Summary
	}
	if !compact {
		cs.TaskIDs = t.CompactedTasks
		if b, ok := t.ID.Brief(); ok {
			cs.Brief = b.String()
		}
	}
	return cs
}

func blockedBy(g *graph.Graph, id ident.ID, tasks map[ident.ID]*models.Task, statuses map[ident.ID]models.Status) []ContextDep {
	deps := blockers(g, id, statuses)
	out := make([]ContextDep, 0, len(deps))
	for _, dep := range deps {
		cd := ContextDep{ID: dep}
		if t, ok := tasks[dep]; ok {
			cd.Title, cd.Status = t.Title, t.Status
		}
		out = append(out, cd)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
