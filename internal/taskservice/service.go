// Package taskservice is the layer between the outer surfaces (CLI, HTTP,
// MCP) and the record store. Every query rebuilds the dependency graph
// from the current records.
package taskservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/graph"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/index"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/storage"
)

// TaskDetail is the full representation of a task.
type TaskDetail struct {
	Task *models.Task `json:"task"`
	// Ready is true when the task can be started now.
	Ready bool `json:"ready"`
	// BlockedBy lists incomplete or unknown blocking dependencies.
	BlockedBy    []ident.ID `json:"blocked_by"`
	Dependents   []ident.ID `json:"dependents"`
	Subtasks     []ident.ID `json:"subtasks"`
	ReferencedBy []ident.ID `json:"referenced_by"`
}

// BlockedTask pairs a blocked task with what it waits on.
type BlockedTask struct {
	Task      *models.Task `json:"task"`
	BlockedBy []ident.ID   `json:"blocked_by"`
}

// AddTaskRequest describes a new task.
type AddTaskRequest struct {
	Title       string
	Description string
	// Parent is a brief (the task becomes its next child), an existing
	// task (the task becomes a subtask), or zero for a standalone task.
	Parent ident.ID
	// DependsOn lists blocking dependencies.
	DependsOn []ident.ID
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Status models.Status
	Brief  ident.ID
	// Pattern is a glob matched against the canonical id, e.g. "b-1a2b3c4.*".
	Pattern string
}

// Service coordinates the task file, brief documents and the cache.
type Service struct {
	tasks  *storage.TaskStore
	briefs *storage.BriefStore
	docs   storage.Provider
	db     *index.DB
	logger *slog.Logger
	now    func() time.Time
	agent  string

	claimTimeout time.Duration
	autoUnclaim  bool
}

// DefaultClaimTimeout is how long a claim holds unless configured.
const DefaultClaimTimeout = 4 * time.Hour

// New creates a service over the stores. The cache is optional; see
// WithIndex.
func New(tasks *storage.TaskStore, docs storage.Provider, opts ...Option) *Service {
	s := &Service{
		tasks:  tasks,
		briefs: storage.NewBriefStore(docs),
		docs:   docs,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,

		claimTimeout: DefaultClaimTimeout,
		autoUnclaim:  true,
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// CreateBrief writes a new brief document.
func (s *Service) CreateBrief(_ context.Context, title, briefType string) (*models.Brief, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	}
	b := models.NewBrief(title, briefType, s.clock())
	if _, err := s.briefs.Get(b.ID); err == nil {
		return nil, fmt.Errorf("brief %s: %w", b.ID, apperr.ErrAlreadyExists)
	}
	if err := s.briefs.Save(b); err != nil {
		return nil, err
	}
	s.logger.Info("brief created", slog.String("id", b.ID.String()), slog.String("agent", s.agent))
	return b, nil
}

// GetBrief reads one brief.
func (s *Service) GetBrief(_ context.Context, id ident.ID) (*models.Brief, error) {
	return s.briefs.Get(id)
}

// ListBriefs returns every readable brief; unreadable documents are
// logged and skipped.
func (s *Service) ListBriefs(_ context.Context) ([]*models.Brief, error) {
	out, bad, err := s.briefs.List()
	if err != nil {
		return nil, err
	}
	for _, e := range bad {
		s.logger.Warn("skipping brief", slog.String("error", e.Error()))
	}
	return out, nil
}

// BriefSummaries returns cached briefs with their task rollup counts,
// optionally narrowed to one status.
func (s *Service) BriefSummaries(_ context.Context, status string) ([]index.BriefRow, error) {
	if s.db == nil {
		return nil, fmt.Errorf("brief summaries: %w", apperr.ErrNotInitialized)
	}
	if status != "" {
		st, err := models.ParseBriefStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
		}
		status = string(st)
	}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.db.ListBriefs(status)
}

// SetBriefStatus moves a brief through its lifecycle.
func (s *Service) SetBriefStatus(_ context.Context, id ident.ID, status models.BriefStatus) (*models.Brief, error) {
	b, err := s.briefs.Get(id)
	if err != nil {
		return nil, err
	}
	if b.SetStatus(status, s.clock()) {
		if err := s.briefs.Save(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// AddTask creates a task under req.Parent.
func (s *Service) AddTask(_ context.Context, req AddTaskRequest) (*models.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	}
	at := s.clock()

	if !req.Parent.IsZero() && req.Parent.Kind() == ident.KindBrief && req.Parent.IsRoot() {
		if _, err := s.briefs.Get(req.Parent); err != nil {
			return nil, err
		}
	}

	var created *models.Task
	err := s.tasks.Update(func(tasks map[ident.ID]*models.Task) error {
		var id ident.ID
		switch {
		case req.Parent.IsZero():
			id = ident.NewStandalone(title, at)
		default:
			if !(req.Parent.IsRoot() && req.Parent.Kind() == ident.KindBrief) {
				if _, ok := tasks[req.Parent]; !ok {
					return fmt.Errorf("parent %s: %w", req.Parent, apperr.ErrNotFound)
				}
			}
			child, err := ident.ChildChecked(req.Parent, nextSeq(tasks, req.Parent))
			if err != nil {
				return err
			}
			id = child
		}
		if _, ok := tasks[id]; ok {
			return fmt.Errorf("task %s: %w", id, apperr.ErrAlreadyExists)
		}

		t := models.NewTask(id, title, at)
		if req.Description != "" {
			t.SetDescription(req.Description, at)
		}
		for _, dep := range req.DependsOn {
			if _, ok := tasks[dep]; !ok {
				return fmt.Errorf("dependency %s: %w", dep, apperr.ErrNotFound)
			}
			t.AddDependency(models.Blocks(dep), at)
		}
		if s.agent != "" {
			if err := t.SetMeta("created_by", s.agent, at); err != nil {
				return err
			}
		}
		t.Record(models.EventCreated, s.agent, nil, at)
		tasks[id] = t
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task added", slog.String("id", created.ID.String()), slog.String("agent", s.agent))
	return created, nil
}

// nextSeq returns one past the highest child sequence under parent.
func nextSeq(tasks map[ident.ID]*models.Task, parent ident.ID) uint32 {
	var highest uint32
	for id := range tasks {
		p, ok := id.Parent()
		if !ok || p != parent {
			continue
		}
		segs := id.Segments()
		if last := segs[len(segs)-1]; last > highest {
			highest = last
		}
	}
	return highest + 1
}

// mutate applies fn to one task under the store's exclusive lock.
// fn also sees the whole collection for cross-record checks.
func (s *Service) mutate(id ident.ID, op string, fn func(t *models.Task, tasks map[ident.ID]*models.Task, at time.Time) error) (*models.Task, error) {
	var out *models.Task
	err := s.tasks.Update(func(tasks map[ident.ID]*models.Task) error {
		t, ok := tasks[id]
		if !ok {
			return fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
		}
		if err := fn(t, tasks, s.clock()); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("task updated", slog.String("id", id.String()), slog.String("op", op), slog.String("agent", s.agent))
	return out, nil
}

// Start marks a task in progress.
func (s *Service) Start(_ context.Context, id ident.ID) (*models.Task, error) {
	return s.mutate(id, "start", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if t.Start(at) {
			t.Record(models.EventStarted, s.agent, nil, at)
		}
		return nil
	})
}

// Complete marks a task done.
func (s *Service) Complete(_ context.Context, id ident.ID) (*models.Task, error) {
	return s.mutate(id, "complete", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if !t.Complete(at) {
			return nil
		}
		t.Record(models.EventCompleted, s.agent, nil, at)
		if s.autoUnclaim {
			t.Unclaim("", at)
		}
		return nil
	})
}

// Reopen moves a done task back to todo.
func (s *Service) Reopen(_ context.Context, id ident.ID) (*models.Task, error) {
	return s.mutate(id, "reopen", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if t.Reopen(at) {
			t.Record(models.EventReopened, s.agent, nil, at)
		}
		return nil
	})
}

// SetTitle renames a task.
func (s *Service) SetTitle(_ context.Context, id ident.ID, title string) (*models.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	}
	return s.mutate(id, "title", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if t.Title != title {
			t.SetTitle(title, at)
		}
		return nil
	})
}

// SetDescription replaces the description.
func (s *Service) SetDescription(_ context.Context, id ident.ID, desc string) (*models.Task, error) {
	return s.mutate(id, "description", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if t.DescriptionText() != desc || t.Description == nil {
			t.SetDescription(desc, at)
		}
		return nil
	})
}

// SetMeta stores a metadata value. A nil value removes the key.
func (s *Service) SetMeta(_ context.Context, id ident.ID, key string, value any) (*models.Task, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: meta key is required", apperr.ErrInvalidInput)
	}
	return s.mutate(id, "meta", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if value == nil {
			t.RemoveMeta(key, at)
			return nil
		}
		if err := t.SetMeta(key, value, at); err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
		}
		return nil
	})
}

// AddDependency records that dependent depends on dependency. Blocking
// edges are checked against the graph: self-dependencies and cycles are
// rejected without touching the store.
func (s *Service) AddDependency(_ context.Context, dependent, dependency ident.ID, typ models.DependencyType) (*models.Task, error) {
	if typ == "" {
		typ = models.DepBlocks
	}
	return s.mutate(dependent, "dep", func(t *models.Task, tasks map[ident.ID]*models.Task, at time.Time) error {
		if err := s.checkEdge(tasks, dependent, dependency, typ); err != nil {
			return err
		}
		t.AddDependency(models.Dependency{Task: dependency, Type: typ}, at)
		return nil
	})
}

// checkEdge validates a new edge against the current collection. Blocking
// edges are tried on a graph rebuilt from the records. Stored edges the
// graph had to drop (a cycle left by a merge) still count: a new edge
// that closes a loop through one of them is rejected too.
func (s *Service) checkEdge(tasks map[ident.ID]*models.Task, dependent, dependency ident.ID, typ models.DependencyType) error {
	if dependent == dependency {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidInput,
			&graph.Error{Kind: graph.ErrSelfDependency, Dependent: dependent, Dependency: dependency})
	}
	if _, ok := tasks[dependency]; !ok {
		return fmt.Errorf("dependency %s: %w", dependency, apperr.ErrNotFound)
	}
	if !typ.AffectsReadiness() {
		return nil
	}
	g, err := graph.FromTasks(values(tasks))
	if err != nil {
		s.logger.Warn("ignoring cyclic dependencies", slog.String("error", err.Error()))
		if dependsOn(tasks, dependency, dependent) {
			return fmt.Errorf("%w: %w", apperr.ErrConflict,
				&graph.Error{Kind: graph.ErrCycleDetected, Dependent: dependent, Dependency: dependency})
		}
	}
	err = g.AddEdge(dependent, dependency)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, graph.ErrCycleDetected):
		return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
	case errors.Is(err, graph.ErrUnknownNode):
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
}

// dependsOn reports whether from reaches to by following stored blocking
// edges, including ones the graph dropped.
func dependsOn(tasks map[ident.ID]*models.Task, from, to ident.ID) bool {
	seen := map[ident.ID]bool{from: true}
	stack := []ident.ID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		t, ok := tasks[id]
		if !ok {
			continue
		}
		for _, next := range t.DependsOn.Blocking() {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// RemoveDependency drops the edge (of typ, or every type when typ is empty).
func (s *Service) RemoveDependency(_ context.Context, dependent, dependency ident.ID, typ models.DependencyType) (*models.Task, error) {
	return s.mutate(dependent, "undep", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if !t.RemoveDependency(dependency, typ, at) {
			return fmt.Errorf("dependency %s on %s: %w", dependent, dependency, apperr.ErrNotFound)
		}
		return nil
	})
}

// load reads every task and builds the graph over them. Stored cycles are
// logged; the affected edges are left out of the graph.
func (s *Service) load() (map[ident.ID]*models.Task, *graph.Graph, error) {
	tasks, err := s.tasks.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	g, err := graph.FromTasks(values(tasks))
	if err != nil {
		s.logger.Warn("ignoring cyclic dependencies", slog.String("error", err.Error()))
	}
	return tasks, g, nil
}

// Ready returns the tasks that can be started now, in id order.
func (s *Service) Ready(_ context.Context) ([]*models.Task, error) {
	tasks, g, err := s.load()
	if err != nil {
		return nil, err
	}
	return pick(tasks, g.Ready(models.Statuses(tasks))), nil
}

// Blocked returns the tasks waiting on incomplete dependencies.
func (s *Service) Blocked(_ context.Context) ([]BlockedTask, error) {
	tasks, g, err := s.load()
	if err != nil {
		return nil, err
	}
	statuses := models.Statuses(tasks)
	ids := g.Blocked(statuses)
	out := make([]BlockedTask, 0, len(ids))
	for _, id := range ids {
		out = append(out, BlockedTask{Task: tasks[id], BlockedBy: blockers(g, id, statuses)})
	}
	return out, nil
}

func blockers(g *graph.Graph, id ident.ID, statuses map[ident.ID]models.Status) []ident.ID {
	out := []ident.ID{}
	for _, dep := range g.Dependencies(id) {
		if st, ok := statuses[dep]; !ok || !st.IsComplete() {
			out = append(out, dep)
		}
	}
	return out
}

// Order returns every task in a dependency-respecting order: each task
// appears after everything it is blocked by.
func (s *Service) Order(_ context.Context) ([]*models.Task, error) {
	tasks, g, err := s.load()
	if err != nil {
		return nil, err
	}
	ids, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	return pick(tasks, ids), nil
}

// Show returns a task with its graph neighbourhood.
func (s *Service) Show(_ context.Context, id ident.ID) (*TaskDetail, error) {
	tasks, g, err := s.load()
	if err != nil {
		return nil, err
	}
	t, ok := tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, apperr.ErrNotFound)
	}
	statuses := models.Statuses(tasks)

	d := &TaskDetail{
		Task:       t,
		Ready:      t.IsReady(statuses),
		BlockedBy:  blockers(g, id, statuses),
		Dependents: nonNilSlice(g.Dependents(id)),
		Subtasks:   []ident.ID{},
	}
	for _, other := range models.SortedIDs(tasks) {
		if p, ok := other.Parent(); ok && p == id {
			d.Subtasks = append(d.Subtasks, other)
		}
	}
	d.ReferencedBy = []ident.ID{}
	if s.db != nil {
		if err := s.refresh(); err != nil {
			return nil, err
		}
		refs, err := s.db.ReferencedBy(id)
		if err != nil {
			return nil, err
		}
		d.ReferencedBy = nonNilSlice(refs)
	}
	return d, nil
}

// List returns tasks matching f in id order. With a cache the status and
// brief filters run in SQLite; the glob always runs here.
func (s *Service) List(_ context.Context, f ListFilter) ([]*models.Task, error) {
	var match glob.Glob
	if f.Pattern != "" {
		g, err := glob.Compile(f.Pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", apperr.ErrInvalidInput, f.Pattern, err)
		}
		match = g
	}

	var candidates []*models.Task
	if s.db != nil {
		if err := s.refresh(); err != nil {
			return nil, err
		}
		rows, _, err := s.db.ListTasks(index.TaskFilter{Status: f.Status, Brief: f.Brief})
		if err != nil {
			return nil, err
		}
		candidates = rows
	} else {
		tasks, err := s.tasks.ReadAll()
		if err != nil {
			return nil, err
		}
		for _, id := range models.SortedIDs(tasks) {
			t := tasks[id]
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			if !f.Brief.IsZero() {
				if b, ok := id.Brief(); !ok || b != f.Brief {
					continue
				}
			}
			candidates = append(candidates, t)
		}
	}

	if match == nil {
		return nonNilSlice(candidates), nil
	}
	out := []*models.Task{}
	for _, t := range candidates {
		if match.Match(t.ID.String()) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Search runs a full-text query over tasks and briefs.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("search: %w", apperr.ErrNotInitialized)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", apperr.ErrInvalidInput)
	}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.db.Search(query, limit)
}

// Stats returns cached task counts.
func (s *Service) Stats(_ context.Context) (index.Stats, error) {
	if s.db == nil {
		return index.Stats{}, fmt.Errorf("stats: %w", apperr.ErrNotInitialized)
	}
	if err := s.refresh(); err != nil {
		return index.Stats{}, err
	}
	return s.db.Stats()
}

// Sync brings the cache up to date with the files.
func (s *Service) Sync(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("sync: %w", apperr.ErrNotInitialized)
	}
	return s.refresh()
}

func (s *Service) refresh() error {
	return index.Sync(s.db, s.docs, s.tasks, s.logger)
}

func values(tasks map[ident.ID]*models.Task) []*models.Task {
	out := make([]*models.Task, 0, len(tasks))
	for _, id := range models.SortedIDs(tasks) {
		out = append(out, tasks[id])
	}
	return out
}

func pick(tasks map[ident.ID]*models.Task, ids []ident.ID) []*models.Task {
	out := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return slices.Clip(s)
}
