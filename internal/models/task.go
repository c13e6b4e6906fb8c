// Package models defines the record types shape stores and merges.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/starford/shape/internal/ident"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ParseStatus accepts the stored names plus common aliases.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "todo", "pending", "open":
		return StatusTodo, nil
	case "in_progress", "in-progress", "inprogress", "active", "started":
		return StatusInProgress, nil
	case "done", "complete", "completed", "closed":
		return StatusDone, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// IsComplete reports whether the task is finished.
func (s Status) IsComplete() bool { return s == StatusDone }

// IsPending reports whether the task has not been started.
func (s Status) IsPending() bool { return s == StatusTodo || s == "" }

// IsActive reports whether the task is being worked on.
func (s Status) IsActive() bool { return s == StatusInProgress }

// Task is a unit of work. Every mutable scalar field has a logical
// version counter in Versions which the merge engine uses to tell which
// side of a merge changed it. Notes, links and history are append-mostly
// lists and are merged as sets.
//
// Keys the record does not declare are kept in Extra and written back
// unchanged, so files produced by newer tools survive a rewrite.
type Task struct {
	ID          ident.ID      `json:"id"`
	Title       string        `json:"title"`
	Status      Status        `json:"status"`
	DependsOn   Dependencies  `json:"depends_on,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Description *string       `json:"description,omitempty"`
	Meta        Meta          `json:"meta,omitempty"`
	Versions    FieldVersions `json:"_v,omitzero"`

	Summary        *string    `json:"summary,omitempty"`
	CompactedTasks []ident.ID `json:"compacted_tasks,omitempty"`
	CompactedInto  *ident.ID  `json:"compacted_into,omitempty"`

	ClaimedBy  *string        `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time     `json:"claimed_at,omitempty"`
	Notes      []Note         `json:"notes,omitempty"`
	Links      []Link         `json:"links,omitempty"`
	Blocked    *BlockInfo     `json:"blocked,omitempty"`
	History    []HistoryEvent `json:"history,omitempty"`
	AssignedTo *string        `json:"assigned_to,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// NewTask returns a pending task with all counters at zero.
func NewTask(id ident.ID, title string, at time.Time) *Task {
	at = at.UTC()
	return &Task{
		ID:        id,
		Title:     title,
		Status:    StatusTodo,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = slices.Clone(t.DependsOn)
	c.CompletedAt = clonePtr(t.CompletedAt)
	c.Description = clonePtr(t.Description)
	c.Meta = t.Meta.Clone()
	c.Versions = t.Versions.clone()
	c.Summary = clonePtr(t.Summary)
	c.CompactedTasks = slices.Clone(t.CompactedTasks)
	c.CompactedInto = clonePtr(t.CompactedInto)
	c.ClaimedBy = clonePtr(t.ClaimedBy)
	c.ClaimedAt = clonePtr(t.ClaimedAt)
	c.Notes = slices.Clone(t.Notes)
	c.Links = slices.Clone(t.Links)
	if t.Blocked != nil {
		b := *t.Blocked
		b.OnTask = clonePtr(t.Blocked.OnTask)
		c.Blocked = &b
	}
	c.History = make([]HistoryEvent, len(t.History))
	for i, ev := range t.History {
		ev.Data = slices.Clone(ev.Data)
		c.History[i] = ev
	}
	if t.History == nil {
		c.History = nil
	}
	c.AssignedTo = clonePtr(t.AssignedTo)
	c.Extra = cloneRaw(t.Extra)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// DescriptionText returns the description or "".
func (t *Task) DescriptionText() string {
	if t.Description == nil {
		return ""
	}
	return *t.Description
}

func (t *Task) touch(at time.Time) {
	t.UpdatedAt = at.UTC()
}

// SetTitle replaces the title.
func (t *Task) SetTitle(title string, at time.Time) {
	t.Title = title
	t.Versions.Title++
	t.touch(at)
}

// SetDescription replaces the description.
func (t *Task) SetDescription(desc string, at time.Time) {
	t.Description = &desc
	t.Versions.Description++
	t.touch(at)
}

// Start moves a pending task to in progress. It reports whether anything
// changed.
func (t *Task) Start(at time.Time) bool {
	if !t.Status.IsPending() {
		return false
	}
	t.Status = StatusInProgress
	t.Versions.Status++
	t.touch(at)
	return true
}

// Complete marks the task done.
func (t *Task) Complete(at time.Time) bool {
	if t.Status.IsComplete() {
		return false
	}
	done := at.UTC()
	t.Status = StatusDone
	t.CompletedAt = &done
	t.Versions.Status++
	t.Versions.CompletedAt++
	t.touch(at)
	return true
}

// Reopen moves a completed task back to pending.
func (t *Task) Reopen(at time.Time) bool {
	if !t.Status.IsComplete() {
		return false
	}
	t.Status = StatusTodo
	t.CompletedAt = nil
	t.Versions.Status++
	t.Versions.CompletedAt++
	t.touch(at)
	return true
}

// AddDependency adds an edge unless already present.
func (t *Task) AddDependency(d Dependency, at time.Time) bool {
	if t.DependsOn.Contains(d) {
		return false
	}
	t.DependsOn = append(t.DependsOn, d)
	t.Versions.DependsOn++
	t.touch(at)
	return true
}

// RemoveDependency removes every edge to id, or only the edge of the
// given type when typ is non-empty.
func (t *Task) RemoveDependency(id ident.ID, typ DependencyType, at time.Time) bool {
	before := len(t.DependsOn)
	t.DependsOn = slices.DeleteFunc(t.DependsOn, func(d Dependency) bool {
		return d.Task == id && (typ == "" || d.Type == typ)
	})
	if len(t.DependsOn) == before {
		return false
	}
	if len(t.DependsOn) == 0 {
		t.DependsOn = nil
	}
	t.Versions.DependsOn++
	t.touch(at)
	return true
}

// SetMeta stores value (any JSON-encodable value) under key.
func (t *Task) SetMeta(key string, value any, at time.Time) error {
	raw, err := encodeMetaValue(value)
	if err != nil {
		return fmt.Errorf("meta %q: %w", key, err)
	}
	if t.Meta == nil {
		t.Meta = make(Meta)
	}
	t.Meta[key] = raw
	t.Versions.bumpMeta(key)
	t.touch(at)
	return nil
}

// RemoveMeta deletes key. The key's counter is still bumped so a merge
// sees the removal as a change.
func (t *Task) RemoveMeta(key string, at time.Time) bool {
	if _, ok := t.Meta[key]; !ok {
		return false
	}
	delete(t.Meta, key)
	if len(t.Meta) == 0 {
		t.Meta = nil
	}
	t.Versions.bumpMeta(key)
	t.touch(at)
	return true
}

// IsReady reports whether the task is not complete and every blocking
// dependency is known to be complete.
func (t *Task) IsReady(statuses map[ident.ID]Status) bool {
	if t.Status.IsComplete() {
		return false
	}
	for _, dep := range t.DependsOn.Blocking() {
		if s, ok := statuses[dep]; !ok || !s.IsComplete() {
			return false
		}
	}
	return true
}

// IsBlocked reports whether the task is not complete and at least one
// blocking dependency is incomplete or unknown.
func (t *Task) IsBlocked(statuses map[ident.ID]Status) bool {
	if t.Status.IsComplete() {
		return false
	}
	for _, dep := range t.DependsOn.Blocking() {
		if s, ok := statuses[dep]; !ok || !s.IsComplete() {
			return true
		}
	}
	return false
}

// Statuses builds the status map the graph queries take.
func Statuses(tasks map[ident.ID]*Task) map[ident.ID]Status {
	out := make(map[ident.ID]Status, len(tasks))
	for id, t := range tasks {
		out[id] = t.Status
	}
	return out
}

// Equal reports whole-record structural equality. Two tasks are equal
// when their canonical encodings are byte-identical.
func Equal(a, b *Task) bool {
	if a == nil || b == nil {
		return a == b
	}
	ea, errA := MarshalLine(a)
	eb, errB := MarshalLine(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// SortedIDs returns the keys of tasks ordered by canonical text.
func SortedIDs(tasks map[ident.ID]*Task) []ident.ID {
	ids := slices.Collect(maps.Keys(tasks))
	slices.SortFunc(ids, ident.Compare)
	return ids
}

// Meta holds open-ended metadata. Values are kept as compact raw JSON so
// they survive a read/write cycle unchanged.
type Meta map[string]json.RawMessage

// Get decodes the value for key into v. It reports whether key exists.
func (m Meta) Get(key string, v any) (bool, error) {
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// Keys returns the keys in sorted order.
func (m Meta) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Clone returns a copy; raw values are copied too.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// ValueEqual compares the raw value of key in two maps.
func ValueEqual(a, b Meta, key string) bool {
	va, okA := a[key]
	vb, okB := b[key]
	return okA == okB && bytes.Equal(va, vb)
}

func encodeMetaValue(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(value)
}
