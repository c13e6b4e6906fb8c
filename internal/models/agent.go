package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/starford/shape/internal/ident"
)

// Note is a free-form remark left on a task while working on it.
type Note struct {
	At   time.Time `json:"at"`
	By   string    `json:"by"`
	Text string    `json:"text"`
}

// LinkType is the kind of artifact a link points at.
type LinkType string

const (
	LinkCommit LinkType = "commit"
	LinkPR     LinkType = "pr"
	LinkFile   LinkType = "file"
	LinkURL    LinkType = "url"
)

// ParseLinkType accepts the stored names.
func ParseLinkType(s string) (LinkType, error) {
	switch lt := LinkType(strings.ToLower(strings.TrimSpace(s))); lt {
	case LinkCommit, LinkPR, LinkFile, LinkURL:
		return lt, nil
	}
	return "", fmt.Errorf("unknown link type %q", s)
}

// Link ties a task to an artifact: a commit, pull request, file or URL.
type Link struct {
	Type LinkType  `json:"type"`
	Ref  string    `json:"ref"`
	At   time.Time `json:"at"`
	By   string    `json:"by,omitempty"`
}

// BlockInfo records an explicit block placed by an agent, independent of
// dependency edges.
type BlockInfo struct {
	Reason string    `json:"reason"`
	By     string    `json:"by"`
	At     time.Time `json:"at"`
	OnTask *ident.ID `json:"on_task,omitempty"`
}

// EventType names an entry in a task's history.
type EventType string

const (
	EventCreated   EventType = "created"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventReopened  EventType = "reopened"
	EventClaimed   EventType = "claimed"
	EventUnclaimed EventType = "unclaimed"
	EventNote      EventType = "note"
	EventLinked    EventType = "linked"
	EventUnlinked  EventType = "unlinked"
	EventBlocked   EventType = "blocked"
	EventUnblocked EventType = "unblocked"
	EventAssigned  EventType = "assigned"
	EventHandoff   EventType = "handoff"
)

// HistoryEvent is one entry in a task's timeline.
type HistoryEvent struct {
	At    time.Time       `json:"at"`
	Event EventType       `json:"event"`
	By    string          `json:"by,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DataString returns the string stored under key in the event data, or "".
func (e HistoryEvent) DataString(key string) string {
	var m map[string]any
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &m) != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Describe renders the event for a timeline.
func (e HistoryEvent) Describe() string {
	switch e.Event {
	case EventNote:
		return fmt.Sprintf("note: %q", e.DataString("text"))
	case EventLinked, EventUnlinked:
		return fmt.Sprintf("%s %s:%s", e.Event, e.DataString("type"), e.DataString("ref"))
	case EventBlocked:
		return fmt.Sprintf("blocked: %q", e.DataString("reason"))
	case EventAssigned:
		return "assigned to " + e.DataString("to")
	case EventHandoff:
		if to := e.DataString("to"); to != "" {
			return fmt.Sprintf("handoff to %s: %q", to, e.DataString("reason"))
		}
		return fmt.Sprintf("handoff: %q", e.DataString("reason"))
	}
	return string(e.Event)
}

// Record appends a history event. data may be nil.
func (t *Task) Record(event EventType, by string, data map[string]string, at time.Time) {
	ev := HistoryEvent{At: at.UTC(), Event: event, By: by}
	if len(data) > 0 {
		// A map of strings always encodes.
		ev.Data, _ = json.Marshal(data)
	}
	t.History = append(t.History, ev)
}

// IsClaimed reports whether an agent holds the task.
func (t *Task) IsClaimed() bool { return t.ClaimedBy != nil }

// ClaimHolder returns the claiming agent or "".
func (t *Task) ClaimHolder() string {
	if t.ClaimedBy == nil {
		return ""
	}
	return *t.ClaimedBy
}

// Claim gives the task to agent and starts it if it was pending.
func (t *Task) Claim(agent string, at time.Time) {
	at = at.UTC()
	t.ClaimedBy = &agent
	t.ClaimedAt = &at
	t.Versions.Claim++
	if t.Start(at) {
		t.Record(EventStarted, agent, nil, at)
	}
	t.Record(EventClaimed, agent, nil, at)
	t.touch(at)
}

// RefreshClaim restarts the claim timeout for the current holder.
func (t *Task) RefreshClaim(at time.Time) {
	at = at.UTC()
	t.ClaimedAt = &at
	t.Versions.Claim++
	t.touch(at)
}

// Unclaim releases the claim. by defaults to the holder. It reports
// whether the task was claimed.
func (t *Task) Unclaim(by string, at time.Time) bool {
	if t.ClaimedBy == nil {
		return false
	}
	if by == "" {
		by = *t.ClaimedBy
	}
	t.Record(EventUnclaimed, by, nil, at)
	t.ClaimedBy = nil
	t.ClaimedAt = nil
	t.Versions.Claim++
	t.touch(at)
	return true
}

// ClaimExpiresAt returns when the claim lapses under timeout. ok is false
// when the task is not claimed.
func (t *Task) ClaimExpiresAt(timeout time.Duration) (expires time.Time, ok bool) {
	if t.ClaimedBy == nil || t.ClaimedAt == nil {
		return time.Time{}, false
	}
	return t.ClaimedAt.Add(timeout), true
}

// ClaimExpired reports whether the claim lapsed before now.
func (t *Task) ClaimExpired(timeout time.Duration, now time.Time) bool {
	exp, ok := t.ClaimExpiresAt(timeout)
	return ok && now.After(exp)
}

// ClaimRemaining returns the time left on the claim, never negative.
func (t *Task) ClaimRemaining(timeout time.Duration, now time.Time) time.Duration {
	exp, ok := t.ClaimExpiresAt(timeout)
	if !ok || !exp.After(now) {
		return 0
	}
	return exp.Sub(now)
}

// AddNote appends a note and its history event.
func (t *Task) AddNote(by, text string, at time.Time) {
	t.Notes = append(t.Notes, Note{At: at.UTC(), By: by, Text: text})
	t.Record(EventNote, by, map[string]string{"text": text}, at)
	t.touch(at)
}

// AddLink appends a link unless the same type and ref is already present.
func (t *Task) AddLink(typ LinkType, ref, by string, at time.Time) bool {
	if t.HasLink(typ, ref) {
		return false
	}
	t.Links = append(t.Links, Link{Type: typ, Ref: ref, At: at.UTC(), By: by})
	t.Record(EventLinked, by, map[string]string{"type": string(typ), "ref": ref}, at)
	t.touch(at)
	return true
}

// HasLink reports whether a link of typ to ref exists.
func (t *Task) HasLink(typ LinkType, ref string) bool {
	return slices.ContainsFunc(t.Links, func(l Link) bool { return l.Type == typ && l.Ref == ref })
}

// RemoveLink drops the link of typ to ref.
func (t *Task) RemoveLink(typ LinkType, ref, by string, at time.Time) bool {
	before := len(t.Links)
	t.Links = slices.DeleteFunc(t.Links, func(l Link) bool { return l.Type == typ && l.Ref == ref })
	if len(t.Links) == before {
		return false
	}
	if len(t.Links) == 0 {
		t.Links = nil
	}
	t.Record(EventUnlinked, by, map[string]string{"type": string(typ), "ref": ref}, at)
	t.touch(at)
	return true
}

// Block marks the task explicitly blocked. onTask may be zero.
func (t *Task) Block(reason, by string, onTask ident.ID, at time.Time) {
	info := &BlockInfo{Reason: reason, By: by, At: at.UTC()}
	data := map[string]string{"reason": reason}
	if !onTask.IsZero() {
		info.OnTask = &onTask
		data["on_task"] = onTask.String()
	}
	t.Blocked = info
	t.Versions.Blocked++
	t.Record(EventBlocked, by, data, at)
	t.touch(at)
}

// Unblock clears an explicit block.
func (t *Task) Unblock(by string, at time.Time) bool {
	if t.Blocked == nil {
		return false
	}
	t.Blocked = nil
	t.Versions.Blocked++
	t.Record(EventUnblocked, by, nil, at)
	t.touch(at)
	return true
}

// IsExplicitlyBlocked reports whether an agent blocked the task.
func (t *Task) IsExplicitlyBlocked() bool { return t.Blocked != nil }

// Assign hands the task to agent.
func (t *Task) Assign(agent, by string, at time.Time) {
	t.AssignedTo = &agent
	t.Versions.AssignedTo++
	t.Record(EventAssigned, by, map[string]string{"to": agent}, at)
	t.touch(at)
}

// Handoff leaves a note, releases the claim and, when to is set, assigns
// the task to someone else.
func (t *Task) Handoff(reason, by, to string, at time.Time) {
	t.AddNote(by, "Handoff: "+reason, at)
	data := map[string]string{"reason": reason}
	if to != "" {
		data["to"] = to
	}
	t.Record(EventHandoff, by, data, at)
	t.Unclaim(by, at)
	if to != "" {
		t.AssignedTo = &to
		t.Versions.AssignedTo++
	}
	t.touch(at)
}

// IsReadyFor reports whether agent may pick the task up now: it is
// dependency-ready, not explicitly blocked, and either unclaimed, claimed
// by agent, or held by a claim that has lapsed.
func (t *Task) IsReadyFor(agent string, statuses map[ident.ID]Status, timeout time.Duration, now time.Time) bool {
	if t.IsExplicitlyBlocked() || !t.IsReady(statuses) {
		return false
	}
	if holder := t.ClaimHolder(); holder != "" && holder != agent {
		return t.ClaimExpired(timeout, now)
	}
	return true
}

// IsCompacted reports whether the task was folded into a representative.
func (t *Task) IsCompacted() bool { return t.CompactedInto != nil }

// IsCompactionRepresentative reports whether the task holds the summary
// of a compacted group.
func (t *Task) IsCompactionRepresentative() bool { return len(t.CompactedTasks) > 0 }

// SetCompaction makes the task the representative of ids.
func (t *Task) SetCompaction(summary string, ids []ident.ID, at time.Time) {
	t.Summary = &summary
	t.CompactedTasks = slices.Clone(ids)
	t.Versions.Compaction++
	t.touch(at)
}

// CompactInto marks the task as folded into representative.
func (t *Task) CompactInto(representative ident.ID, at time.Time) {
	t.CompactedInto = &representative
	t.Versions.Compaction++
	t.touch(at)
}

// ClearCompaction removes every compaction field.
func (t *Task) ClearCompaction(at time.Time) bool {
	if t.Summary == nil && t.CompactedTasks == nil && t.CompactedInto == nil {
		return false
	}
	t.Summary = nil
	t.CompactedTasks = nil
	t.CompactedInto = nil
	t.Versions.Compaction++
	t.touch(at)
	return true
}
