package models

import (
	"bytes"
	"testing"
	"time"

	"github.com/starford/shape/internal/ident"
)

func TestClaim_StartsAndRecords(t *testing.T) {
	task := newTask(t, "A")
	at := t0.Add(time.Hour)

	task.Claim("agent-a", at)
	if task.ClaimHolder() != "agent-a" || !task.ClaimedAt.Equal(at) {
		t.Fatalf("claim = %v at %v", task.ClaimedBy, task.ClaimedAt)
	}
	if task.Status != StatusInProgress || task.Versions.Status != 1 || task.Versions.Claim != 1 {
		t.Errorf("status %q, versions %+v", task.Status, task.Versions)
	}
	if len(task.History) != 2 || task.History[0].Event != EventStarted || task.History[1].Event != EventClaimed {
		t.Errorf("history = %+v", task.History)
	}

	if !task.Unclaim("", at) || task.IsClaimed() {
		t.Fatal("Unclaim failed")
	}
	if last := task.History[len(task.History)-1]; last.Event != EventUnclaimed || last.By != "agent-a" {
		t.Errorf("unclaim event = %+v", last)
	}
	if task.Unclaim("", at) {
		t.Error("second Unclaim reported a change")
	}
	if task.Versions.Claim != 2 {
		t.Errorf("claim version = %d", task.Versions.Claim)
	}
}

func TestClaimExpiry(t *testing.T) {
	task := newTask(t, "A")
	task.Claim("agent-a", t0)

	if task.ClaimExpired(4*time.Hour, t0.Add(3*time.Hour)) {
		t.Error("expired too early")
	}
	if got := task.ClaimRemaining(4*time.Hour, t0.Add(3*time.Hour)); got != time.Hour {
		t.Errorf("remaining = %v", got)
	}
	if !task.ClaimExpired(4*time.Hour, t0.Add(5*time.Hour)) {
		t.Error("claim should have lapsed")
	}
	if got := task.ClaimRemaining(4*time.Hour, t0.Add(5*time.Hour)); got != 0 {
		t.Errorf("remaining = %v, want 0", got)
	}
}

func TestIsReadyFor(t *testing.T) {
	dep := newTask(t, "dep")
	task := newTask(t, "task")
	task.AddDependency(Blocks(dep.ID), t0)
	statuses := map[ident.ID]Status{dep.ID: StatusDone, task.ID: StatusTodo}
	now := t0.Add(time.Hour)

	if !task.IsReadyFor("me", statuses, 4*time.Hour, now) {
		t.Fatal("unclaimed ready task not offered")
	}

	task.Claim("other", t0)
	if task.IsReadyFor("me", statuses, 4*time.Hour, now) {
		t.Error("task held by another agent offered")
	}
	if !task.IsReadyFor("other", statuses, 4*time.Hour, now) {
		t.Error("holder not offered its own task")
	}
	if !task.IsReadyFor("me", statuses, 4*time.Hour, t0.Add(5*time.Hour)) {
		t.Error("lapsed claim still hides the task")
	}

	task.Block("waiting on vendor", "me", ident.ID{}, now)
	if task.IsReadyFor("other", statuses, 4*time.Hour, now) {
		t.Error("explicitly blocked task offered")
	}
	task.Unblock("me", now)

	statuses[dep.ID] = StatusTodo
	if task.IsReadyFor("other", statuses, 4*time.Hour, now) {
		t.Error("dependency-blocked task offered")
	}
}

func TestNotesLinksAndBlock(t *testing.T) {
	task := newTask(t, "A")
	other := newTask(t, "B")

	task.AddNote("agent-a", "found the bug", t0)
	if !task.AddLink(LinkCommit, "abc123", "agent-a", t0) {
		t.Fatal("AddLink failed")
	}
	if task.AddLink(LinkCommit, "abc123", "agent-b", t0) {
		t.Error("duplicate link added")
	}
	task.Block("needs review", "agent-a", other.ID, t0)

	if len(task.Notes) != 1 || task.Notes[0].Text != "found the bug" {
		t.Errorf("notes = %+v", task.Notes)
	}
	if task.Blocked == nil || *task.Blocked.OnTask != other.ID || task.Versions.Blocked != 1 {
		t.Errorf("blocked = %+v", task.Blocked)
	}

	want := []string{`note: "found the bug"`, "linked commit:abc123", `blocked: "needs review"`}
	if len(task.History) != len(want) {
		t.Fatalf("history = %+v", task.History)
	}
	for i, w := range want {
		if got := task.History[i].Describe(); got != w {
			t.Errorf("history[%d] = %q, want %q", i, got, w)
		}
	}
	if task.History[2].DataString("on_task") != other.ID.String() {
		t.Errorf("block event data = %s", task.History[2].Data)
	}

	if !task.RemoveLink(LinkCommit, "abc123", "agent-a", t0) || task.Links != nil {
		t.Errorf("links = %+v", task.Links)
	}
	if task.RemoveLink(LinkCommit, "abc123", "agent-a", t0) {
		t.Error("second RemoveLink reported a change")
	}
}

func TestHandoff(t *testing.T) {
	task := newTask(t, "A")
	task.Claim("agent-a", t0)
	task.Handoff("out of time", "agent-a", "human", t0.Add(time.Hour))

	if task.IsClaimed() {
		t.Error("handoff kept the claim")
	}
	if task.AssignedTo == nil || *task.AssignedTo != "human" || task.Versions.AssignedTo != 1 {
		t.Errorf("assigned = %v", task.AssignedTo)
	}
	if n := task.Notes[len(task.Notes)-1]; n.Text != "Handoff: out of time" {
		t.Errorf("note = %+v", n)
	}
	var saw bool
	for _, ev := range task.History {
		if ev.Event == EventHandoff {
			saw = ev.Describe() == `handoff to human: "out of time"`
		}
	}
	if !saw {
		t.Errorf("history = %+v", task.History)
	}
}

func TestCompaction(t *testing.T) {
	rep := newTask(t, "A")
	member := newTask(t, "B")

	rep.SetCompaction("Billing: 2 tasks completed", []ident.ID{rep.ID, member.ID}, t0)
	member.CompactInto(rep.ID, t0)
	if !rep.IsCompactionRepresentative() || rep.IsCompacted() || !member.IsCompacted() {
		t.Fatal("compaction flags wrong")
	}

	if !member.ClearCompaction(t0) || member.IsCompacted() || member.Versions.Compaction != 2 {
		t.Errorf("after clear: %+v", member)
	}
	if member.ClearCompaction(t0) {
		t.Error("second clear reported a change")
	}
}

func TestAgentFieldsRoundTrip(t *testing.T) {
	task := newTask(t, "A")
	task.Claim("agent-a", t0)
	task.AddNote("agent-a", "n", t0)
	task.AddLink(LinkPR, "42", "", t0)
	task.Block("r", "agent-a", ident.ID{}, t0)
	task.Assign("agent-b", "agent-a", t0)
	task.SetCompaction("s", []ident.ID{task.ID}, t0)

	line, err := MarshalLine(task)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"claimed_by":"agent-a"`, `"notes":[`, `"links":[`, `"blocked":{`, `"history":[`, `"assigned_to":"agent-b"`, `"summary":"s"`} {
		if !bytes.Contains(line, []byte(key)) {
			t.Errorf("%s missing from %s", key, line)
		}
	}
	back, err := UnmarshalLine(line)
	if err != nil {
		t.Fatal(err)
	}
	if back.Extra != nil {
		t.Errorf("declared agent fields landed in extra: %v", back.Extra)
	}
	again, _ := MarshalLine(back)
	if !bytes.Equal(line, again) {
		t.Errorf("round trip changed bytes:\n%s\n%s", line, again)
	}
}
