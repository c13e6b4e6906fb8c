package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/shape/internal/ident"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTask(t *testing.T, title string) *Task {
	t.Helper()
	return NewTask(ident.NewStandalone(title, t0), title, t0)
}

func TestNewTask_Baseline(t *testing.T) {
	task := newTask(t, "Write docs")
	if task.Status != StatusTodo {
		t.Errorf("status = %q", task.Status)
	}
	if !task.Versions.IsZero() {
		t.Errorf("versions = %+v, want zero", task.Versions)
	}
	if !task.CreatedAt.Equal(t0) || !task.UpdatedAt.Equal(t0) {
		t.Errorf("timestamps = %v / %v", task.CreatedAt, task.UpdatedAt)
	}
}

func TestMutators_BumpOnlyTouchedCounters(t *testing.T) {
	task := newTask(t, "A")
	later := t0.Add(time.Hour)

	task.SetTitle("B", later)
	if task.Versions.Title != 1 || task.Versions.Status != 0 {
		t.Fatalf("after SetTitle: %+v", task.Versions)
	}
	if !task.UpdatedAt.Equal(later) {
		t.Errorf("updated_at = %v", task.UpdatedAt)
	}

	task.SetDescription("body", later)
	if task.Versions.Description != 1 || task.DescriptionText() != "body" {
		t.Errorf("after SetDescription: %+v %q", task.Versions, task.DescriptionText())
	}

	if !task.Start(later) || task.Status != StatusInProgress || task.Versions.Status != 1 {
		t.Errorf("after Start: %q %+v", task.Status, task.Versions)
	}
	if task.Start(later) {
		t.Error("starting an active task should be a no-op")
	}

	if !task.Complete(later) {
		t.Fatal("Complete returned false")
	}
	if task.Versions.Status != 2 || task.Versions.CompletedAt != 1 || task.CompletedAt == nil {
		t.Errorf("after Complete: %+v", task.Versions)
	}

	if !task.Reopen(later) || task.Status != StatusTodo || task.CompletedAt != nil {
		t.Errorf("after Reopen: %q %v", task.Status, task.CompletedAt)
	}
	if task.Versions.Status != 3 || task.Versions.CompletedAt != 2 {
		t.Errorf("after Reopen: %+v", task.Versions)
	}
	if task.Versions.Title != 1 {
		t.Errorf("title counter moved: %+v", task.Versions)
	}
}

func TestDependencies(t *testing.T) {
	task := newTask(t, "A")
	dep := ident.NewStandalone("B", t0)

	if !task.AddDependency(Blocks(dep), t0) {
		t.Fatal("AddDependency returned false")
	}
	if task.AddDependency(Blocks(dep), t0) {
		t.Error("duplicate edge was added")
	}
	if !task.AddDependency(Dependency{Task: dep, Type: DepRelated}, t0) {
		t.Error("edge of another type should be distinct")
	}
	if task.Versions.DependsOn != 2 {
		t.Errorf("depends_on counter = %d", task.Versions.DependsOn)
	}
	if got := task.DependsOn.Blocking(); len(got) != 1 || got[0] != dep {
		t.Errorf("blocking = %v", got)
	}

	if !task.RemoveDependency(dep, DepBlocks, t0) {
		t.Fatal("RemoveDependency returned false")
	}
	if task.DependsOn.ContainsBlocking(dep) || len(task.DependsOn) != 1 {
		t.Errorf("deps after typed removal = %v", task.DependsOn)
	}
	if !task.RemoveDependency(dep, "", t0) || task.DependsOn != nil {
		t.Errorf("deps after untyped removal = %v", task.DependsOn)
	}
	if task.RemoveDependency(dep, "", t0) {
		t.Error("removing a missing edge reported a change")
	}
	if task.Versions.DependsOn != 4 {
		t.Errorf("depends_on counter = %d", task.Versions.DependsOn)
	}
}

func TestMeta(t *testing.T) {
	task := newTask(t, "A")
	if err := task.SetMeta("priority", 3, t0); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := task.SetMeta("labels", []string{"x", "y"}, t0); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	var p int
	if ok, err := task.Meta.Get("priority", &p); !ok || err != nil || p != 3 {
		t.Errorf("priority = %d, %v, %v", p, ok, err)
	}
	if task.Versions.MetaVersion("priority") != 1 {
		t.Errorf("meta counter = %d", task.Versions.MetaVersion("priority"))
	}

	if !task.RemoveMeta("priority", t0) {
		t.Fatal("RemoveMeta returned false")
	}
	if _, ok := task.Meta["priority"]; ok {
		t.Error("key still present")
	}
	if task.Versions.MetaVersion("priority") != 2 {
		t.Errorf("tombstone counter = %d, want 2", task.Versions.MetaVersion("priority"))
	}
	if task.RemoveMeta("missing", t0) {
		t.Error("removing a missing key reported a change")
	}

	if err := task.SetMeta("raw", json.RawMessage(`{ "a" : 1 }`), t0); err != nil {
		t.Fatalf("SetMeta raw: %v", err)
	}
	if string(task.Meta["raw"]) != `{"a":1}` {
		t.Errorf("raw meta not compacted: %s", task.Meta["raw"])
	}
}

func TestReadiness(t *testing.T) {
	a := newTask(t, "A")
	b := newTask(t, "B")
	b.AddDependency(Blocks(a.ID), t0)
	unknown := ident.NewStandalone("ghost", t0)

	statuses := map[ident.ID]Status{a.ID: StatusTodo, b.ID: StatusTodo}
	if !a.IsReady(statuses) || a.IsBlocked(statuses) {
		t.Error("task without deps should be ready")
	}
	if b.IsReady(statuses) || !b.IsBlocked(statuses) {
		t.Error("task with open dep should be blocked")
	}

	statuses[a.ID] = StatusDone
	if !b.IsReady(statuses) || b.IsBlocked(statuses) {
		t.Error("task should become ready once its dep is done")
	}

	b.AddDependency(Blocks(unknown), t0)
	if b.IsReady(statuses) || !b.IsBlocked(statuses) {
		t.Error("unknown dependency must count as incomplete")
	}

	c := newTask(t, "C")
	c.AddDependency(Dependency{Task: unknown, Type: DepProvenance}, t0)
	if !c.IsReady(statuses) {
		t.Error("non-blocking edges must not affect readiness")
	}

	a.Complete(t0)
	if a.IsReady(statuses) || a.IsBlocked(statuses) {
		t.Error("complete task is neither ready nor blocked")
	}
}

func TestCloneIsDeep(t *testing.T) {
	task := newTask(t, "A")
	task.SetDescription("d", t0)
	task.SetMeta("k", "v", t0)
	task.AddDependency(Blocks(ident.NewStandalone("B", t0)), t0)
	task.Complete(t0)

	c := task.Clone()
	if !Equal(task, c) {
		t.Fatal("clone differs from original")
	}
	c.SetDescription("other", t0)
	c.SetMeta("k", "w", t0)
	c.DependsOn[0].Type = DepRelated
	*c.CompletedAt = t0.Add(time.Hour)

	if task.DescriptionText() != "d" || string(task.Meta["k"]) != `"v"` {
		t.Error("clone shares description or meta")
	}
	if task.Versions.MetaVersion("k") != 1 {
		t.Error("clone shares version map")
	}
	if task.DependsOn[0].Type != DepBlocks || !task.CompletedAt.Equal(t0) {
		t.Error("clone shares deps or completion time")
	}
}

func TestLineRoundTrip(t *testing.T) {
	task := newTask(t, "A")
	task.SetMeta("priority", 2, t0)
	task.AddDependency(Blocks(ident.MustParse("b-1234567.1")), t0)
	task.Complete(t0)

	line, err := MarshalLine(task)
	if err != nil {
		t.Fatalf("MarshalLine: %v", err)
	}
	if bytes.ContainsRune(line, '\n') {
		t.Errorf("line contains newline: %s", line)
	}
	if !bytes.Contains(line, []byte(`"_v":{`)) {
		t.Errorf("version map missing from %s", line)
	}
	back, err := UnmarshalLine(line)
	if err != nil {
		t.Fatalf("UnmarshalLine: %v", err)
	}
	again, _ := MarshalLine(back)
	if !bytes.Equal(line, again) {
		t.Errorf("round trip changed bytes:\n%s\n%s", line, again)
	}
}

func TestUnmarshalLine_LegacyDependencies(t *testing.T) {
	line := `{"id":"t-abcdef1","title":"x","status":"todo","depends_on":["t-1234567",{"task":"a-7654321","type":"related"}],` +
		`"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z","meta":{"k": [1, 2]}}`
	task, err := UnmarshalLine([]byte(line))
	if err != nil {
		t.Fatalf("UnmarshalLine: %v", err)
	}
	want := Dependencies{
		Blocks(ident.MustParse("t-1234567")),
		{Task: ident.MustParse("b-7654321"), Type: DepRelated},
	}
	if len(task.DependsOn) != 2 || task.DependsOn[0] != want[0] || task.DependsOn[1] != want[1] {
		t.Errorf("deps = %v", task.DependsOn)
	}
	if string(task.Meta["k"]) != "[1,2]" {
		t.Errorf("meta = %s", task.Meta["k"])
	}
	if !task.Versions.IsZero() {
		t.Errorf("missing _v should decode as zero, got %+v", task.Versions)
	}
}

func TestDecodeTasks(t *testing.T) {
	a := newTask(t, "A")
	b := newTask(t, "B")
	var buf bytes.Buffer
	if err := EncodeTasks(&buf, map[ident.ID]*Task{a.ID: a, b.ID: b}); err != nil {
		t.Fatalf("EncodeTasks: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if ident.Compare(a.ID, b.ID) < 0 != strings.Contains(lines[0], a.ID.String()) {
		t.Error("output not sorted by id")
	}

	input := "\n" + lines[0] + "\n\n   \n" + lines[1] + "\n"
	got, err := DecodeTasks(strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeTasks: %v", err)
	}
	if len(got) != 2 || !Equal(got[a.ID], a) || !Equal(got[b.ID], b) {
		t.Errorf("decoded %d tasks", len(got))
	}
}

func TestDecodeTasks_MalformedLine(t *testing.T) {
	a := newTask(t, "A")
	line, _ := MarshalLine(a)
	input := string(line) + "\n{not json\n"
	_, err := DecodeTasks(strings.NewReader(input))
	var le *LineError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LineError", err)
	}
	if le.Line != 2 {
		t.Errorf("line = %d, want 2", le.Line)
	}

	_, err = DecodeTasks(strings.NewReader(`{"title":"no id"}`))
	if !errors.As(err, &le) {
		t.Errorf("record without id: err = %v", err)
	}
}

func TestDecodeTasks_UnknownStatus(t *testing.T) {
	good, _ := MarshalLine(newTask(t, "A"))
	input := string(good) + "\n" +
		`{"id":"t-abcdef1","title":"x","status":"bogus","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}` + "\n"
	_, err := DecodeTasks(strings.NewReader(input))
	var le *LineError
	if !errors.As(err, &le) || le.Line != 2 {
		t.Fatalf("err = %v, want *LineError at line 2", err)
	}

	task, err := UnmarshalLine([]byte(`{"id":"t-abcdef1","title":"x","status":"completed","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("UnmarshalLine: %v", err)
	}
	if task.Status != StatusDone {
		t.Errorf("status = %q, want alias normalised to %q", task.Status, StatusDone)
	}
}

func TestUnmarshalLine_KeepsUnknownKeys(t *testing.T) {
	line := []byte(`{"id":"t-abcdef1","title":"x","status":"todo","created_at":"2026-01-01T00:00:00Z",` +
		`"updated_at":"2026-01-01T00:00:00Z","priority_hint":{"level": 3},"zz_tool":"other"}`)
	task, err := UnmarshalLine(line)
	if err != nil {
		t.Fatalf("UnmarshalLine: %v", err)
	}
	if string(task.Extra["priority_hint"]) != `{"level":3}` || string(task.Extra["zz_tool"]) != `"other"` {
		t.Fatalf("extra = %v", task.Extra)
	}
	if _, ok := task.Extra["title"]; ok {
		t.Error("declared key captured as extra")
	}

	out, err := MarshalLine(task)
	if err != nil {
		t.Fatalf("MarshalLine: %v", err)
	}
	if !bytes.HasSuffix(out, []byte(`,"priority_hint":{"level":3},"zz_tool":"other"}`)) {
		t.Errorf("unknown keys not written back: %s", out)
	}
	back, err := UnmarshalLine(out)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(task, back) {
		t.Errorf("round trip changed record:\n%s", out)
	}

	c := task.Clone()
	c.Extra["zz_tool"] = json.RawMessage(`"mutated"`)
	if string(task.Extra["zz_tool"]) != `"other"` {
		t.Error("clone shares extra map")
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"todo":        StatusTodo,
		"pending":     StatusTodo,
		"in_progress": StatusInProgress,
		"Active":      StatusInProgress,
		"done":        StatusDone,
		"complete":    StatusDone,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStatus("later"); err == nil {
		t.Error("expected error")
	}
}

func TestBrief(t *testing.T) {
	b := NewBrief("Checkout v2", "", t0)
	if b.Type != DefaultBriefType || b.Status != BriefProposed {
		t.Errorf("brief = %+v", b)
	}
	if b.ID.Kind() != ident.KindBrief || b.FileName() != b.ID.String()+".md" {
		t.Errorf("id = %s", b.ID)
	}
	if !b.SetStatus(BriefShipped, t0.Add(time.Hour)) || !b.Status.IsComplete() {
		t.Error("SetStatus failed")
	}
	if b.SetStatus(BriefShipped, t0) {
		t.Error("same status reported a change")
	}
	if s, err := ParseBriefStatus("cancelled"); err != nil || s != BriefArchived {
		t.Errorf("ParseBriefStatus = %q, %v", s, err)
	}
}
