package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/shape/internal/models"
)

// run executes the CLI in dir and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(context.Background(), append([]string{"shape"}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("shape %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeOut[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SHAPE_CONFIG_FILE", "")
	mustRun(t, "init", "--no-merge-driver")
	return dir
}

func TestCLI_Workflow(t *testing.T) {
	dir := newProject(t)
	if _, err := os.Stat(filepath.Join(dir, ".shape", "tasks.jsonl")); err != nil {
		t.Fatalf("task file: %v", err)
	}

	brief := decodeOut[models.Brief](t, mustRun(t, "--json", "brief", "new", "Launch"))
	design := decodeOut[models.Task](t, mustRun(t, "--json", "task", "add", "--parent", brief.ID.String(), "Design"))
	build := decodeOut[models.Task](t, mustRun(t, "--json", "task", "add", "--parent", brief.ID.String(), "--dep", design.ID.String(), "Build"))

	if design.ID != brief.ID.Child(1) || build.ID != brief.ID.Child(2) {
		t.Fatalf("ids = %s, %s", design.ID, build.ID)
	}

	ready := decodeOut[[]models.Task](t, mustRun(t, "--json", "ready"))
	if len(ready) != 1 || ready[0].ID != design.ID {
		t.Errorf("ready = %+v", ready)
	}
	if out := mustRun(t, "blocked"); !strings.Contains(out, "waiting on "+design.ID.String()) {
		t.Errorf("blocked output = %q", out)
	}

	mustRun(t, "task", "start", design.ID.String())
	mustRun(t, "task", "done", design.ID.String())
	ready = decodeOut[[]models.Task](t, mustRun(t, "--json", "ready"))
	if len(ready) != 1 || ready[0].ID != build.ID {
		t.Errorf("ready after done = %+v", ready)
	}

	mustRun(t, "task", "meta", build.ID.String(), "points", "3")
	if out := mustRun(t, "task", "show", build.ID.String()); !strings.Contains(out, "meta:     points=3") {
		t.Errorf("show output = %q", out)
	}

	if out := mustRun(t, "brief", "show", brief.ID.String()); !strings.Contains(out, "Launch") {
		t.Errorf("brief show = %q", out)
	}
	if out := mustRun(t, "brief", "list"); !strings.Contains(out, "1/2 done") {
		t.Errorf("brief list = %q", out)
	}
}

func TestCLI_Errors(t *testing.T) {
	newProject(t)
	a := decodeOut[models.Task](t, mustRun(t, "--json", "task", "add", "a"))
	b := decodeOut[models.Task](t, mustRun(t, "--json", "task", "add", "b"))
	mustRun(t, "task", "dep", b.ID.String(), a.ID.String())

	if _, err := run(t, "task", "dep", a.ID.String(), b.ID.String()); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("cycle: err = %v", err)
	}
	if _, err := run(t, "task", "start", "nonsense"); err == nil {
		t.Error("expected error for a bad id")
	}
	if _, err := run(t, "task", "edit", a.ID.String()); err == nil {
		t.Error("expected error when edit changes nothing")
	}
}

func TestCLI_NotInitialized(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SHAPE_CONFIG_FILE", "")
	if _, err := run(t, "ready"); err == nil || !strings.Contains(err.Error(), "shape init") {
		t.Errorf("err = %v", err)
	}
}

func TestCLI_MergeDriverExitCodes(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	empty := write("empty", "")

	if _, err := run(t, "merge-driver", empty, write("ours", ""), empty); err != nil {
		t.Errorf("clean merge: err = %v", err)
	}

	_, err := run(t, "merge-driver", empty, write("bad", "{not json\n"), empty)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 2 {
		t.Errorf("malformed input: err = %v, want exit 2", err)
	}

	_, err = run(t, "merge-driver", empty)
	if !errors.As(err, &ee) || ee.code != 2 {
		t.Errorf("missing args: err = %v, want exit 2", err)
	}
}

func TestCLI_AgentWorkflow(t *testing.T) {
	newProject(t)
	t.Setenv("SHAPE_AGENT", "agent-a")
	first := decodeOut[models.Task](t, mustRun(t, "--json", "task", "add", "first"))
	second := decodeOut[models.Task](t, mustRun(t, "--json", "task", "add", "--dep", first.ID.String(), "second"))

	next := decodeOut[struct {
		Recommended struct {
			ID       string `json:"id"`
			Unblocks int    `json:"unblocks"`
		} `json:"recommended"`
	}](t, mustRun(t, "--json", "agent", "next"))
	if next.Recommended.ID != first.ID.String() || next.Recommended.Unblocks != 1 {
		t.Errorf("next = %+v", next)
	}

	if out := mustRun(t, "agent", "claim", first.ID.String()); !strings.Contains(out, "claimed "+first.ID.String()) {
		t.Errorf("claim output = %q", out)
	}
	if _, err := run(t, "agent", "claim", "--agent", "agent-b", first.ID.String()); err == nil || !strings.Contains(err.Error(), "agent-a") {
		t.Errorf("claim by another agent: err = %v", err)
	}
	if _, err := run(t, "agent", "claim", "--agent", "agent-b", "--force", first.ID.String()); err == nil {
		t.Error("force claim without a reason succeeded")
	}

	mustRun(t, "agent", "note", first.ID.String(), "schema", "drafted")
	mustRun(t, "agent", "link", "--commit", "abc1234", "--file", "db/schema.sql", first.ID.String())
	out := mustRun(t, "task", "show", first.ID.String())
	for _, want := range []string{"claimed:  agent-a", "link:     commit:abc1234", "note:     [agent-a] schema drafted"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	found := decodeOut[[]models.Task](t, mustRun(t, "--json", "agent", "find", "--commit", "abc"))
	if len(found) != 1 || found[0].ID != first.ID {
		t.Errorf("find = %+v", found)
	}

	claimed := mustRun(t, "agent", "claimed")
	if !strings.Contains(claimed, first.ID.String()) || !strings.Contains(claimed, "agent-a") {
		t.Errorf("claimed = %q", claimed)
	}

	mustRun(t, "agent", "block", "--on", first.ID.String(), second.ID.String(), "waiting")
	if _, err := run(t, "agent", "block", second.ID.String()); err == nil {
		t.Error("block without a reason succeeded")
	}

	mustRun(t, "task", "done", first.ID.String())
	history := mustRun(t, "agent", "history", first.ID.String())
	for _, want := range []string{"created", "claimed", `note: "schema drafted"`, "linked commit:abc1234", "completed", "unclaimed"} {
		if !strings.Contains(history, want) {
			t.Errorf("history missing %q:\n%s", want, history)
		}
	}

	summary := decodeOut[struct {
		Tasks struct {
			Done              int `json:"done"`
			ExplicitlyBlocked int `json:"explicitly_blocked"`
		} `json:"tasks"`
	}](t, mustRun(t, "--json", "agent", "summary"))
	if summary.Tasks.Done != 1 || summary.Tasks.ExplicitlyBlocked != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestCLI_ContextAndCompact(t *testing.T) {
	newProject(t)
	brief := decodeOut[models.Brief](t, mustRun(t, "--json", "brief", "new", "Launch"))
	task := decodeOut[models.Task](t, mustRun(t, "--json", "task", "add", "--parent", brief.ID.String(), "Design"))

	out := mustRun(t, "context", "--compact")
	exp := decodeOut[struct {
		Ready   []string `json:"ready"`
		Summary struct {
			Tasks int `json:"total_tasks"`
		} `json:"summary"`
	}](t, out)
	if len(exp.Ready) != 1 || exp.Ready[0] != task.ID.String()+": Design" || exp.Summary.Tasks != 1 {
		t.Errorf("context = %s", out)
	}

	if _, err := run(t, "context", "--days", "0"); err == nil {
		t.Error("expected error for --days 0")
	}

	if out := mustRun(t, "compact", "--dry-run"); !strings.Contains(out, "nothing to compact") {
		t.Errorf("compact output = %q", out)
	}
	if _, err := run(t, "compact", "--strategy", "magic"); err == nil {
		t.Error("expected error for an unknown strategy")
	}
	if _, err := run(t, "compact", "--undo", task.ID.String()); err == nil {
		t.Error("undo on a task that is not a representative succeeded")
	}
}
