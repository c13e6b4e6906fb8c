package taskservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

// manualClock is a clock the test moves by hand.
type manualClock struct{ at time.Time }

func newManualClock() *manualClock {
	return &manualClock{at: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *manualClock) now() time.Time          { return c.at }
func (c *manualClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func events(task *models.Task) []models.EventType {
	out := make([]models.EventType, len(task.History))
	for i, ev := range task.History {
		out[i] = ev.Event
	}
	return out
}

func TestClaim_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newService(t, WithAgent("agent-a"))
	task := mustAdd(t, s, AddTaskRequest{Title: "Wire the parser"})

	res, err := s.Claim(ctx, task.ID, ClaimRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Refreshed || res.Task.ClaimHolder() != "agent-a" || res.Task.Status != models.StatusInProgress {
		t.Fatalf("claim = %+v", res)
	}

	res, err = s.Claim(ctx, task.ID, ClaimRequest{})
	if err != nil || !res.Refreshed {
		t.Fatalf("reclaim: %+v, %v", res, err)
	}

	if _, err := s.Claim(ctx, task.ID, ClaimRequest{Agent: "agent-b"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("claim held task: err = %v, want ErrConflict", err)
	}
	if _, err := s.Claim(ctx, task.ID, ClaimRequest{Agent: "agent-b", Force: true}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("force without reason: err = %v, want ErrInvalidInput", err)
	}

	res, err = s.Claim(ctx, task.ID, ClaimRequest{Agent: "agent-b", Force: true, Reason: "agent-a crashed"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Previous != "agent-a" || res.Task.ClaimHolder() != "agent-b" {
		t.Errorf("force claim = %+v", res)
	}
	if n := res.Task.Notes; len(n) != 1 || n[0].Text != "Force claimed from agent-a: agent-a crashed" || n[0].By != "agent-b" {
		t.Errorf("notes = %+v", n)
	}

	got, err := s.Unclaim(ctx, task.ID, "agent-b")
	if err != nil || got.IsClaimed() {
		t.Fatalf("unclaim: %v", err)
	}
	if _, err := s.Unclaim(ctx, task.ID, ""); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second unclaim: err = %v, want ErrConflict", err)
	}

	want := []models.EventType{
		models.EventCreated, models.EventStarted, models.EventClaimed,
		models.EventNote, models.EventClaimed, models.EventUnclaimed,
	}
	if got := events(got); !equalEvents(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
}

func equalEvents(a, b []models.EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClaim_LapsedClaimTakenOver(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock()
	s := newService(t, WithClock(clock.now), WithClaimTimeout(2*time.Hour))
	task := mustAdd(t, s, AddTaskRequest{Title: "A"})

	if _, err := s.Claim(ctx, task.ID, ClaimRequest{Agent: "agent-a"}); err != nil {
		t.Fatal(err)
	}
	clock.advance(90 * time.Minute)
	claims, err := s.Claimed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 || claims[0].RemainingHours != 0.5 || claims[0].Expired {
		t.Errorf("claims = %+v", claims)
	}

	clock.advance(time.Hour)
	res, err := s.Claim(ctx, task.ID, ClaimRequest{Agent: "agent-b"})
	if err != nil {
		t.Fatalf("lapsed claim not taken over: %v", err)
	}
	if res.Previous != "agent-a" || len(res.Task.Notes) != 0 {
		t.Errorf("takeover = %+v, notes %+v", res, res.Task.Notes)
	}
}

func TestClaim_DoneTaskRejected(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	task := mustAdd(t, s, AddTaskRequest{Title: "A"})
	if _, err := s.Complete(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, task.ID, ClaimRequest{}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if _, err := s.Claim(ctx, ident.MustParse("t-0000000"), ClaimRequest{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing task: err = %v, want ErrNotFound", err)
	}
}

func TestComplete_AutoUnclaim(t *testing.T) {
	tests := []struct {
		name        string
		auto        bool
		wantClaimed bool
	}{
		{"released", true, false},
		{"kept", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newService(t, WithAgent("agent-a"), WithAutoUnclaim(tt.auto))
			task := mustAdd(t, s, AddTaskRequest{Title: "A"})
			if _, err := s.Claim(ctx, task.ID, ClaimRequest{}); err != nil {
				t.Fatal(err)
			}
			done, err := s.Complete(ctx, task.ID)
			if err != nil {
				t.Fatal(err)
			}
			if done.IsClaimed() != tt.wantClaimed {
				t.Errorf("claimed = %v, want %v", done.IsClaimed(), tt.wantClaimed)
			}
		})
	}
}

func TestLifecycle_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	s := newService(t, WithAgent("agent-a"))
	task := mustAdd(t, s, AddTaskRequest{Title: "A"})
	for _, op := range []func(context.Context, ident.ID) (*models.Task, error){s.Start, s.Start, s.Complete, s.Reopen} {
		if _, err := op(ctx, task.ID); err != nil {
			t.Fatal(err)
		}
	}
	detail, err := s.Show(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.EventType{models.EventCreated, models.EventStarted, models.EventCompleted, models.EventReopened}
	if got := events(detail.Task); !equalEvents(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
	for _, ev := range detail.Task.History {
		if ev.By != "agent-a" {
			t.Errorf("%s recorded by %q", ev.Event, ev.By)
		}
	}
}

func TestNext_Scoring(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock()
	s := newService(t, WithClock(clock.now), WithAgent("me"))

	brief, err := s.CreateBrief(ctx, "Billing", "")
	if err != nil {
		t.Fatal(err)
	}
	high := mustAdd(t, s, AddTaskRequest{Title: "high", Parent: brief.ID})
	if _, err := s.SetMeta(ctx, high.ID, "priority", "high"); err != nil {
		t.Fatal(err)
	}
	base := mustAdd(t, s, AddTaskRequest{Title: "base"})
	mustAdd(t, s, AddTaskRequest{Title: "waits", DependsOn: []ident.ID{base.ID}})
	quick := mustAdd(t, s, AddTaskRequest{Title: "quick"})
	if _, err := s.SetMeta(ctx, quick.ID, "estimate", 1); err != nil {
		t.Fatal(err)
	}
	taken := mustAdd(t, s, AddTaskRequest{Title: "taken"})
	blocked := mustAdd(t, s, AddTaskRequest{Title: "blocked"})
	if _, err := s.Block(ctx, blocked.ID, BlockRequest{Reason: "vendor"}); err != nil {
		t.Fatal(err)
	}
	clock.advance(6 * 24 * time.Hour)
	if _, err := s.Claim(ctx, taken.ID, ClaimRequest{Agent: "other"}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.Next(ctx, NextRequest{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		id    ident.ID
		score float64
	}{
		{high.ID, 31},  // 3*10 + 6/30*5
		{base.ID, 16},  // 10 + 1 unblock*5 + 1
		{quick.ID, 14}, // 10 + 1 + quick win 3
	}
	if len(recs) != len(want) {
		t.Fatalf("recommendations = %+v", recs)
	}
	for i, w := range want {
		if recs[i].ID != w.id || recs[i].Score != w.score {
			t.Errorf("rec[%d] = %s %.2f, want %s %.2f", i, recs[i].ID, recs[i].Score, w.id, w.score)
		}
	}
	if recs[0].Priority != "high" || recs[0].Brief != brief.ID.String() || recs[0].AgeDays != 6 {
		t.Errorf("top = %+v", recs[0])
	}
	if recs[2].Estimate == nil || *recs[2].Estimate != 1 {
		t.Errorf("estimate = %v", recs[2].Estimate)
	}

	one, err := s.Next(ctx, NextRequest{})
	if err != nil || len(one) != 1 || one[0].ID != high.ID {
		t.Errorf("default limit = %+v, %v", one, err)
	}
	scoped, err := s.Next(ctx, NextRequest{Brief: brief.ID, Limit: 5})
	if err != nil || len(scoped) != 1 || scoped[0].ID != high.ID {
		t.Errorf("brief filter = %+v, %v", scoped, err)
	}
	mine, err := s.Next(ctx, NextRequest{Agent: "other", Limit: 10})
	if err != nil || len(mine) != 4 {
		t.Errorf("holder sees %d candidates, want 4 (%v)", len(mine), err)
	}
}

func TestNotesLinksAndBlocks(t *testing.T) {
	ctx := context.Background()
	s := newService(t, WithAgent("agent-a"))
	task := mustAdd(t, s, AddTaskRequest{Title: "A"})
	other := mustAdd(t, s, AddTaskRequest{Title: "B"})

	if _, err := s.AddNote(ctx, task.ID, "", "  "); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty note: err = %v", err)
	}
	got, err := s.AddNote(ctx, task.ID, "", "parser done")
	if err != nil || len(got.Notes) != 1 || got.Notes[0].By != "agent-a" {
		t.Fatalf("note: %+v, %v", got, err)
	}

	if _, err := s.AddLink(ctx, task.ID, "", models.LinkCommit, "abc1234def"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddLink(ctx, other.ID, "", models.LinkFile, "internal/parser/lex.go"); err != nil {
		t.Fatal(err)
	}
	found, err := s.FindByLink(ctx, LinkQuery{Commit: "abc1234"})
	if err != nil || len(found) != 1 || found[0].ID != task.ID {
		t.Errorf("find commit = %v, %v", ids(found), err)
	}
	found, err = s.FindByLink(ctx, LinkQuery{Commit: "zzz", File: "parser/"})
	if err != nil || len(found) != 1 || found[0].ID != other.ID {
		t.Errorf("find file = %v, %v", ids(found), err)
	}
	if _, err := s.FindByLink(ctx, LinkQuery{}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty query: err = %v", err)
	}
	if _, err := s.RemoveLink(ctx, task.ID, "", models.LinkPR, "7"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("remove missing link: err = %v", err)
	}
	if got, err := s.RemoveLink(ctx, task.ID, "", models.LinkCommit, "abc1234def"); err != nil || len(got.Links) != 0 {
		t.Errorf("remove link: %+v, %v", got.Links, err)
	}

	if _, err := s.Block(ctx, task.ID, BlockRequest{Reason: "r", On: ident.MustParse("t-0000000")}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("block on missing task: err = %v", err)
	}
	if _, err := s.Block(ctx, task.ID, BlockRequest{Reason: "r", On: task.ID}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("block on self: err = %v", err)
	}
	got, err = s.Block(ctx, task.ID, BlockRequest{Reason: "needs review", On: other.ID})
	if err != nil || got.Blocked == nil || *got.Blocked.OnTask != other.ID {
		t.Fatalf("block: %+v, %v", got, err)
	}
	if _, err := s.Unblock(ctx, task.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Unblock(ctx, task.ID, ""); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second unblock: err = %v", err)
	}
}

func TestHandoff(t *testing.T) {
	ctx := context.Background()
	s := newService(t, WithAgent("agent-a"))
	task := mustAdd(t, s, AddTaskRequest{Title: "A"})
	if _, err := s.Claim(ctx, task.ID, ClaimRequest{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Handoff(ctx, task.ID, HandoffRequest{}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("no reason: err = %v", err)
	}
	got, err := s.Handoff(ctx, task.ID, HandoffRequest{Reason: "needs a human", To: "dana"})
	if err != nil {
		t.Fatal(err)
	}
	if got.IsClaimed() || got.AssignedTo == nil || *got.AssignedTo != "dana" {
		t.Errorf("handoff = claimed %v, assigned %v", got.ClaimedBy, got.AssignedTo)
	}
}

func TestSummaries(t *testing.T) {
	ctx := context.Background()
	s := newService(t, WithAgent("agent-a"))
	brief, err := s.CreateBrief(ctx, "Billing", "")
	if err != nil {
		t.Fatal(err)
	}
	done := mustAdd(t, s, AddTaskRequest{Title: "done", Parent: brief.ID})
	active := mustAdd(t, s, AddTaskRequest{Title: "active", Parent: brief.ID})
	waits := mustAdd(t, s, AddTaskRequest{Title: "waits", Parent: brief.ID, DependsOn: []ident.ID{active.ID}})
	held := mustAdd(t, s, AddTaskRequest{Title: "held", Parent: brief.ID})
	mustAdd(t, s, AddTaskRequest{Title: "loose"})

	if _, err := s.Complete(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, active.ID, ClaimRequest{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Block(ctx, held.ID, BlockRequest{Reason: "legal"}); err != nil {
		t.Fatal(err)
	}

	bs, err := s.SummarizeBrief(ctx, brief.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bs.Progress != (Progress{Total: 4, Done: 1, Percent: 25}) {
		t.Errorf("progress = %+v", bs.Progress)
	}
	if len(bs.InProgress) != 1 || bs.InProgress[0].ClaimedBy != "agent-a" || bs.InProgress[0].RemainingHours != 4 {
		t.Errorf("in progress = %+v", bs.InProgress)
	}
	if len(bs.Blocked.ByDependencies) != 1 || bs.Blocked.ByDependencies[0] != waits.ID {
		t.Errorf("dep blocked = %v", bs.Blocked.ByDependencies)
	}
	if len(bs.Blocked.Explicitly) != 1 || bs.Blocked.Explicitly[0].Reason != "legal" {
		t.Errorf("explicit = %+v", bs.Blocked.Explicitly)
	}
	if _, err := s.SummarizeBrief(ctx, active.ID); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("task id as brief: err = %v", err)
	}

	ps, err := s.SummarizeProject(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if ps.Tasks.Total != 5 || ps.Tasks.Done != 1 || ps.Tasks.InProgress != 1 || ps.Tasks.ExplicitlyBlocked != 1 {
		t.Errorf("tasks = %+v", ps.Tasks)
	}
	if ps.Briefs.Active != 1 || ps.Hot == nil || ps.Hot.ID != brief.ID || ps.HotBlocked != 1 {
		t.Errorf("briefs = %+v, hot %+v", ps.Briefs, ps.Hot)
	}
	if ps.Next == nil {
		t.Error("no next task suggested")
	}
}
