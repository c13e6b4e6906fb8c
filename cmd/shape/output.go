package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/index"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/taskservice"
)

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var statusMarks = map[models.Status]string{
	models.StatusTodo:       "[ ]",
	models.StatusInProgress: "[~]",
	models.StatusDone:       "[x]",
}

func (e *env) printTask(t *models.Task) error {
	if e.json {
		return e.printJSON(t)
	}
	_, err := fmt.Fprintf(e.out, "%s %s  %s\n", statusMarks[t.Status], t.ID, t.Title)
	return err
}

func (e *env) printTasks(tasks []*models.Task) error {
	if e.json {
		if tasks == nil {
			tasks = []*models.Task{}
		}
		return e.printJSON(tasks)
	}
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(e.out, "no tasks")
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", statusMarks[t.Status], t.ID, t.Title)
	}
	return tw.Flush()
}

func (e *env) printBlocked(blocked []taskservice.BlockedTask) error {
	if e.json {
		return e.printJSON(blocked)
	}
	if len(blocked) == 0 {
		_, err := fmt.Fprintln(e.out, "no blocked tasks")
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, b := range blocked {
		fmt.Fprintf(tw, "%s\t%s\twaiting on %s\n", b.Task.ID, b.Task.Title, joinIDs(b.BlockedBy))
	}
	return tw.Flush()
}

func (e *env) printDetail(d *taskservice.TaskDetail) error {
	if e.json {
		return e.printJSON(d)
	}
	t := d.Task
	w := e.out
	fmt.Fprintf(w, "%s %s\n", t.ID, t.Title)
	fmt.Fprintf(w, "status:   %s\n", t.Status)
	fmt.Fprintf(w, "ready:    %t\n", d.Ready)
	fmt.Fprintf(w, "created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04"))
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "done:     %s\n", t.CompletedAt.Format("2006-01-02 15:04"))
	}
	for _, dep := range t.DependsOn {
		fmt.Fprintf(w, "depends:  %s (%s)\n", dep.Task, dep.Type)
	}
	if len(d.BlockedBy) > 0 {
		fmt.Fprintf(w, "blocked:  %s\n", joinIDs(d.BlockedBy))
	}
	if len(d.Dependents) > 0 {
		fmt.Fprintf(w, "unblocks: %s\n", joinIDs(d.Dependents))
	}
	if len(d.Subtasks) > 0 {
		fmt.Fprintf(w, "subtasks: %s\n", joinIDs(d.Subtasks))
	}
	if len(d.ReferencedBy) > 0 {
		fmt.Fprintf(w, "refs:     %s\n", joinIDs(d.ReferencedBy))
	}
	for _, key := range t.Meta.Keys() {
		fmt.Fprintf(w, "meta:     %s=%s\n", key, t.Meta[key])
	}
	if t.IsClaimed() {
		fmt.Fprintf(w, "claimed:  %s\n", t.ClaimHolder())
	}
	if t.AssignedTo != nil {
		fmt.Fprintf(w, "assigned: %s\n", *t.AssignedTo)
	}
	if b := t.Blocked; b != nil {
		fmt.Fprintf(w, "held:     %s (by %s)\n", b.Reason, b.By)
	}
	for _, l := range t.Links {
		fmt.Fprintf(w, "link:     %s:%s\n", l.Type, l.Ref)
	}
	for _, n := range t.Notes {
		fmt.Fprintf(w, "note:     [%s] %s\n", n.By, oneLine(n.Text))
	}
	if desc := t.DescriptionText(); desc != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(desc, "\n"))
	}
	return nil
}

func (e *env) printHistory(t *models.Task) error {
	if e.json {
		return e.printJSON(map[string]any{
			"id":      t.ID,
			"title":   t.Title,
			"history": nonNil(t.History),
			"notes":   nonNil(t.Notes),
			"links":   nonNil(t.Links),
		})
	}
	w := e.out
	fmt.Fprintf(w, "%s %s\n", t.ID, t.Title)
	for _, ev := range t.History {
		by := ev.By
		if by == "" {
			by = "-"
		}
		fmt.Fprintf(w, "  %s  %-12s %s\n", ev.At.Format("2006-01-02 15:04"), by, ev.Describe())
	}
	if len(t.Notes) > 0 {
		fmt.Fprintln(w, "notes:")
		for _, n := range t.Notes {
			fmt.Fprintf(w, "  [%s] %s: %s\n", n.At.Format("2006-01-02 15:04"), n.By, n.Text)
		}
	}
	if len(t.Links) > 0 {
		fmt.Fprintln(w, "links:")
		for _, l := range t.Links {
			fmt.Fprintf(w, "  %s: %s\n", l.Type, l.Ref)
		}
	}
	return nil
}

func (e *env) printBriefSummary(s *taskservice.BriefSummary) error {
	if e.json {
		return e.printJSON(s)
	}
	w := e.out
	fmt.Fprintf(w, "%s %s [%s]\n", s.Brief.ID, s.Brief.Title, s.Status)
	fmt.Fprintf(w, "progress: %d/%d (%d%%)\n", s.Progress.Done, s.Progress.Total, s.Progress.Percent)
	for _, a := range s.InProgress {
		claim := ""
		if a.ClaimedBy != "" {
			claim = fmt.Sprintf(" [%s, %.1fh left]", a.ClaimedBy, a.RemainingHours)
		}
		fmt.Fprintf(w, "  [~] %s %s%s\n", a.ID, a.Title, claim)
	}
	for _, r := range s.Ready {
		fmt.Fprintf(w, "  [ ] %s %s\n", r.ID, r.Title)
	}
	if len(s.Blocked.ByDependencies) > 0 {
		fmt.Fprintf(w, "waiting: %s\n", joinIDs(s.Blocked.ByDependencies))
	}
	for _, b := range s.Blocked.Explicitly {
		fmt.Fprintf(w, "held:    %s %s\n", b.ID, b.Reason)
	}
	return nil
}

func (e *env) printProjectSummary(s *taskservice.ProjectSummary) error {
	if e.json {
		return e.printJSON(s)
	}
	w := e.out
	fmt.Fprintf(w, "briefs: %d (%d active, %d complete)\n", s.Briefs.Total, s.Briefs.Active, s.Briefs.Complete)
	fmt.Fprintf(w, "tasks:  %d total, %d done, %d in progress, %d ready, %d blocked\n",
		s.Tasks.Total, s.Tasks.Done, s.Tasks.InProgress, s.Tasks.Ready, s.Tasks.Blocked)
	if s.Tasks.ExplicitlyBlocked > 0 {
		fmt.Fprintf(w, "held:   %d\n", s.Tasks.ExplicitlyBlocked)
	}
	if s.Hot != nil {
		fmt.Fprintf(w, "hot:    %s %s (%d ready, %d blocked)\n", s.Hot.ID, s.Hot.Title, s.HotReady, s.HotBlocked)
	}
	if s.Next != nil {
		fmt.Fprintf(w, "next:   %s %s\n", s.Next.ID, s.Next.Title)
	}
	return nil
}

func (e *env) printCompact(res *taskservice.CompactResult, minTasks int) error {
	if e.json {
		return e.printJSON(res)
	}
	w := e.out
	if len(res.Groups) == 0 {
		_, err := fmt.Fprintf(w, "nothing to compact (groups need at least %d old completed tasks)\n", minTasks)
		return err
	}
	verb := "compacted"
	if res.DryRun {
		verb = "would compact"
	}
	fmt.Fprintf(w, "%s %d tasks into %d groups\n", verb, res.Compacted, len(res.Groups))
	for _, g := range res.Groups {
		fmt.Fprintf(w, "  %s  %s (%d tasks)\n", g.Representative, g.Summary, len(g.TaskIDs))
	}
	return nil
}

// nonNil keeps empty lists as [] in JSON output.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (e *env) printBrief(b *models.Brief) error {
	if e.json {
		return e.printJSON(b)
	}
	_, err := fmt.Fprintf(e.out, "%s  %s  [%s, %s]\n", b.ID, b.Title, b.Type, b.Status)
	return err
}

func (e *env) printBriefRows(rows []index.BriefRow) error {
	if e.json {
		if rows == nil {
			rows = []index.BriefRow{}
		}
		return e.printJSON(rows)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(e.out, "no briefs")
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d done\n", r.ID, r.Title, r.Status, r.Done, r.Tasks)
	}
	return tw.Flush()
}

func (e *env) printSearch(results []index.SearchResult) error {
	if e.json {
		if results == nil {
			results = []index.SearchResult{}
		}
		return e.printJSON(results)
	}
	if len(results) == 0 {
		_, err := fmt.Fprintln(e.out, "no results")
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Kind, r.ID, r.Title, oneLine(r.Snippet))
	}
	return tw.Flush()
}

func joinIDs(ids []ident.ID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	return strings.Join(s, ", ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
