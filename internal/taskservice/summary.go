package taskservice

import (
	"context"
	"fmt"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

// TaskRef is a task reduced to what a status line needs.
type TaskRef struct {
	ID    ident.ID `json:"id"`
	Title string   `json:"title"`
}

// ActiveTask is an in-progress task and its claim, if any.
type ActiveTask struct {
	ID             ident.ID `json:"id"`
	Title          string   `json:"title"`
	ClaimedBy      string   `json:"claimed_by,omitempty"`
	RemainingHours float64  `json:"remaining_hours,omitempty"`
}

// ExplicitBlock is a task an agent blocked by hand.
type ExplicitBlock struct {
	ID     ident.ID `json:"id"`
	Reason string   `json:"reason"`
}

// Progress counts finished work.
type Progress struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Percent int `json:"percent"`
}

// BriefSummary is the agent-facing status of one brief.
type BriefSummary struct {
	Brief      TaskRef      `json:"brief"`
	Status     string       `json:"status"`
	Progress   Progress     `json:"progress"`
	InProgress []ActiveTask `json:"in_progress"`
	Ready      []TaskRef    `json:"ready"`
	Blocked    struct {
		ByDependencies []ident.ID      `json:"by_dependencies"`
		Explicitly     []ExplicitBlock `json:"explicitly"`
	} `json:"blocked"`
}

// ProjectSummary is the agent-facing status of the whole project.
type ProjectSummary struct {
	Briefs struct {
		Total    int `json:"total"`
		Active   int `json:"active"`
		Complete int `json:"complete"`
	} `json:"briefs"`
	Tasks struct {
		Total             int `json:"total"`
		Done              int `json:"done"`
		InProgress        int `json:"in_progress"`
		Ready             int `json:"ready"`
		Blocked           int `json:"blocked"`
		ExplicitlyBlocked int `json:"explicitly_blocked"`
	} `json:"tasks"`
	// Hot is the active brief with the most ready tasks.
	Hot        *TaskRef        `json:"hot_brief"`
	HotReady   int             `json:"hot_ready,omitempty"`
	HotBlocked int             `json:"hot_blocked,omitempty"`
	Next       *Recommendation `json:"next"`
}

// SummarizeBrief reports progress, claims and blockers for one brief.
func (s *Service) SummarizeBrief(_ context.Context, briefID ident.ID) (*BriefSummary, error) {
	if briefID.Kind() != ident.KindBrief || !briefID.IsRoot() {
		return nil, fmt.Errorf("%w: %s is not a brief", apperr.ErrInvalidInput, briefID)
	}
	b, err := s.briefs.Get(briefID)
	if err != nil {
		return nil, err
	}
	tasks, g, err := s.load()
	if err != nil {
		return nil, err
	}
	statuses := models.Statuses(tasks)
	ready := idSet(g.Ready(statuses))
	blocked := idSet(g.Blocked(statuses))
	now := s.clock()

	out := &BriefSummary{
		Brief:      TaskRef{ID: b.ID, Title: b.Title},
		Status:     string(b.Status),
		InProgress: []ActiveTask{},
		Ready:      []TaskRef{},
	}
	out.Blocked.ByDependencies = []ident.ID{}
	out.Blocked.Explicitly = []ExplicitBlock{}
	for _, id := range models.SortedIDs(tasks) {
		if owner, ok := id.Brief(); !ok || owner != briefID {
			continue
		}
		t := tasks[id]
		out.Progress.Total++
		if t.Status.IsComplete() {
			out.Progress.Done++
		}
		if t.Status.IsActive() {
			out.InProgress = append(out.InProgress, ActiveTask{
				ID:             id,
				Title:          t.Title,
				ClaimedBy:      t.ClaimHolder(),
				RemainingHours: roundHours(t.ClaimRemaining(s.claimTimeout, now)),
			})
		}
		if ready[id] {
			out.Ready = append(out.Ready, TaskRef{ID: id, Title: t.Title})
		}
		switch {
		case t.IsExplicitlyBlocked():
			out.Blocked.Explicitly = append(out.Blocked.Explicitly, ExplicitBlock{ID: id, Reason: t.Blocked.Reason})
		case blocked[id]:
			out.Blocked.ByDependencies = append(out.Blocked.ByDependencies, id)
		}
	}
	if out.Progress.Total > 0 {
		out.Progress.Percent = out.Progress.Done * 100 / out.Progress.Total
	}
	return out, nil
}

// SummarizeProject reports project-wide counts, the busiest brief and the
// best next task for agent.
func (s *Service) SummarizeProject(ctx context.Context, agent string) (*ProjectSummary, error) {
	briefs, err := s.ListBriefs(ctx)
	if err != nil {
		return nil, err
	}
	tasks, g, err := s.load()
	if err != nil {
		return nil, err
	}
	statuses := models.Statuses(tasks)
	readyIDs := g.Ready(statuses)
	ready := idSet(readyIDs)

	out := &ProjectSummary{}
	out.Briefs.Total = len(briefs)
	out.Tasks.Total = len(tasks)
	out.Tasks.Ready = len(readyIDs)
	out.Tasks.Blocked = len(g.Blocked(statuses))
	for _, t := range tasks {
		switch {
		case t.Status.IsComplete():
			out.Tasks.Done++
		case t.Status.IsActive():
			out.Tasks.InProgress++
		}
		if t.IsExplicitlyBlocked() {
			out.Tasks.ExplicitlyBlocked++
		}
	}

	for _, b := range briefs {
		if b.Status.IsComplete() {
			out.Briefs.Complete++
			continue
		}
		out.Briefs.Active++
		var nReady, nBlocked int
		for id, t := range tasks {
			if owner, ok := id.Brief(); !ok || owner != b.ID {
				continue
			}
			if ready[id] {
				nReady++
			}
			if t.IsExplicitlyBlocked() {
				nBlocked++
			}
		}
		if out.Hot == nil || nReady > out.HotReady {
			out.Hot = &TaskRef{ID: b.ID, Title: b.Title}
			out.HotReady, out.HotBlocked = nReady, nBlocked
		}
	}

	if recs := s.recommend(tasks, s.actor(agent), ident.ID{}, s.clock()); len(recs) > 0 {
		out.Next = &recs[0]
	}
	return out, nil
}

func idSet(ids []ident.ID) map[ident.ID]bool {
	out := make(map[ident.ID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
