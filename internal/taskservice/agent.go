package taskservice

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

// ClaimRequest describes a claim. An empty Agent means the service's agent.
type ClaimRequest struct {
	Agent string
	// Force takes over a live claim held by someone else; Reason is then
	// required and kept as a note.
	Force  bool
	Reason string
}

// ClaimResult reports what a claim did.
type ClaimResult struct {
	Task      *models.Task `json:"task"`
	Refreshed bool         `json:"refreshed"`
	// Previous is the agent the claim was taken from.
	Previous string `json:"previous,omitempty"`
}

// ClaimInfo describes one held claim.
type ClaimInfo struct {
	ID             ident.ID  `json:"id"`
	Title          string    `json:"title"`
	ClaimedBy      string    `json:"claimed_by"`
	ClaimedAt      time.Time `json:"claimed_at"`
	RemainingHours float64   `json:"remaining_hours"`
	Expired        bool      `json:"expired"`
}

// NextRequest narrows Next. Limit defaults to 1.
type NextRequest struct {
	Agent string
	Brief ident.ID
	Limit int
}

// Recommendation is a scored candidate returned by Next.
type Recommendation struct {
	ID       ident.ID `json:"id"`
	Title    string   `json:"title"`
	Brief    string   `json:"brief_id,omitempty"`
	Priority string   `json:"priority"`
	Unblocks int      `json:"unblocks"`
	AgeDays  int      `json:"age_days"`
	Estimate *int64   `json:"estimate,omitempty"`
	Score    float64  `json:"score"`
}

// BlockRequest describes an explicit block. On is optional.
type BlockRequest struct {
	Agent  string
	Reason string
	On     ident.ID
}

// HandoffRequest describes a handoff. To is optional.
type HandoffRequest struct {
	Agent  string
	Reason string
	To     string
}

// LinkQuery matches links by substring. Empty fields are ignored.
type LinkQuery struct {
	Commit string
	File   string
}

// actor resolves who is acting for one call.
func (s *Service) actor(override string) string {
	if a := strings.TrimSpace(override); a != "" {
		return a
	}
	if s.agent != "" {
		return s.agent
	}
	return "anonymous"
}

// ClaimTimeout returns how long claims hold.
func (s *Service) ClaimTimeout() time.Duration { return s.claimTimeout }

// Claim gives a task to an agent and starts it. The holder claiming again
// refreshes the timeout. A live claim held by another agent is a conflict
// unless req.Force is set with a reason.
func (s *Service) Claim(_ context.Context, id ident.ID, req ClaimRequest) (*ClaimResult, error) {
	agent := s.actor(req.Agent)
	res := &ClaimResult{}
	t, err := s.mutate(id, "claim", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if t.Status.IsComplete() {
			return fmt.Errorf("task %s is done: %w", id, apperr.ErrConflict)
		}
		holder := t.ClaimHolder()
		switch {
		case holder == agent:
			t.RefreshClaim(at)
			res.Refreshed = true
			return nil
		case holder != "" && !t.ClaimExpired(s.claimTimeout, at):
			if !req.Force {
				return fmt.Errorf("task %s is claimed by %q (expires in %.1fh): %w",
					id, holder, t.ClaimRemaining(s.claimTimeout, at).Hours(), apperr.ErrConflict)
			}
			reason := strings.TrimSpace(req.Reason)
			if reason == "" {
				return fmt.Errorf("%w: a reason is required to take over a claim", apperr.ErrInvalidInput)
			}
			t.AddNote(agent, fmt.Sprintf("Force claimed from %s: %s", holder, reason), at)
		}
		res.Previous = holder
		t.Claim(agent, at)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Task = t
	s.logger.Info("task claimed",
		slog.String("id", id.String()),
		slog.String("agent", agent),
		slog.Bool("refreshed", res.Refreshed),
		slog.String("previous", res.Previous))
	return res, nil
}

// Unclaim releases a claim. Releasing an unclaimed task is a conflict.
func (s *Service) Unclaim(_ context.Context, id ident.ID, agent string) (*models.Task, error) {
	agent = s.actor(agent)
	return s.mutate(id, "unclaim", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if !t.Unclaim(agent, at) {
			return fmt.Errorf("task %s is not claimed: %w", id, apperr.ErrConflict)
		}
		return nil
	})
}

// Claimed lists every held claim in id order.
func (s *Service) Claimed(_ context.Context) ([]ClaimInfo, error) {
	tasks, err := s.tasks.ReadAll()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	out := []ClaimInfo{}
	for _, id := range models.SortedIDs(tasks) {
		t := tasks[id]
		if !t.IsClaimed() {
			continue
		}
		info := ClaimInfo{
			ID:             id,
			Title:          t.Title,
			ClaimedBy:      t.ClaimHolder(),
			RemainingHours: roundHours(t.ClaimRemaining(s.claimTimeout, now)),
			Expired:        t.ClaimExpired(s.claimTimeout, now),
		}
		if t.ClaimedAt != nil {
			info.ClaimedAt = *t.ClaimedAt
		}
		out = append(out, info)
	}
	return out, nil
}

func roundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*10) / 10
}

// Next scores the tasks the agent may pick up and returns the best ones,
// highest score first.
//
// score = priority*10 + unblocks*5 + min(age_days, 30)/30*5 + 3 (estimate <= 2)
//
// where priority is 3, 2 or 1 for the "priority" meta values high, medium
// and anything else.
func (s *Service) Next(_ context.Context, req NextRequest) ([]Recommendation, error) {
	tasks, err := s.tasks.ReadAll()
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	recs := s.recommend(tasks, s.actor(req.Agent), req.Brief, s.clock())
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *Service) recommend(tasks map[ident.ID]*models.Task, agent string, brief ident.ID, now time.Time) []Recommendation {
	statuses := models.Statuses(tasks)
	unblocks := make(map[ident.ID]int)
	for _, t := range tasks {
		if t.Status.IsComplete() {
			continue
		}
		for _, dep := range t.DependsOn.Blocking() {
			unblocks[dep]++
		}
	}

	out := []Recommendation{}
	for _, id := range models.SortedIDs(tasks) {
		t := tasks[id]
		if !brief.IsZero() {
			if b, ok := id.Brief(); !ok || b != brief {
				continue
			}
		}
		if !t.IsReadyFor(agent, statuses, s.claimTimeout, now) {
			continue
		}
		out = append(out, score(t, unblocks[id], now))
	}
	slices.SortStableFunc(out, func(a, b Recommendation) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

func score(t *models.Task, unblocks int, now time.Time) Recommendation {
	r := Recommendation{ID: t.ID, Title: t.Title, Unblocks: unblocks, Priority: "low"}
	if b, ok := t.ID.Brief(); ok {
		r.Brief = b.String()
	}
	priority := 1.0
	var p string
	if ok, _ := t.Meta.Get("priority", &p); ok {
		switch p {
		case "high":
			priority, r.Priority = 3, "high"
		case "medium":
			priority, r.Priority = 2, "medium"
		}
	}
	r.AgeDays = int(now.Sub(t.CreatedAt).Hours() / 24)
	var est int64
	if ok, err := t.Meta.Get("estimate", &est); ok && err == nil {
		r.Estimate = &est
	}

	r.Score = priority*10 + float64(unblocks)*5 + float64(min(r.AgeDays, 30))/30*5
	if r.Estimate != nil && *r.Estimate <= 2 {
		r.Score += 3
	}
	return r
}

// AddNote appends a note to a task.
func (s *Service) AddNote(_ context.Context, id ident.ID, agent, text string) (*models.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: note text is required", apperr.ErrInvalidInput)
	}
	agent = s.actor(agent)
	return s.mutate(id, "note", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		t.AddNote(agent, text, at)
		return nil
	})
}

// AddLink ties a task to an artifact. Adding an existing link is a no-op.
func (s *Service) AddLink(_ context.Context, id ident.ID, agent string, typ models.LinkType, ref string) (*models.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: link reference is required", apperr.ErrInvalidInput)
	}
	agent = s.actor(agent)
	return s.mutate(id, "link", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		t.AddLink(typ, ref, agent, at)
		return nil
	})
}

// RemoveLink drops a link.
func (s *Service) RemoveLink(_ context.Context, id ident.ID, agent string, typ models.LinkType, ref string) (*models.Task, error) {
	agent = s.actor(agent)
	return s.mutate(id, "unlink", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if !t.RemoveLink(typ, strings.TrimSpace(ref), agent, at) {
			return fmt.Errorf("link %s:%s on %s: %w", typ, ref, id, apperr.ErrNotFound)
		}
		return nil
	})
}

// Block marks a task explicitly blocked, optionally on another task.
func (s *Service) Block(_ context.Context, id ident.ID, req BlockRequest) (*models.Task, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: block reason is required", apperr.ErrInvalidInput)
	}
	if req.On == id {
		return nil, fmt.Errorf("%w: a task cannot block on itself", apperr.ErrInvalidInput)
	}
	agent := s.actor(req.Agent)
	return s.mutate(id, "block", func(t *models.Task, tasks map[ident.ID]*models.Task, at time.Time) error {
		if !req.On.IsZero() {
			if _, ok := tasks[req.On]; !ok {
				return fmt.Errorf("task %s: %w", req.On, apperr.ErrNotFound)
			}
		}
		t.Block(reason, agent, req.On, at)
		return nil
	})
}

// Unblock clears an explicit block.
func (s *Service) Unblock(_ context.Context, id ident.ID, agent string) (*models.Task, error) {
	agent = s.actor(agent)
	return s.mutate(id, "unblock", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		if !t.Unblock(agent, at) {
			return fmt.Errorf("task %s is not blocked: %w", id, apperr.ErrConflict)
		}
		return nil
	})
}

// Handoff leaves a note, releases the claim and optionally assigns the
// task to someone else.
func (s *Service) Handoff(_ context.Context, id ident.ID, req HandoffRequest) (*models.Task, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: handoff reason is required", apperr.ErrInvalidInput)
	}
	agent := s.actor(req.Agent)
	to := strings.TrimSpace(req.To)
	t, err := s.mutate(id, "handoff", func(t *models.Task, _ map[ident.ID]*models.Task, at time.Time) error {
		t.Handoff(reason, agent, to, at)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task handed off", slog.String("id", id.String()), slog.String("agent", agent), slog.String("to", to))
	return t, nil
}

// FindByLink returns tasks with a commit or file link containing the
// query strings, in id order.
func (s *Service) FindByLink(_ context.Context, q LinkQuery) ([]*models.Task, error) {
	if q.Commit == "" && q.File == "" {
		return nil, fmt.Errorf("%w: a commit or file is required", apperr.ErrInvalidInput)
	}
	tasks, err := s.tasks.ReadAll()
	if err != nil {
		return nil, err
	}
	out := []*models.Task{}
	for _, id := range models.SortedIDs(tasks) {
		t := tasks[id]
		if slices.ContainsFunc(t.Links, q.matches) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (q LinkQuery) matches(l models.Link) bool {
	switch l.Type {
	case models.LinkCommit:
		return q.Commit != "" && strings.Contains(l.Ref, q.Commit)
	case models.LinkFile:
		return q.File != "" && strings.Contains(l.Ref, q.File)
	}
	return false
}
