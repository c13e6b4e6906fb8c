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
	"unicode"
	"unicode/utf8"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

// Compaction strategies.
const (
	StrategyBasic = "basic"
	StrategySmart = "smart"
	// StrategyLLM is accepted for configuration compatibility and
	// summarizes like StrategySmart.
	StrategyLLM = "llm"
)

// CompactRequest selects completed tasks to fold into summaries.
type CompactRequest struct {
	// Days is the minimum age of the completion.
	Days     int
	Brief    ident.ID
	Strategy string
	// MinTasks is the smallest group worth compacting.
	MinTasks int
	DryRun   bool
}

// CompactGroup is one set of tasks folded into a representative.
type CompactGroup struct {
	Representative ident.ID   `json:"representative_id"`
	Summary        string     `json:"summary"`
	TaskIDs        []ident.ID `json:"task_ids"`
	Brief          string     `json:"brief_id,omitempty"`
}

// CompactResult reports a compaction run.
type CompactResult struct {
	Compacted int            `json:"compacted"`
	Groups    []CompactGroup `json:"groups"`
	DryRun    bool           `json:"dry_run"`
}

// Compact folds old completed tasks into one summary per brief. Standalone
// tasks form their own group. The first task of a group, in id order,
// keeps the summary; the others point at it.
func (s *Service) Compact(_ context.Context, req CompactRequest) (*CompactResult, error) {
	if req.Days <= 0 {
		req.Days = 14
	}
	if req.MinTasks <= 0 {
		req.MinTasks = 3
	}
	switch req.Strategy {
	case "":
		req.Strategy = StrategySmart
	case StrategyBasic, StrategySmart, StrategyLLM:
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q (use basic, smart or llm)", apperr.ErrInvalidInput, req.Strategy)
	}
	cutoff := s.clock().Add(-time.Duration(req.Days) * 24 * time.Hour)
	res := &CompactResult{Groups: []CompactGroup{}, DryRun: req.DryRun}

	if req.DryRun {
		tasks, err := s.tasks.ReadAll()
		if err != nil {
			return nil, err
		}
		res.Groups = planCompaction(tasks, req, cutoff)
	} else {
		err := s.tasks.Update(func(tasks map[ident.ID]*models.Task) error {
			res.Groups = planCompaction(tasks, req, cutoff)
			at := s.clock()
			for _, g := range res.Groups {
				tasks[g.Representative].SetCompaction(g.Summary, g.TaskIDs, at)
				for _, id := range g.TaskIDs[1:] {
					tasks[id].CompactInto(g.Representative, at)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	for _, g := range res.Groups {
		res.Compacted += len(g.TaskIDs)
	}
	s.logger.Info("compaction finished",
		slog.Int("groups", len(res.Groups)),
		slog.Int("tasks", res.Compacted),
		slog.Bool("dry_run", req.DryRun),
		slog.String("strategy", req.Strategy))
	return res, nil
}

func planCompaction(tasks map[ident.ID]*models.Task, req CompactRequest, cutoff time.Time) []CompactGroup {
	byBrief := make(map[ident.ID][]*models.Task)
	for _, id := range models.SortedIDs(tasks) {
		t := tasks[id]
		if !t.Status.IsComplete() || t.IsCompacted() || t.IsCompactionRepresentative() {
			continue
		}
		if t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		brief, _ := id.Brief()
		if !req.Brief.IsZero() && brief != req.Brief {
			continue
		}
		byBrief[brief] = append(byBrief[brief], t)
	}

	keys := make([]ident.ID, 0, len(byBrief))
	for k := range byBrief {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, ident.Compare)

	groups := []CompactGroup{}
	for _, brief := range keys {
		members := byBrief[brief]
		if len(members) < req.MinTasks {
			continue
		}
		titles := make([]string, len(members))
		ids := make([]ident.ID, len(members))
		for i, t := range members {
			titles[i], ids[i] = t.Title, t.ID
		}
		g := CompactGroup{Representative: ids[0], Summary: summarize(titles, req.Strategy), TaskIDs: ids}
		if !brief.IsZero() {
			g.Brief = brief.String()
		}
		groups = append(groups, g)
	}
	return groups
}

// UndoCompact restores the tasks folded into representative and returns
// their ids.
func (s *Service) UndoCompact(_ context.Context, representative ident.ID) ([]ident.ID, error) {
	var restored []ident.ID
	err := s.tasks.Update(func(tasks map[ident.ID]*models.Task) error {
		rep, ok := tasks[representative]
		if !ok {
			return fmt.Errorf("task %s: %w", representative, apperr.ErrNotFound)
		}
		if !rep.IsCompactionRepresentative() {
			return fmt.Errorf("%w: task %s is not a compaction representative", apperr.ErrInvalidInput, representative)
		}
		restored = slices.Clone(rep.CompactedTasks)
		at := s.clock()
		rep.ClearCompaction(at)
		for _, id := range restored {
			if t, ok := tasks[id]; ok && id != representative {
				t.ClearCompaction(at)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("compaction undone", slog.String("id", representative.String()), slog.Int("tasks", len(restored)))
	return restored, nil
}

func summarize(titles []string, strategy string) string {
	if strategy == StrategyBasic {
		return basicSummary(titles)
	}
	return smartSummary(titles)
}

func basicSummary(titles []string) string {
	if len(titles) <= 3 {
		return fmt.Sprintf("Completed %d tasks: %s", len(titles), strings.Join(titles, ", "))
	}
	return fmt.Sprintf("Completed %d tasks: %s, and %d more", len(titles), strings.Join(titles[:3], ", "), len(titles)-3)
}

// smartSummary names the group after up to three words shared by at least
// 40% of the titles, falling back to basicSummary.
func smartSummary(titles []string) string {
	counts := make(map[string]int)
	for _, title := range titles {
		seen := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(title)) {
			w = strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) })
			if utf8.RuneCountInString(w) <= 2 || stopWords[w] || seen[w] {
				continue
			}
			seen[w] = true
			counts[w]++
		}
	}

	threshold := int(math.Ceil(float64(len(titles)) * 0.4))
	var common []string
	for w, n := range counts {
		if n >= threshold {
			common = append(common, w)
		}
	}
	if len(common) == 0 {
		return basicSummary(titles)
	}
	slices.SortFunc(common, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(common) > 3 {
		common = common[:3]
	}
	for i, w := range common {
		r, size := utf8.DecodeRuneInString(w)
		common[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return fmt.Sprintf("%s: %d tasks completed", strings.Join(common, " "), len(titles))
}

var stopWords = func() map[string]bool {
	words := strings.Fields(`the a an and or but in on at to for of with by from as is was are
		were been be have has had do does did will would could should may might must shall
		can need this that these those it its add update fix implement create remove delete change`)
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
