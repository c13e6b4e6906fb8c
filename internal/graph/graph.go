// Package graph maintains the blocking-dependency graph between tasks.
//
// Edges run from a dependency to the task it blocks ("must finish
// before"). The graph is always acyclic: an insertion that would close a
// cycle is rolled back. Only blocking edges take part; provenance, related
// and duplicate edges are annotations the graph never sees.
package graph

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

var (
	ErrSelfDependency = errors.New("self-dependency not allowed")
	ErrUnknownNode    = errors.New("task not found")
	ErrCycleDetected  = errors.New("dependency would create a cycle")
)

// Error describes a rejected edge. It matches one of the sentinels above
// through errors.Is.
type Error struct {
	Kind       error
	Dependent  ident.ID
	Dependency ident.ID
	// Missing is the absent node for ErrUnknownNode.
	Missing ident.ID
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrSelfDependency:
		return fmt.Sprintf("%v: %s", e.Kind, e.Dependent)
	case ErrCycleDetected:
		return fmt.Sprintf("%v: %s -> %s", e.Kind, e.Dependent, e.Dependency)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Missing)
}

func (e *Error) Unwrap() error { return e.Kind }

// Graph is a directed acyclic graph keyed by task id. It is not safe for
// concurrent use; callers rebuild it from the current records per query.
type Graph struct {
	g     *simple.DirectedGraph
	nodes map[ident.ID]int64
	ids   map[int64]ident.ID
	next  int64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		g:     simple.NewDirectedGraph(),
		nodes: make(map[ident.ID]int64),
		ids:   make(map[int64]ident.ID),
	}
}

// FromTasks builds a graph from the blocking edges of tasks. Targets that
// are not in tasks still become nodes so their unknown status keeps the
// dependent blocked.
//
// Edges that would close a cycle (possible after a merge of two
// independent edits) are dropped; the graph is still returned and usable,
// and the rejected edges are reported through the joined error.
func FromTasks(tasks []*models.Task) (*Graph, error) {
	gr := New()
	for _, t := range tasks {
		gr.AddNode(t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn.Blocking() {
			gr.AddNode(dep)
		}
	}

	// Insert edges in canonical order so the same records always drop the
	// same edge.
	sorted := slices.Clone(tasks)
	slices.SortFunc(sorted, func(a, b *models.Task) int { return ident.Compare(a.ID, b.ID) })

	var errs []error
	for _, t := range sorted {
		for _, dep := range t.DependsOn.Blocking() {
			if err := gr.AddEdge(t.ID, dep); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return gr, errors.Join(errs...)
}

// AddNode adds id if absent.
func (gr *Graph) AddNode(id ident.ID) {
	if _, ok := gr.nodes[id]; ok {
		return
	}
	n := gr.next
	gr.next++
	gr.nodes[id] = n
	gr.ids[n] = id
	gr.g.AddNode(simple.Node(n))
}

// RemoveNode removes id and its incident edges.
func (gr *Graph) RemoveNode(id ident.ID) bool {
	n, ok := gr.nodes[id]
	if !ok {
		return false
	}
	gr.g.RemoveNode(n)
	delete(gr.nodes, id)
	delete(gr.ids, n)
	return true
}

// Contains reports whether id is a node.
func (gr *Graph) Contains(id ident.ID) bool {
	_, ok := gr.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (gr *Graph) Len() int { return len(gr.nodes) }

// IDs returns every node, sorted.
func (gr *Graph) IDs() []ident.ID {
	out := make([]ident.ID, 0, len(gr.nodes))
	for id := range gr.nodes {
		out = append(out, id)
	}
	slices.SortFunc(out, ident.Compare)
	return out
}

// AddEdge records that dependent cannot be ready until dependency is
// complete. On error the graph is unchanged.
func (gr *Graph) AddEdge(dependent, dependency ident.ID) error {
	if dependent == dependency {
		return &Error{Kind: ErrSelfDependency, Dependent: dependent, Dependency: dependency}
	}
	to, ok := gr.nodes[dependent]
	if !ok {
		return &Error{Kind: ErrUnknownNode, Dependent: dependent, Dependency: dependency, Missing: dependent}
	}
	from, ok := gr.nodes[dependency]
	if !ok {
		return &Error{Kind: ErrUnknownNode, Dependent: dependent, Dependency: dependency, Missing: dependency}
	}
	if gr.g.HasEdgeFromTo(from, to) {
		return nil
	}

	gr.g.SetEdge(gr.g.NewEdge(simple.Node(from), simple.Node(to)))
	if _, err := topo.Sort(gr.g); err != nil {
		gr.g.RemoveEdge(from, to)
		return &Error{Kind: ErrCycleDetected, Dependent: dependent, Dependency: dependency}
	}
	return nil
}

// RemoveEdge deletes the edge if present.
func (gr *Graph) RemoveEdge(dependent, dependency ident.ID) bool {
	to, ok := gr.nodes[dependent]
	if !ok {
		return false
	}
	from, ok := gr.nodes[dependency]
	if !ok || !gr.g.HasEdgeFromTo(from, to) {
		return false
	}
	gr.g.RemoveEdge(from, to)
	return true
}

// Dependencies returns the direct blocking dependencies of id, sorted.
func (gr *Graph) Dependencies(id ident.ID) []ident.ID {
	n, ok := gr.nodes[id]
	if !ok {
		return nil
	}
	return gr.sorted(gr.g.To(n))
}

// Dependents returns the tasks directly blocked by id, sorted.
func (gr *Graph) Dependents(id ident.ID) []ident.ID {
	n, ok := gr.nodes[id]
	if !ok {
		return nil
	}
	return gr.sorted(gr.g.From(n))
}

// Ready returns the tasks with a known status that are not complete and
// whose blocking dependencies are all complete. A dependency missing from
// statuses counts as incomplete.
func (gr *Graph) Ready(statuses map[ident.ID]models.Status) []ident.ID {
	return gr.filter(statuses, func(n int64) bool {
		return !gr.anyIncomplete(n, statuses)
	})
}

// Blocked returns the tasks with a known status that are not complete and
// have at least one incomplete or unknown blocking dependency.
func (gr *Graph) Blocked(statuses map[ident.ID]models.Status) []ident.ID {
	return gr.filter(statuses, func(n int64) bool {
		return gr.anyIncomplete(n, statuses)
	})
}

// TopologicalOrder returns every node with dependencies before their
// dependents. Ties are broken by canonical id so the order is stable.
func (gr *Graph) TopologicalOrder() ([]ident.ID, error) {
	nodes, err := topo.SortStabilized(gr.g, func(ns []graph.Node) {
		slices.SortFunc(ns, func(a, b graph.Node) int {
			return ident.Compare(gr.ids[a.ID()], gr.ids[b.ID()])
		})
	})
	if err != nil {
		return nil, fmt.Errorf("graph: topological order: %w", ErrCycleDetected)
	}
	out := make([]ident.ID, len(nodes))
	for i, n := range nodes {
		out[i] = gr.ids[n.ID()]
	}
	return out, nil
}

func (gr *Graph) filter(statuses map[ident.ID]models.Status, keep func(int64) bool) []ident.ID {
	var out []ident.ID
	for id, n := range gr.nodes {
		s, known := statuses[id]
		if !known || s.IsComplete() {
			continue
		}
		if keep(n) {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, ident.Compare)
	return out
}

func (gr *Graph) anyIncomplete(n int64, statuses map[ident.ID]models.Status) bool {
	deps := gr.g.To(n)
	for deps.Next() {
		s, ok := statuses[gr.ids[deps.Node().ID()]]
		if !ok || !s.IsComplete() {
			return true
		}
	}
	return false
}

func (gr *Graph) sorted(it graph.Nodes) []ident.ID {
	var out []ident.ID
	for it.Next() {
		out = append(out, gr.ids[it.Node().ID()])
	}
	slices.SortFunc(out, ident.Compare)
	return out
}
