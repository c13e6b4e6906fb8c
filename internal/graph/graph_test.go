package graph

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

var t0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func ids(n int) []ident.ID {
	out := make([]ident.ID, n)
	for i := range out {
		out[i] = ident.NewStandalone(fmt.Sprintf("task %d", i), t0)
	}
	return out
}

func graphOf(t *testing.T, nodes []ident.ID) *Graph {
	t.Helper()
	g := New()
	for _, id := range nodes {
		g.AddNode(id)
	}
	return g
}

func TestAddNode_Idempotent(t *testing.T) {
	n := ids(1)
	g := New()
	g.AddNode(n[0])
	g.AddNode(n[0])
	if g.Len() != 1 || !g.Contains(n[0]) {
		t.Errorf("len = %d", g.Len())
	}
}

func TestAddEdge_Errors(t *testing.T) {
	n := ids(3)
	g := graphOf(t, n[:2])

	err := g.AddEdge(n[0], n[0])
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("self edge: %v", err)
	}

	err = g.AddEdge(n[0], n[2])
	var ge *Error
	if !errors.Is(err, ErrUnknownNode) || !errors.As(err, &ge) || ge.Missing != n[2] {
		t.Errorf("unknown target: %v", err)
	}
	if err := g.AddEdge(n[2], n[0]); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("unknown dependent: %v", err)
	}

	if err := g.AddEdge(n[1], n[0]); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(n[1], n[0]); err != nil {
		t.Errorf("repeated edge: %v", err)
	}
}

func TestAddEdge_RejectsCycleAndRollsBack(t *testing.T) {
	n := ids(3)
	g := graphOf(t, n)
	// n0 <- n1 <- n2
	if err := g.AddEdge(n[1], n[0]); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(n[2], n[1]); err != nil {
		t.Fatal(err)
	}

	err := g.AddEdge(n[0], n[2])
	var ge *Error
	if !errors.As(err, &ge) || ge.Kind != ErrCycleDetected {
		t.Fatalf("err = %v, want cycle", err)
	}
	if ge.Dependent != n[0] || ge.Dependency != n[2] {
		t.Errorf("error names %s -> %s", ge.Dependent, ge.Dependency)
	}
	if deps := g.Dependencies(n[0]); len(deps) != 0 {
		t.Errorf("rejected edge retained: %v", deps)
	}
	if _, err := g.TopologicalOrder(); err != nil {
		t.Errorf("graph left cyclic: %v", err)
	}
}

func TestAddEdge_AcyclicAfterEverySuccess(t *testing.T) {
	n := ids(6)
	g := graphOf(t, n)
	// Try every ordered pair; the graph must stay acyclic throughout.
	for i := range n {
		for j := range n {
			before := edgeCount(g)
			err := g.AddEdge(n[i], n[j])
			if _, terr := g.TopologicalOrder(); terr != nil {
				t.Fatalf("cycle after AddEdge(%d, %d)", i, j)
			}
			if err != nil && edgeCount(g) != before {
				t.Fatalf("failed AddEdge(%d, %d) changed the graph", i, j)
			}
		}
	}
}

func edgeCount(g *Graph) int {
	total := 0
	for _, id := range g.IDs() {
		total += len(g.Dependencies(id))
	}
	return total
}

func TestRemoveEdgeAndNode(t *testing.T) {
	n := ids(3)
	g := graphOf(t, n)
	g.AddEdge(n[1], n[0])
	g.AddEdge(n[2], n[0])

	if !g.RemoveEdge(n[1], n[0]) || g.RemoveEdge(n[1], n[0]) {
		t.Error("RemoveEdge result wrong")
	}
	if !g.RemoveNode(n[0]) || g.Contains(n[0]) {
		t.Fatal("RemoveNode failed")
	}
	if deps := g.Dependencies(n[2]); len(deps) != 0 {
		t.Errorf("incident edge survived: %v", deps)
	}
	if g.RemoveNode(n[0]) {
		t.Error("second RemoveNode reported success")
	}
}

func TestReadyAndBlocked(t *testing.T) {
	n := ids(4)
	g := graphOf(t, n)
	// n1 and n2 depend on n0; n3 depends on n1 and n2.
	g.AddEdge(n[1], n[0])
	g.AddEdge(n[2], n[0])
	g.AddEdge(n[3], n[1])
	g.AddEdge(n[3], n[2])

	statuses := map[ident.ID]models.Status{}
	for _, id := range n {
		statuses[id] = models.StatusTodo
	}

	if got := g.Ready(statuses); !slices.Equal(got, []ident.ID{n[0]}) {
		t.Errorf("ready = %v, want only %s", got, n[0])
	}
	if got := g.Blocked(statuses); len(got) != 3 {
		t.Errorf("blocked = %v", got)
	}

	statuses[n[0]] = models.StatusDone
	want := []ident.ID{n[1], n[2]}
	slices.SortFunc(want, ident.Compare)
	if got := g.Ready(statuses); !slices.Equal(got, want) {
		t.Errorf("ready after completing root = %v, want %v", got, want)
	}
	if got := g.Blocked(statuses); !slices.Equal(got, []ident.ID{n[3]}) {
		t.Errorf("blocked = %v", got)
	}

	statuses[n[1]] = models.StatusDone
	if got := g.Blocked(statuses); !slices.Equal(got, []ident.ID{n[3]}) {
		t.Error("n3 still has one open dependency")
	}
	statuses[n[2]] = models.StatusInProgress
	if slices.Contains(g.Ready(statuses), n[3]) {
		t.Error("in-progress dependency is not complete")
	}
}

func TestFromTasks(t *testing.T) {
	n := ids(3)
	ghost := ident.NewStandalone("ghost", t0)
	a := models.NewTask(n[0], "a", t0)
	b := models.NewTask(n[1], "b", t0)
	c := models.NewTask(n[2], "c", t0)
	b.AddDependency(models.Blocks(a.ID), t0)
	b.AddDependency(models.Dependency{Task: c.ID, Type: models.DepRelated}, t0)
	c.AddDependency(models.Blocks(ghost), t0)

	g, err := FromTasks([]*models.Task{a, b, c})
	if err != nil {
		t.Fatalf("FromTasks: %v", err)
	}
	if !g.Contains(ghost) {
		t.Error("dangling target should be a node")
	}
	if deps := g.Dependencies(b.ID); !slices.Equal(deps, []ident.ID{a.ID}) {
		t.Errorf("non-blocking edge entered the graph: %v", deps)
	}

	statuses := models.Statuses(map[ident.ID]*models.Task{a.ID: a, b.ID: b, c.ID: c})
	ready := g.Ready(statuses)
	if !slices.Contains(ready, a.ID) || slices.Contains(ready, ghost) {
		t.Errorf("ready = %v", ready)
	}
	if !slices.Contains(g.Blocked(statuses), c.ID) {
		t.Error("task blocked on unknown dependency must be blocked")
	}
}

func TestFromTasks_DropsCyclicEdge(t *testing.T) {
	n := ids(2)
	a := models.NewTask(n[0], "a", t0)
	b := models.NewTask(n[1], "b", t0)
	a.AddDependency(models.Blocks(b.ID), t0)
	b.AddDependency(models.Blocks(a.ID), t0)

	g, err := FromTasks([]*models.Task{a, b})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("err = %v, want cycle", err)
	}
	if g == nil || g.Len() != 2 {
		t.Fatal("graph should still be returned")
	}
	if _, err := g.TopologicalOrder(); err != nil {
		t.Errorf("returned graph is cyclic: %v", err)
	}
	if edgeCount(g) != 1 {
		t.Errorf("edges = %d, want 1", edgeCount(g))
	}
}

func TestTopologicalOrder(t *testing.T) {
	n := ids(5)
	g := graphOf(t, n)
	g.AddEdge(n[1], n[0])
	g.AddEdge(n[2], n[1])
	g.AddEdge(n[4], n[3])

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	if len(order) != 5 {
		t.Fatalf("order = %v", order)
	}
	pos := make(map[ident.ID]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, e := range [][2]int{{1, 0}, {2, 1}, {4, 3}} {
		if pos[n[e[1]]] > pos[n[e[0]]] {
			t.Errorf("%s ordered after its dependent %s", n[e[1]], n[e[0]])
		}
	}

	again, _ := g.TopologicalOrder()
	if !slices.Equal(order, again) {
		t.Error("order is not stable")
	}
}
