package storage

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func task(title string) *models.Task {
	return models.NewTask(ident.NewStandalone(title, t0), title, t0)
}

func TestTaskStore_MissingFileIsEmpty(t *testing.T) {
	s := NewTaskStore(t.TempDir())
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("len = %d", len(tasks))
	}
	if _, err := s.Get(ident.NewStandalone("x", t0)); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get: %v", err)
	}
}

func TestTaskStore_WriteAllSortedAndReadBack(t *testing.T) {
	s := NewTaskStore(t.TempDir())
	a, b, c := task("a"), task("b"), task("c")
	b.SetMeta("k", "v", t0)
	in := map[ident.ID]*models.Task{a.ID: a, b.ID: b, c.ID: c}

	if err := s.WriteAll(in); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for i, id := range models.SortedIDs(in) {
		if !strings.Contains(lines[i], `"id":"`+id.String()+`"`) {
			t.Errorf("line %d = %s, want %s", i, lines[i], id)
		}
	}

	out, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	for id, want := range in {
		if !models.Equal(out[id], want) {
			t.Errorf("task %s changed on round trip", id)
		}
	}
}

func TestTaskStore_Update(t *testing.T) {
	s := NewTaskStore(t.TempDir())
	a := task("a")
	if err := s.WriteAll(map[ident.ID]*models.Task{a.ID: a}); err != nil {
		t.Fatal(err)
	}

	err := s.Update(func(tasks map[ident.ID]*models.Task) error {
		tasks[a.ID].Complete(t0)
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.Status != models.StatusDone {
		t.Errorf("status = %q", got.Status)
	}

	boom := errors.New("boom")
	err = s.Update(func(tasks map[ident.ID]*models.Task) error {
		delete(tasks, a.ID)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if _, err := s.Get(a.ID); err != nil {
		t.Error("failed update must not be written")
	}
}

func TestTaskStore_ConcurrentUpdates(t *testing.T) {
	s := NewTaskStore(t.TempDir())
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(func(tasks map[ident.ID]*models.Task) error {
				nt := models.NewTask(ident.NewStandalone("t", t0.Add(time.Duration(i))), "t", t0)
				tasks[nt.ID] = nt
				return nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}(i)
	}
	wg.Wait()
	tasks, err := s.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != n {
		t.Errorf("len = %d, want %d (lost update)", len(tasks), n)
	}
}

func TestTaskStore_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	s := NewTaskStore(dir)
	if err := os.WriteFile(s.Path(), []byte("{broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := s.ReadAll()
	var le *models.LineError
	if !errors.As(err, &le) || le.Line != 1 {
		t.Errorf("err = %v, want line error", err)
	}
}
