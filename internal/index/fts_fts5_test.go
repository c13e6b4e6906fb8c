//go:build sqlite_fts5

package index

import (
	"testing"

	"github.com/starford/shape/internal/ident"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM shape_fts`).Scan(&count); err != nil {
		t.Fatalf("shape_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	brief := ident.New("Search", t0)
	row := BriefRow{ID: brief.String(), Path: "briefs/" + brief.String() + ".md", Title: "FTS Brief",
		Status: "proposed", CreatedAt: t0, UpdatedAt: t0}
	if err := db.UpsertBrief(row, "Shape provides powerful full-text search capabilities.", nil, "f1"); err != nil {
		t.Fatalf("UpsertBrief: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Kind != KindBrief || results[0].ID != brief.String() {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_ReplaceTasksDropsOldContent(t *testing.T) {
	db := testDB(t)
	brief, tasks := fixture()
	tasks[brief.Child(2)].SetDescription("vanishing content", t0)
	_ = db.ReplaceTasks(tasks, "1")
	delete(tasks, brief.Child(2))
	_ = db.ReplaceTasks(tasks, "2")

	results, _ := db.Search("vanishing", 10)
	if len(results) != 0 {
		t.Errorf("removed task still in FTS index: %+v", results)
	}
}

func TestFTS5_DeleteBriefRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	brief := ident.New("Gone", t0)
	row := BriefRow{ID: brief.String(), Path: "briefs/gone.md", Status: "proposed", CreatedAt: t0, UpdatedAt: t0}
	_ = db.UpsertBrief(row, "ephemeral words", nil, "g")
	_ = db.DeleteBrief(row.Path)

	results, _ := db.Search("ephemeral", 10)
	if len(results) != 0 {
		t.Errorf("deleted brief still in FTS index: %+v", results)
	}
}
