package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

// Search hit kinds.
const (
	KindTask  = "task"
	KindBrief = "brief"
)

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	Status models.Status
	// Brief restricts the listing to tasks under one brief.
	Brief ident.ID
	// Standalone restricts the listing to t- rooted tasks.
	Standalone bool
	Limit      int
	Offset     int
}

// BriefRow represents a row in the briefs table with task rollups.
type BriefRow struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Tasks     int       `json:"tasks"`
	Done      int       `json:"done"`
}

// SearchResult represents one search hit.
type SearchResult struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Stats summarizes the cached project.
type Stats struct {
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Briefs     int `json:"briefs"`
}

// ReplaceTasks swaps the cached task set for tasks and records checksum as
// the state of the task file.
func (db *DB) ReplaceTasks(tasks map[ident.ID]*models.Task, checksum string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, q := range []string{`DELETE FROM tasks`, `DELETE FROM deps`} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("index: clear tasks: %w", err)
		}
	}
	if err := ftsDeleteKind(tx, KindTask); err != nil {
		return err
	}

	taskStmt, err := tx.Prepare(`
		INSERT INTO tasks (id, title, status, brief_id, parent_id, description, created_at, updated_at, completed_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare task insert: %w", err)
	}
	defer taskStmt.Close()
	depStmt, err := tx.Prepare(`INSERT OR IGNORE INTO deps (task_id, dep_id, type) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare dep insert: %w", err)
	}
	defer depStmt.Close()

	for _, id := range models.SortedIDs(tasks) {
		t := tasks[id]
		record, err := models.MarshalLine(t)
		if err != nil {
			return fmt.Errorf("index: encode %s: %w", id, err)
		}
		var brief, parent string
		if b, ok := id.Brief(); ok {
			brief = b.String()
		}
		if p, ok := id.Parent(); ok {
			parent = p.String()
		}
		var completed any
		if t.CompletedAt != nil {
			completed = *t.CompletedAt
		}
		if _, err := taskStmt.Exec(id.String(), t.Title, string(t.Status), brief, parent,
			t.DescriptionText(), t.CreatedAt, t.UpdatedAt, completed, string(record)); err != nil {
			return fmt.Errorf("index: insert task %s: %w", id, err)
		}
		for _, d := range t.DependsOn {
			if _, err := depStmt.Exec(id.String(), d.Task.String(), string(d.Type)); err != nil {
				return fmt.Errorf("index: insert dep: %w", err)
			}
		}
		if err := ftsUpsert(tx, KindTask, id.String(), t.Title, t.DescriptionText(), ""); err != nil {
			return err
		}
	}

	if err := setSource(tx, tasksSource, checksum); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertBrief inserts or replaces a brief, its FTS entry and the ids its
// body references.
func (db *DB) UpsertBrief(b BriefRow, body string, refs []ident.ID, checksum string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if b.Tags == nil {
		b.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(b.Tags)

	// A renamed file may still hold the id under its old path.
	if _, err := tx.Exec(`DELETE FROM briefs WHERE path = ? AND id <> ?`, b.Path, b.ID); err != nil {
		return fmt.Errorf("index: upsert brief: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO briefs (id, path, title, type, status, tags, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path       = excluded.path,
			title      = excluded.title,
			type       = excluded.type,
			status     = excluded.status,
			tags       = excluded.tags,
			body       = excluded.body,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, b.ID, b.Path, b.Title, b.Type, b.Status, string(tagsJSON), body, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert brief: %w", err)
	}

	if err := ftsUpsert(tx, KindBrief, b.ID, b.Title, body, strings.Join(b.Tags, " ")); err != nil {
		return err
	}

	_, _ = tx.Exec(`DELETE FROM refs WHERE brief_id = ?`, b.ID)
	if len(refs) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO refs (brief_id, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare ref insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range refs {
			if _, err := stmt.Exec(b.ID, target.String()); err != nil {
				return fmt.Errorf("index: insert ref: %w", err)
			}
		}
	}

	if err := setSource(tx, b.Path, checksum); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteBrief removes the brief stored at path, its FTS entry and refs.
func (db *DB) DeleteBrief(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	err = tx.QueryRow(`SELECT id FROM briefs WHERE path = ?`, path).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("index: delete brief: %w", err)
	default:
		if err := ftsDelete(tx, KindBrief, id); err != nil {
			return err
		}
		_, _ = tx.Exec(`DELETE FROM refs WHERE brief_id = ?`, id)
		_, _ = tx.Exec(`DELETE FROM briefs WHERE id = ?`, id)
	}
	_, _ = tx.Exec(`DELETE FROM sources WHERE path = ?`, path)

	return tx.Commit()
}

func setSource(tx *sql.Tx, path, checksum string) error {
	_, err := tx.Exec(`
		INSERT INTO sources (path, checksum) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET checksum = excluded.checksum
	`, path, checksum)
	if err != nil {
		return fmt.Errorf("index: record source %s: %w", path, err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a source file, or an empty
// string if it has never been indexed.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM sources WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: checksum: %w", err)
	}
	return cs, nil
}

// BriefChecksums returns the stored checksum of every indexed brief file
// keyed by path.
func (db *DB) BriefChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM sources WHERE path <> ?`, tasksSource)
	if err != nil {
		return nil, fmt.Errorf("index: brief checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// GetTask returns one cached task or apperr.ErrNotFound.
func (db *DB) GetTask(id ident.ID) (*models.Task, error) {
	var record string
	err := db.conn.QueryRow(`SELECT record FROM tasks WHERE id = ?`, id.String()).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: task %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get task: %w", err)
	}
	return models.UnmarshalLine([]byte(record))
}

// ListTasks returns the tasks matching f in id order, plus the total
// number of matches before paging.
func (db *DB) ListTasks(f TaskFilter) ([]*models.Task, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Brief.IsZero() {
		where = append(where, "brief_id = ?")
		args = append(args, f.Brief.String())
	}
	if f.Standalone {
		where = append(where, "brief_id = ''")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM tasks`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count tasks: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(`SELECT record FROM tasks`+clause+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, limit, max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, 0, err
		}
		t, err := models.UnmarshalLine([]byte(record))
		if err != nil {
			return nil, 0, fmt.Errorf("index: decode cached task: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// Dependents returns the ids of tasks that depend on id with any edge type.
func (db *DB) Dependents(id ident.ID) ([]ident.ID, error) {
	return db.ids(`SELECT DISTINCT task_id FROM deps WHERE dep_id = ? ORDER BY task_id`, id.String())
}

// ReferencedBy returns the briefs whose body mentions id.
func (db *DB) ReferencedBy(id ident.ID) ([]ident.ID, error) {
	return db.ids(`SELECT brief_id FROM refs WHERE target = ? ORDER BY brief_id`, id.String())
}

func (db *DB) ids(query string, args ...any) ([]ident.ID, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query ids: %w", err)
	}
	defer rows.Close()

	var out []ident.ID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := ident.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListBriefs returns cached briefs with task rollups, optionally filtered
// by status.
func (db *DB) ListBriefs(status string) ([]BriefRow, error) {
	query := `
		SELECT b.id, b.path, b.title, b.type, b.status, b.tags, b.created_at, b.updated_at,
		       count(t.id),
		       coalesce(sum(CASE WHEN t.status = 'done' THEN 1 ELSE 0 END), 0)
		FROM briefs b
		LEFT JOIN tasks t ON t.brief_id = b.id`
	var args []any
	if status != "" {
		query += ` WHERE b.status = ?`
		args = append(args, status)
	}
	query += ` GROUP BY b.id ORDER BY b.id`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list briefs: %w", err)
	}
	defer rows.Close()

	var out []BriefRow
	for rows.Next() {
		var (
			r    BriefRow
			tags string
		)
		if err := rows.Scan(&r.ID, &r.Path, &r.Title, &r.Type, &r.Status, &tags,
			&r.CreatedAt, &r.UpdatedAt, &r.Tasks, &r.Done); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tags), &r.Tags)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats returns task counts by status and the number of briefs.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	rows, err := db.conn.Query(`SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return s, fmt.Errorf("index: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return s, err
		}
		switch models.Status(status) {
		case models.StatusTodo:
			s.Todo = n
		case models.StatusInProgress:
			s.InProgress = n
		case models.StatusDone:
			s.Done = n
		}
	}
	if err := rows.Err(); err != nil {
		return s, err
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM briefs`).Scan(&s.Briefs); err != nil {
		return s, fmt.Errorf("index: stats: %w", err)
	}
	return s, nil
}
