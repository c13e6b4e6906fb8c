//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS shape_fts USING fts5(
			kind UNINDEXED,
			id UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, kind, id, title, body, tags string) error {
	if err := ftsDelete(tx, kind, id); err != nil {
		return err
	}
	_, err := tx.Exec(`INSERT INTO shape_fts (kind, id, title, body, tags) VALUES (?, ?, ?, ?, ?)`,
		kind, id, title, body, tags)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, kind, id string) error {
	if _, err := tx.Exec(`DELETE FROM shape_fts WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return fmt.Errorf("index: delete fts: %w", err)
	}
	return nil
}

func ftsDeleteKind(tx *sql.Tx, kind string) error {
	if _, err := tx.Exec(`DELETE FROM shape_fts WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("index: clear fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search over tasks and briefs and
// returns matching results with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT kind,
		       id,
		       title,
		       snippet(shape_fts, 3, '<b>', '</b>', '...', 64)
		FROM shape_fts
		WHERE shape_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Kind, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
