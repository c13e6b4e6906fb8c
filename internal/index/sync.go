package index

import (
	"errors"
	"io/fs"
	"log/slog"
	"path"

	"github.com/starford/shape/internal/checksum"
	"github.com/starford/shape/internal/parser"
	"github.com/starford/shape/internal/storage"
)

// tasksSource is the sources-table key of the task file.
const tasksSource = storage.TasksFile

// Sync brings the index up to date with the project directory:
//   - the task file is reloaded when its checksum changed
//   - new/changed briefs are parsed and upserted
//   - briefs removed from disk are deleted from the index
func Sync(db *DB, docs storage.Provider, tasks *storage.TaskStore, logger *slog.Logger) error {
	if _, err := syncTasks(db, tasks, logger); err != nil {
		return err
	}
	_, _, err := syncBriefs(db, docs, logger)
	return err
}

// syncTasks reloads the task file if it changed. It reports whether the
// cache was rewritten.
func syncTasks(db *DB, tasks *storage.TaskStore, logger *slog.Logger) (bool, error) {
	cs, err := checksum.File(tasks.Path())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	old, err := db.GetChecksum(tasksSource)
	if err != nil {
		return false, err
	}
	if old == cs && cs != "" {
		return false, nil
	}

	all, err := tasks.ReadAll()
	if err != nil {
		return false, err
	}
	if err := db.ReplaceTasks(all, cs); err != nil {
		return false, err
	}
	logger.Debug("sync: tasks reloaded", slog.Int("count", len(all)))
	return true, nil
}

// syncBriefs indexes changed brief documents and drops removed ones. It
// returns the paths it indexed and the paths it removed.
func syncBriefs(db *DB, docs storage.Provider, logger *slog.Logger) (indexed, removed []string, err error) {
	metas, err := docs.List(storage.BriefsDir, ".md")
	if err != nil {
		return nil, nil, err
	}
	checksums, err := db.BriefChecksums()
	if err != nil {
		return nil, nil, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := docs.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexBrief(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("path", m.Path))
		indexed = append(indexed, m.Path)
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeleteBrief(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("path", p))
		removed = append(removed, p)
	}

	return indexed, removed, nil
}

// indexBrief parses a brief document and upserts it into the DB.
func indexBrief(db *DB, p string, data []byte) error {
	b, err := parser.ParseBrief(data)
	if err != nil {
		return err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	row := BriefRow{
		ID:        b.ID.String(),
		Path:      path.Clean(p),
		Title:     b.Title,
		Type:      b.Type,
		Status:    string(b.Status),
		Tags:      res.Tags,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	return db.UpsertBrief(row, b.Body, res.Refs, checksum.Sum(data))
}
