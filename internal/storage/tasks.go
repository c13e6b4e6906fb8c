package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

const (
	// TasksFile is the task collection inside the project directory.
	TasksFile = "tasks.jsonl"
	lockName  = ".tasks.lock"
)

// TaskStore reads and writes the line-delimited task file. Reads take a
// shared lock, writes an exclusive one; writes replace the file
// atomically with records sorted by id.
type TaskStore struct {
	path     string
	lockPath string
}

// NewTaskStore returns a store for the task file in dir.
func NewTaskStore(dir string) *TaskStore {
	return &TaskStore{
		path:     filepath.Join(dir, TasksFile),
		lockPath: filepath.Join(dir, lockName),
	}
}

// Path returns the task file path.
func (s *TaskStore) Path() string { return s.path }

// ReadAll returns every task. A missing file is an empty collection.
func (s *TaskStore) ReadAll() (map[ident.ID]*models.Task, error) {
	lock, err := lockFile(s.lockPath, false)
	if err != nil {
		return nil, err
	}
	defer lock.unlock()
	return s.read()
}

// Get returns one task or apperr.ErrNotFound.
func (s *TaskStore) Get(id ident.ID) (*models.Task, error) {
	tasks, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	t, ok := tasks[id]
	if !ok {
		return nil, fmt.Errorf("storage: task %s: %w", id, apperr.ErrNotFound)
	}
	return t, nil
}

// WriteAll replaces the task file with tasks.
func (s *TaskStore) WriteAll(tasks map[ident.ID]*models.Task) error {
	lock, err := lockFile(s.lockPath, true)
	if err != nil {
		return err
	}
	defer lock.unlock()
	return s.write(tasks)
}

// Update runs fn on the current collection while holding the exclusive
// lock and writes the result back unless fn fails.
func (s *TaskStore) Update(fn func(tasks map[ident.ID]*models.Task) error) error {
	lock, err := lockFile(s.lockPath, true)
	if err != nil {
		return err
	}
	defer lock.unlock()

	tasks, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(tasks); err != nil {
		return err
	}
	return s.write(tasks)
}

func (s *TaskStore) read() (map[ident.ID]*models.Task, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[ident.ID]*models.Task), nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open tasks: %w", err)
	}
	defer f.Close()

	tasks, err := models.DecodeTasks(f)
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", s.path, err)
	}
	return tasks, nil
}

func (s *TaskStore) write(tasks map[ident.ID]*models.Task) error {
	var buf bytes.Buffer
	if err := models.EncodeTasks(&buf, tasks); err != nil {
		return fmt.Errorf("storage: encode tasks: %w", err)
	}
	return WriteFileAtomic(s.path, buf.Bytes())
}
