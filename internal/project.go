package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/shape/internal/apperr"
	"github.com/starford/shape/internal/gitrepo"
	"github.com/starford/shape/internal/index"
	"github.com/starford/shape/internal/storage"
	"github.com/starford/shape/internal/taskservice"
)

// projectIgnore keeps local-only files out of version control.
const projectIgnore = "cache.db\ncache.db-*\n.tasks.lock\n"

// Project is an opened project directory: the task file, the brief
// documents and the SQLite cache.
type Project struct {
	Root  string
	Dir   string
	Tasks *storage.TaskStore
	Docs  *storage.FS
	DB    *index.DB
}

// ResolveRoot returns the configured project root, or the enclosing git
// worktree of wd, or wd itself outside a repository.
func ResolveRoot(cfg *Config, wd string) (string, error) {
	if cfg.Project.Root != "" {
		return filepath.Abs(cfg.Project.Root)
	}
	root, err := gitrepo.FindRoot(wd)
	if errors.Is(err, gitrepo.ErrNotGitRepository) {
		return filepath.Abs(wd)
	}
	return root, err
}

// InitProject creates the project directory under root if needed. It
// reports whether anything was created.
func InitProject(cfg *Config, root string) (bool, error) {
	dir := cfg.Project.Path(root)
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Join(dir, storage.BriefsDir), 0o755); err != nil {
		return false, fmt.Errorf("create project dir: %w", err)
	}
	if err := storage.WriteFileAtomic(filepath.Join(dir, ".gitignore"), []byte(projectIgnore)); err != nil {
		return false, fmt.Errorf("write ignore file: %w", err)
	}
	if err := storage.NewTaskStore(dir).WriteAll(nil); err != nil {
		return false, fmt.Errorf("create task file: %w", err)
	}
	return true, nil
}

// OpenProject opens an initialised project under root. A missing project
// directory matches apperr.ErrNotInitialized.
func OpenProject(cfg *Config, root string) (*Project, error) {
	dir := cfg.Project.Path(root)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w (run \"shape init\")", dir, apperr.ErrNotInitialized)
	}
	docs, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.Cache.Resolve(root))
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	return &Project{
		Root:  root,
		Dir:   dir,
		Tasks: storage.NewTaskStore(dir),
		Docs:  docs,
		DB:    db,
	}, nil
}

// Service builds the task service over the project.
func (p *Project) Service(cfg *Config, logger *slog.Logger) *taskservice.Service {
	return taskservice.New(p.Tasks, p.Docs,
		taskservice.WithIndex(p.DB),
		taskservice.WithLogger(logger),
		taskservice.WithAgent(cfg.Agent.EffectiveName()),
		taskservice.WithClaimTimeout(cfg.Agent.ClaimTimeout),
		taskservice.WithAutoUnclaim(cfg.Agent.AutoUnclaimOnDone),
	)
}

// Close releases the cache.
func (p *Project) Close() error {
	return p.DB.Close()
}
