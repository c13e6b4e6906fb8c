// Package gitrepo locates the enclosing git repository and registers the
// task merge driver with it.
package gitrepo

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/starford/shape/internal/storage"
)

// ErrNotGitRepository is returned when no repository encloses the path.
var ErrNotGitRepository = errors.New("not a git repository")

const (
	// DriverName is the merge driver key in .git/config and .gitattributes.
	DriverName = "shape"
	// DriverDescription is the human-readable name git shows for the driver.
	DriverDescription = "shape task merge driver"
	// AttributesFile is the attributes file at the worktree root.
	AttributesFile = ".gitattributes"
)

// Repo is an opened repository with a worktree.
type Repo struct {
	repo *gogit.Repository
	root string
}

// Open finds the repository enclosing path, walking up parent directories.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: resolve path: %w", err)
	}
	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("gitrepo: %s: %w", abs, ErrNotGitRepository)
	}
	if err != nil {
		return nil, fmt.Errorf("gitrepo: open: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: worktree: %w", err)
	}
	return &Repo{repo: repo, root: wt.Filesystem.Root()}, nil
}

// FindRoot returns the worktree root enclosing path.
func FindRoot(path string) (string, error) {
	r, err := Open(path)
	if err != nil {
		return "", err
	}
	return r.Root(), nil
}

// Root returns the worktree root directory.
func (r *Repo) Root() string { return r.root }

// DriverCommand is the command line git runs for the driver. %O, %A and
// %B are replaced by git with the base, ours and theirs paths. Git runs the
// line through sh, so the executable path is single-quoted.
func DriverCommand(executable string) string {
	return shellQuote(executable) + " merge-driver %O %A %B"
}

// shellQuote wraps s in single quotes, closing and reopening them around
// each embedded quote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Installed reports whether the driver section exists in the repository
// config.
func (r *Repo) Installed() (bool, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return false, fmt.Errorf("gitrepo: read config: %w", err)
	}
	sec := cfg.Raw.Section("merge")
	if !sec.HasSubsection(DriverName) {
		return false, nil
	}
	return sec.Subsection(DriverName).Option("driver") != "", nil
}

// InstallDriver writes the [merge "shape"] section to the repository
// config and the attribute line routing the task file to it. projectDir is
// the shape data directory, relative to the worktree root. Both steps are
// idempotent. It reports whether anything changed.
func (r *Repo) InstallDriver(executable, projectDir string) (bool, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return false, fmt.Errorf("gitrepo: read config: %w", err)
	}
	cmd := DriverCommand(executable)
	sub := cfg.Raw.Section("merge").Subsection(DriverName)
	configChanged := sub.Option("name") != DriverDescription || sub.Option("driver") != cmd
	if configChanged {
		sub.SetOption("name", DriverDescription)
		sub.SetOption("driver", cmd)
		if err := r.repo.SetConfig(cfg); err != nil {
			return false, fmt.Errorf("gitrepo: write config: %w", err)
		}
	}

	attrChanged, err := ensureAttribute(filepath.Join(r.root, AttributesFile), AttributeLine(projectDir))
	if err != nil {
		return false, err
	}
	return configChanged || attrChanged, nil
}

// AttributeLine is the .gitattributes entry for the task file.
func AttributeLine(projectDir string) string {
	p := filepath.ToSlash(filepath.Join(projectDir, storage.TasksFile))
	return p + " merge=" + DriverName
}

// ensureAttribute appends line to the attributes file unless an equivalent
// line is already present.
func ensureAttribute(path, line string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("gitrepo: read attributes: %w", err)
	}
	want := strings.Fields(line)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if slices.Equal(strings.Fields(sc.Text()), want) {
			return false, nil
		}
	}

	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(line)
	buf.WriteByte('\n')
	if err := storage.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return false, fmt.Errorf("gitrepo: write attributes: %w", err)
	}
	return true, nil
}
