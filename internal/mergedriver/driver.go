// Package mergedriver merges whole task collections for git.
//
// Git invokes the driver with three paths: base (%O), ours (%A) and
// theirs (%B). Every task id found in any of the three files is
// classified by where it is present and resolved; tasks present in all
// three are merged field by field. The result is written, sorted by id,
// to the ours path.
package mergedriver

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/merge"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/storage"
)

// Code is the driver's process result.
type Code int

const (
	// CodeClean means no entry needed arbitration.
	CodeClean Code = 0
	// CodeConflict means the merge completed but at least one entry was
	// resolved by a conflict rule.
	CodeConflict Code = 1
)

// ConflictKind names the arbitration rule that applied.
type ConflictKind string

const (
	ConflictField                     ConflictKind = "field"
	ConflictBothAdded                 ConflictKind = "both-added"
	ConflictDeletedOursModifiedTheirs ConflictKind = "deleted-ours-modified-theirs"
	ConflictDeletedTheirsModifiedOurs ConflictKind = "deleted-theirs-modified-ours"
)

// Conflict is one arbitrated entry.
type Conflict struct {
	ID   ident.ID
	Kind ConflictKind
	// Fields lists the fields changed on both sides for ConflictField.
	Fields []string
	// Kept is the side whose record was kept.
	Kept merge.Side
}

// Description is a short human-readable account of the conflict.
func (c Conflict) Description() string {
	switch c.Kind {
	case ConflictField:
		return fmt.Sprintf("changed on both sides: %s", strings.Join(c.Fields, ", "))
	case ConflictBothAdded:
		return fmt.Sprintf("created independently on both sides; kept %s", c.Kept)
	case ConflictDeletedOursModifiedTheirs:
		return "deleted in ours but modified in theirs; kept theirs"
	case ConflictDeletedTheirsModifiedOurs:
		return "deleted in theirs but modified in ours; kept ours"
	}
	return string(c.Kind)
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s", c.ID, c.Description())
}

// Report is the outcome of a collection merge.
type Report struct {
	Code      Code
	Conflicts []Conflict
	Merged    map[ident.ID]*models.Task
}

// Merge resolves three collections. It never fails on conflicts; they are
// reported and the merge always yields a usable collection. The inputs
// are not modified.
func Merge(base, ours, theirs map[ident.ID]*models.Task) (*Report, error) {
	ids := make(map[ident.ID]*models.Task)
	for _, m := range []map[ident.ID]*models.Task{base, ours, theirs} {
		for id, t := range m {
			ids[id] = t
		}
	}

	rep := &Report{Code: CodeClean, Merged: make(map[ident.ID]*models.Task)}
	conflict := func(c Conflict) {
		rep.Code = CodeConflict
		rep.Conflicts = append(rep.Conflicts, c)
	}

	for _, id := range models.SortedIDs(ids) {
		b, o, t := base[id], ours[id], theirs[id]

		switch {
		case b != nil && o != nil && t != nil:
			res, err := merge.Tasks(b, o, t)
			if err != nil {
				return nil, err
			}
			rep.Merged[id] = res.Task
			if res.Conflicted {
				conflict(Conflict{ID: id, Kind: ConflictField, Fields: res.Conflicts})
			}

		case b == nil && o != nil && t == nil:
			rep.Merged[id] = o.Clone()

		case b == nil && o == nil && t != nil:
			rep.Merged[id] = t.Clone()

		case b == nil && o != nil && t != nil:
			keep, side := o, merge.SideOurs
			if newer(t, o) {
				keep, side = t, merge.SideTheirs
			}
			rep.Merged[id] = keep.Clone()
			conflict(Conflict{ID: id, Kind: ConflictBothAdded, Kept: side})

		case b != nil && o == nil && t != nil:
			if !models.Equal(b, t) {
				rep.Merged[id] = t.Clone()
				conflict(Conflict{ID: id, Kind: ConflictDeletedOursModifiedTheirs, Kept: merge.SideTheirs})
			}

		case b != nil && o != nil && t == nil:
			if !models.Equal(b, o) {
				rep.Merged[id] = o.Clone()
				conflict(Conflict{ID: id, Kind: ConflictDeletedTheirsModifiedOurs, Kept: merge.SideOurs})
			}

		default:
			// Deleted on both sides.
		}
	}
	return rep, nil
}

// newer reports whether a should win over b when both sides created the
// same id: later creation instant first, then later update instant.
// Exact ties keep b.
func newer(a, b *models.Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// MergeBytes merges three encoded collections and returns the encoded
// result. The same inputs always produce the same bytes.
func MergeBytes(base, ours, theirs []byte) ([]byte, *Report, error) {
	var sets [3]map[ident.ID]*models.Task
	for i, data := range [][]byte{base, ours, theirs} {
		tasks, err := models.DecodeTasks(bytes.NewReader(data))
		if err != nil {
			return nil, nil, fmt.Errorf("mergedriver: %s: %w", slotNames[i], err)
		}
		sets[i] = tasks
	}
	rep, err := Merge(sets[0], sets[1], sets[2])
	if err != nil {
		return nil, nil, fmt.Errorf("mergedriver: %w", err)
	}
	var buf bytes.Buffer
	if err := models.EncodeTasks(&buf, rep.Merged); err != nil {
		return nil, nil, fmt.Errorf("mergedriver: encode: %w", err)
	}
	return buf.Bytes(), rep, nil
}

var slotNames = [3]string{"base", "ours", "theirs"}

// Run is the git entry point: it reads the three files, merges them,
// writes the result to oursPath and reports each conflict on the
// diagnostic writer. A returned error means nothing was written.
func Run(basePath, oursPath, theirsPath string, opts ...Option) (*Report, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}

	var inputs [3][]byte
	for i, p := range []string{basePath, oursPath, theirsPath} {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("mergedriver: read %s: %w", slotNames[i], err)
		}
		inputs[i] = data
	}

	out, rep, err := MergeBytes(inputs[0], inputs[1], inputs[2])
	if err != nil {
		return nil, err
	}
	if err := storage.WriteFileAtomic(oursPath, out); err != nil {
		return nil, fmt.Errorf("mergedriver: write result: %w", err)
	}

	for _, c := range rep.Conflicts {
		fmt.Fprintf(o.diag, "merge conflict: %s\n", c)
	}
	o.logger.Debug("merge driver finished",
		slog.String("ours", oursPath),
		slog.Int("tasks", len(rep.Merged)),
		slog.Int("conflicts", len(rep.Conflicts)),
	)
	return rep, nil
}

type options struct {
	logger *slog.Logger
	diag   io.Writer
}

func defaultOptions() *options {
	return &options{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), diag: os.Stderr}
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDiagnostics sets where conflict lines are written. The default is
// standard error.
func WithDiagnostics(w io.Writer) Option {
	return func(o *options) { o.diag = w }
}
