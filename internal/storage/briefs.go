package storage

import (
	"fmt"
	"path"
	"slices"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/parser"
)

// BriefsDir holds one Markdown document per brief.
const BriefsDir = "briefs"

// BriefStore keeps briefs as Markdown files under BriefsDir.
type BriefStore struct {
	fs Provider
}

// NewBriefStore returns a store over p, rooted at the project directory.
func NewBriefStore(p Provider) *BriefStore {
	return &BriefStore{fs: p}
}

func briefPath(id ident.ID) string {
	return path.Join(BriefsDir, id.String()+".md")
}

// Get reads one brief. A missing brief matches apperr.ErrNotFound.
func (s *BriefStore) Get(id ident.ID) (*models.Brief, error) {
	data, err := s.fs.Read(briefPath(id))
	if err != nil {
		return nil, err
	}
	b, err := parser.ParseBrief(data)
	if err != nil {
		return nil, fmt.Errorf("storage: brief %s: %w", id, err)
	}
	return b, nil
}

// Save writes b, replacing any previous version.
func (s *BriefStore) Save(b *models.Brief) error {
	data, err := parser.FormatBrief(b)
	if err != nil {
		return err
	}
	return s.fs.Write(briefPath(b.ID), data)
}

// Delete removes the brief document.
func (s *BriefStore) Delete(id ident.ID) error {
	return s.fs.Delete(briefPath(id))
}

// List returns every brief sorted by id. Files that do not parse are
// skipped and reported in the second return value.
func (s *BriefStore) List() ([]*models.Brief, []error, error) {
	files, err := s.fs.List(BriefsDir, ".md")
	if err != nil {
		return nil, nil, err
	}
	var (
		out []*models.Brief
		bad []error
	)
	for _, fi := range files {
		data, err := s.fs.Read(fi.Path)
		if err != nil {
			return nil, nil, err
		}
		b, err := parser.ParseBrief(data)
		if err != nil {
			bad = append(bad, fmt.Errorf("%s: %w", fi.Path, err))
			continue
		}
		b.Checksum = fi.Checksum
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *models.Brief) int { return ident.Compare(a.ID, b.ID) })
	return out, bad, nil
}
