package index

import (
	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
)

// Index defines the cache operations used by the HTTP and MCP layers.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with fakes.
type Index interface {
	GetTask(id ident.ID) (*models.Task, error)
	ListTasks(f TaskFilter) ([]*models.Task, int, error)
	Dependents(id ident.ID) ([]ident.ID, error)
	ListBriefs(status string) ([]BriefRow, error)
	ReferencedBy(id ident.ID) ([]ident.ID, error)
	Search(query string, limit int) ([]SearchResult, error)
	Stats() (Stats, error)
	Close() error
}

// Verify *DB satisfies Index at compile time.
var _ Index = (*DB)(nil)
