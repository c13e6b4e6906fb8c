package models

import (
	"encoding/json"
	"fmt"

	"github.com/starford/shape/internal/ident"
)

// DependencyType is the kind of an edge between two tasks.
type DependencyType string

const (
	// DepBlocks means the target must be complete before this task is ready.
	DepBlocks DependencyType = "blocks"
	// DepProvenance records that this task was created because of the target.
	DepProvenance DependencyType = "provenance"
	// DepRelated links related tasks without ordering them.
	DepRelated DependencyType = "related"
	// DepDuplicates marks this task as a duplicate of the target.
	DepDuplicates DependencyType = "duplicates"
)

// ParseDependencyType accepts the stored names and the short CLI labels.
func ParseDependencyType(s string) (DependencyType, error) {
	switch s {
	case "", "blocks", "block":
		return DepBlocks, nil
	case "provenance", "from":
		return DepProvenance, nil
	case "related", "link":
		return DepRelated, nil
	case "duplicates", "dup":
		return DepDuplicates, nil
	}
	return "", fmt.Errorf("unknown dependency type %q", s)
}

// AffectsReadiness reports whether edges of this type gate readiness.
// Only blocking edges do; the others are annotations.
func (t DependencyType) AffectsReadiness() bool {
	return t == DepBlocks
}

// Dependency is a typed edge to another task.
type Dependency struct {
	Task ident.ID       `json:"task"`
	Type DependencyType `json:"type"`
}

// Blocks is a convenience constructor for a blocking dependency.
func Blocks(id ident.ID) Dependency {
	return Dependency{Task: id, Type: DepBlocks}
}

// UnmarshalJSON accepts both the object form and the legacy bare string
// form, which always meant a blocking dependency.
func (d *Dependency) UnmarshalJSON(data []byte) error {
	var id ident.ID
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*d = Blocks(id)
		return nil
	}
	var raw struct {
		Task ident.ID       `json:"task"`
		Type DependencyType `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Task.IsZero() {
		return fmt.Errorf("dependency: missing task")
	}
	t, err := ParseDependencyType(string(raw.Type))
	if err != nil {
		return err
	}
	*d = Dependency{Task: raw.Task, Type: t}
	return nil
}

// Dependencies is an ordered set of edges; (task, type) pairs are unique.
type Dependencies []Dependency

// Contains reports whether the exact edge is present.
func (ds Dependencies) Contains(d Dependency) bool {
	for _, x := range ds {
		if x == d {
			return true
		}
	}
	return false
}

// ContainsBlocking reports whether id is a blocking dependency.
func (ds Dependencies) ContainsBlocking(id ident.ID) bool {
	return ds.Contains(Blocks(id))
}

// Blocking returns the targets of blocking edges in order.
func (ds Dependencies) Blocking() []ident.ID {
	var out []ident.ID
	for _, d := range ds {
		if d.Type.AffectsReadiness() {
			out = append(out, d.Task)
		}
	}
	return out
}

// ByType returns the edges of one type.
func (ds Dependencies) ByType(t DependencyType) Dependencies {
	var out Dependencies
	for _, d := range ds {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}
