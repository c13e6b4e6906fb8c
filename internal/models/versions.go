package models

import "maps"

// Field names used in version maps and merge reports.
const (
	FieldTitle       = "title"
	FieldStatus      = "status"
	FieldDescription = "description"
	FieldCompletedAt = "completed_at"
	FieldDependsOn   = "depends_on"
	FieldClaim       = "claim"
	FieldBlocked     = "blocked"
	FieldAssignedTo  = "assigned_to"
	FieldCompaction  = "compaction"
	FieldNotes       = "notes"
	FieldLinks       = "links"
	FieldHistory     = "history"
	// MetaFieldPrefix prefixes metadata keys in merge reports.
	MetaFieldPrefix = "meta."
	// ExtraFieldPrefix prefixes unrecognised record keys in merge reports.
	ExtraFieldPrefix = "extra."
)

// FieldVersions holds one logical counter per mutable field. A counter is
// bumped on every local mutation of its field; it is not wall-clock time.
// Counters start at zero.
type FieldVersions struct {
	Title       uint64            `json:"title,omitempty"`
	Status      uint64            `json:"status,omitempty"`
	Description uint64            `json:"description,omitempty"`
	CompletedAt uint64            `json:"completed_at,omitempty"`
	DependsOn   uint64            `json:"depends_on,omitempty"`
	Meta        map[string]uint64 `json:"meta,omitempty"`
	// Claim covers claimed_by and claimed_at together.
	Claim      uint64 `json:"claim,omitempty"`
	Blocked    uint64 `json:"blocked,omitempty"`
	AssignedTo uint64 `json:"assigned_to,omitempty"`
	// Compaction covers summary, compacted_tasks and compacted_into.
	Compaction uint64 `json:"compaction,omitempty"`
}

// MetaVersion returns the counter for key, zero when never touched.
func (v *FieldVersions) MetaVersion(key string) uint64 {
	return v.Meta[key]
}

// bumpMeta increments the counter for key.
func (v *FieldVersions) bumpMeta(key string) {
	if v.Meta == nil {
		v.Meta = make(map[string]uint64)
	}
	v.Meta[key]++
}

// IsZero reports whether every counter is zero. Zero versions are omitted
// from the stored record.
func (v FieldVersions) IsZero() bool {
	return v.Title == 0 && v.Status == 0 && v.Description == 0 &&
		v.CompletedAt == 0 && v.DependsOn == 0 && len(v.Meta) == 0 &&
		v.Claim == 0 && v.Blocked == 0 && v.AssignedTo == 0 && v.Compaction == 0
}

// clone returns a deep copy.
func (v FieldVersions) clone() FieldVersions {
	v.Meta = maps.Clone(v.Meta)
	return v
}
