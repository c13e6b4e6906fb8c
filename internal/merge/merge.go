// Package merge implements the field-level three-way merge of two
// concurrent edits of the same task.
//
// Each mutable field carries a logical version counter. A side changed a
// field when its counter is above base's. When only one side changed it,
// that side wins; when both did, the higher counter wins (ties favour
// ours) and the field is reported as a conflict. Dependencies and links
// are merged as sets: additions from either side are kept, and an entry
// is removed only when both sides removed it. Notes and history only grow,
// so both sides' new entries are kept. Keys the record type does not know
// are compared by value against base.
package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/starford/shape/internal/models"
)

// ErrIDMismatch is returned when the three inputs are not the same task.
var ErrIDMismatch = errors.New("merge: task ids differ")

// Side names the input a merged value came from.
type Side string

const (
	SideBase   Side = "base"
	SideOurs   Side = "ours"
	SideTheirs Side = "theirs"
)

// Result is the outcome of merging one task.
type Result struct {
	Task *models.Task
	// Conflicted is true when any field or metadata key was changed on
	// both sides.
	Conflicted bool
	// OursFields and TheirsFields list the fields (and "meta.<key>"
	// entries) whose merged value came from that side. They are for
	// diagnostics only.
	OursFields   []string
	TheirsFields []string
	// Conflicts lists the fields that were changed on both sides.
	Conflicts []string
}

// Tasks merges ours and theirs against their common ancestor base. The
// inputs are not modified.
func Tasks(base, ours, theirs *models.Task) (*Result, error) {
	if base == nil || ours == nil || theirs == nil {
		return nil, fmt.Errorf("merge: nil task")
	}
	if base.ID != ours.ID || base.ID != theirs.ID {
		return nil, fmt.Errorf("%w: base %s, ours %s, theirs %s", ErrIDMismatch, base.ID, ours.ID, theirs.ID)
	}

	m := &merger{res: &Result{}}
	merged := base.Clone()

	bv, ov, tv := &base.Versions, &ours.Versions, &theirs.Versions
	mv := &merged.Versions

	switch m.pick(models.FieldTitle, bv.Title, ov.Title, tv.Title) {
	case SideOurs:
		merged.Title, mv.Title = ours.Title, ov.Title
	case SideTheirs:
		merged.Title, mv.Title = theirs.Title, tv.Title
	}

	switch m.pick(models.FieldStatus, bv.Status, ov.Status, tv.Status) {
	case SideOurs:
		merged.Status, mv.Status = ours.Status, ov.Status
	case SideTheirs:
		merged.Status, mv.Status = theirs.Status, tv.Status
	}

	switch m.pick(models.FieldDescription, bv.Description, ov.Description, tv.Description) {
	case SideOurs:
		merged.Description, mv.Description = clonePtr(ours.Description), ov.Description
	case SideTheirs:
		merged.Description, mv.Description = clonePtr(theirs.Description), tv.Description
	}

	switch m.pick(models.FieldCompletedAt, bv.CompletedAt, ov.CompletedAt, tv.CompletedAt) {
	case SideOurs:
		merged.CompletedAt, mv.CompletedAt = clonePtr(ours.CompletedAt), ov.CompletedAt
	case SideTheirs:
		merged.CompletedAt, mv.CompletedAt = clonePtr(theirs.CompletedAt), tv.CompletedAt
	}

	switch m.pick(models.FieldClaim, bv.Claim, ov.Claim, tv.Claim) {
	case SideOurs:
		merged.ClaimedBy, merged.ClaimedAt, mv.Claim = clonePtr(ours.ClaimedBy), clonePtr(ours.ClaimedAt), ov.Claim
	case SideTheirs:
		merged.ClaimedBy, merged.ClaimedAt, mv.Claim = clonePtr(theirs.ClaimedBy), clonePtr(theirs.ClaimedAt), tv.Claim
	}

	switch m.pick(models.FieldBlocked, bv.Blocked, ov.Blocked, tv.Blocked) {
	case SideOurs:
		merged.Blocked, mv.Blocked = cloneBlock(ours.Blocked), ov.Blocked
	case SideTheirs:
		merged.Blocked, mv.Blocked = cloneBlock(theirs.Blocked), tv.Blocked
	}

	switch m.pick(models.FieldAssignedTo, bv.AssignedTo, ov.AssignedTo, tv.AssignedTo) {
	case SideOurs:
		merged.AssignedTo, mv.AssignedTo = clonePtr(ours.AssignedTo), ov.AssignedTo
	case SideTheirs:
		merged.AssignedTo, mv.AssignedTo = clonePtr(theirs.AssignedTo), tv.AssignedTo
	}

	switch m.pick(models.FieldCompaction, bv.Compaction, ov.Compaction, tv.Compaction) {
	case SideOurs:
		copyCompaction(merged, ours)
		mv.Compaction = ov.Compaction
	case SideTheirs:
		copyCompaction(merged, theirs)
		mv.Compaction = tv.Compaction
	}

	m.mergeDependencies(merged, base, ours, theirs)
	m.mergeLinks(merged, base, ours, theirs)
	merged.Notes = appendOnly(m, models.FieldNotes, base.Notes, ours.Notes, theirs.Notes, noteEqual,
		func(n models.Note) time.Time { return n.At })
	merged.History = appendOnly(m, models.FieldHistory, base.History, ours.History, theirs.History, eventEqual,
		func(e models.HistoryEvent) time.Time { return e.At })
	m.mergeMeta(merged, base, ours, theirs)
	m.mergeExtra(merged, base, ours, theirs)

	merged.UpdatedAt = ours.UpdatedAt
	if theirs.UpdatedAt.After(ours.UpdatedAt) {
		merged.UpdatedAt = theirs.UpdatedAt
	}

	m.res.Task = merged
	return m.res, nil
}

type merger struct {
	res *Result
}

// pick applies the four-case rule to one field and records the outcome.
// It returns SideBase when neither side changed the field.
func (m *merger) pick(field string, base, ours, theirs uint64) Side {
	oursChanged := ours > base
	theirsChanged := theirs > base

	var side Side
	switch {
	case oursChanged && theirsChanged:
		m.res.Conflicted = true
		m.res.Conflicts = append(m.res.Conflicts, field)
		side = SideOurs
		if theirs > ours {
			side = SideTheirs
		}
	case oursChanged:
		side = SideOurs
	case theirsChanged:
		side = SideTheirs
	default:
		return SideBase
	}

	if side == SideOurs {
		m.res.OursFields = append(m.res.OursFields, field)
	} else {
		m.res.TheirsFields = append(m.res.TheirsFields, field)
	}
	return side
}

func (m *merger) mergeDependencies(merged, base, ours, theirs *models.Task) {
	oursAdded := difference(ours.DependsOn, base.DependsOn)
	theirsAdded := difference(theirs.DependsOn, base.DependsOn)
	oursRemoved := difference(base.DependsOn, ours.DependsOn)
	theirsRemoved := difference(base.DependsOn, theirs.DependsOn)

	var deps models.Dependencies
	for _, d := range base.DependsOn {
		if oursRemoved.Contains(d) && theirsRemoved.Contains(d) {
			continue
		}
		deps = append(deps, d)
	}
	for _, d := range slices.Concat(oursAdded, theirsAdded) {
		if !deps.Contains(d) {
			deps = append(deps, d)
		}
	}
	merged.DependsOn = deps

	if len(oursAdded) > 0 || len(oursRemoved) > 0 {
		m.res.OursFields = append(m.res.OursFields, models.FieldDependsOn)
	}
	if len(theirsAdded) > 0 || len(theirsRemoved) > 0 {
		m.res.TheirsFields = append(m.res.TheirsFields, models.FieldDependsOn)
	}
	merged.Versions.DependsOn = max(base.Versions.DependsOn, ours.Versions.DependsOn, theirs.Versions.DependsOn)
}

// mergeLinks applies the dependency set rule to links, keyed by type and
// ref.
func (m *merger) mergeLinks(merged, base, ours, theirs *models.Task) {
	var links []models.Link
	for _, l := range base.Links {
		inOurs, inTheirs := hasLink(ours.Links, l), hasLink(theirs.Links, l)
		if !inOurs {
			m.touched(SideOurs, models.FieldLinks)
		}
		if !inTheirs {
			m.touched(SideTheirs, models.FieldLinks)
		}
		if inOurs || inTheirs {
			links = append(links, l)
		}
	}
	for _, side := range []struct {
		name  Side
		links []models.Link
	}{{SideOurs, ours.Links}, {SideTheirs, theirs.Links}} {
		for _, l := range side.links {
			if hasLink(base.Links, l) {
				continue
			}
			m.touched(side.name, models.FieldLinks)
			if !hasLink(links, l) {
				links = append(links, l)
			}
		}
	}
	merged.Links = links
}

func hasLink(links []models.Link, l models.Link) bool {
	return slices.ContainsFunc(links, func(x models.Link) bool { return x.Type == l.Type && x.Ref == l.Ref })
}

// appendOnly keeps base's entries plus each side's entries that base does
// not have, ours first, then orders the result stably by time.
func appendOnly[T any](m *merger, field string, base, ours, theirs []T, eq func(a, b T) bool, at func(T) time.Time) []T {
	out := slices.Clone(base)
	for _, side := range []struct {
		name    Side
		entries []T
	}{{SideOurs, ours}, {SideTheirs, theirs}} {
		for _, e := range side.entries {
			if slices.ContainsFunc(base, func(x T) bool { return eq(x, e) }) {
				continue
			}
			m.touched(side.name, field)
			if !slices.ContainsFunc(out, func(x T) bool { return eq(x, e) }) {
				out = append(out, e)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b T) int { return at(a).Compare(at(b)) })
	if len(out) == 0 {
		return nil
	}
	return out
}

// touched records that side contributed to field, once.
func (m *merger) touched(side Side, field string) {
	list := &m.res.OursFields
	if side == SideTheirs {
		list = &m.res.TheirsFields
	}
	if !slices.Contains(*list, field) {
		*list = append(*list, field)
	}
}

// mergeExtra merges unrecognised keys by value: a side that differs from
// base wins; when both differ and disagree, ours is kept and the key is
// reported as a conflict.
func (m *merger) mergeExtra(merged, base, ours, theirs *models.Task) {
	keys := make(map[string]struct{})
	for _, t := range []*models.Task{base, ours, theirs} {
		for k := range t.Extra {
			keys[k] = struct{}{}
		}
	}
	extra := make(map[string]json.RawMessage)
	for _, k := range slices.Sorted(maps.Keys(keys)) {
		field := models.ExtraFieldPrefix + k
		bval, bok := base.Extra[k]
		oval, ook := ours.Extra[k]
		tval, tok := theirs.Extra[k]
		oursChanged := ook != bok || !bytes.Equal(oval, bval)
		theirsChanged := tok != bok || !bytes.Equal(tval, bval)

		val, ok := bval, bok
		switch {
		case oursChanged && theirsChanged:
			val, ok = oval, ook
			m.res.OursFields = append(m.res.OursFields, field)
			if ook != tok || !bytes.Equal(oval, tval) {
				m.res.Conflicted = true
				m.res.Conflicts = append(m.res.Conflicts, field)
			}
		case oursChanged:
			val, ok = oval, ook
			m.res.OursFields = append(m.res.OursFields, field)
		case theirsChanged:
			val, ok = tval, tok
			m.res.TheirsFields = append(m.res.TheirsFields, field)
		}
		if ok {
			extra[k] = slices.Clone(val)
		}
	}
	merged.Extra = nil
	if len(extra) > 0 {
		merged.Extra = extra
	}
}

func noteEqual(a, b models.Note) bool {
	return a.At.Equal(b.At) && a.By == b.By && a.Text == b.Text
}

func eventEqual(a, b models.HistoryEvent) bool {
	return a.At.Equal(b.At) && a.Event == b.Event && a.By == b.By && bytes.Equal(a.Data, b.Data)
}

// mergeMeta merges every key independently. Keys whose value was removed
// but whose counter survives take part too, so a removal on one side wins
// over an untouched value on the other.
func (m *merger) mergeMeta(merged, base, ours, theirs *models.Task) {
	keys := make(map[string]struct{})
	for _, t := range []*models.Task{base, ours, theirs} {
		for k := range t.Meta {
			keys[k] = struct{}{}
		}
		for k := range t.Versions.Meta {
			keys[k] = struct{}{}
		}
	}

	meta := make(models.Meta)
	versions := make(map[string]uint64)
	for _, key := range slices.Sorted(maps.Keys(keys)) {
		bv := base.Versions.MetaVersion(key)
		ov := ours.Versions.MetaVersion(key)
		tv := theirs.Versions.MetaVersion(key)

		src, v := base, bv
		switch m.pick(models.MetaFieldPrefix+key, bv, ov, tv) {
		case SideOurs:
			src, v = ours, ov
		case SideTheirs:
			src, v = theirs, tv
		}
		if raw, ok := src.Meta[key]; ok {
			meta[key] = slices.Clone(raw)
		}
		if v > 0 {
			versions[key] = v
		}
	}

	merged.Meta = nil
	if len(meta) > 0 {
		merged.Meta = meta
	}
	merged.Versions.Meta = nil
	if len(versions) > 0 {
		merged.Versions.Meta = versions
	}
}

// difference returns the edges of a not in b, in a's order.
func difference(a, b models.Dependencies) models.Dependencies {
	var out models.Dependencies
	for _, d := range a {
		if !b.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

func copyCompaction(dst, src *models.Task) {
	dst.Summary = clonePtr(src.Summary)
	dst.CompactedTasks = slices.Clone(src.CompactedTasks)
	dst.CompactedInto = clonePtr(src.CompactedInto)
}

func cloneBlock(b *models.BlockInfo) *models.BlockInfo {
	if b == nil {
		return nil
	}
	c := *b
	c.OnTask = clonePtr(b.OnTask)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
