// Package ident implements the hierarchical record identifiers used by
// shape.
//
// Identifier format:
//   - Brief roots: b-{hash}, e.g. b-7f2b4c1 (legacy a-{hash} is accepted on
//     input and re-emitted as b-{hash})
//   - Tasks under a brief: b-{hash}.{seq}, e.g. b-7f2b4c1.1
//   - Standalone tasks: t-{hash}, e.g. t-9d3e5f2
//   - Subtasks: {parent}.{seq}, e.g. b-7f2b4c1.1.2 or t-9d3e5f2.1
//
// The hash is the first seven hex characters of a BLAKE3 digest over the
// title and creation instant, so the same title created at two different
// instants yields two different identifiers.
package ident

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// HashLen is the number of hex characters kept from the digest.
const HashLen = 7

// Kind distinguishes the two identifier roots.
type Kind uint8

const (
	// KindBrief roots identify organizing documents and the tasks under them.
	KindBrief Kind = iota
	// KindTask roots identify standalone tasks.
	KindTask
)

// Prefix returns the canonical display prefix for the kind.
func (k Kind) Prefix() string {
	if k == KindTask {
		return "t-"
	}
	return "b-"
}

func (k Kind) String() string {
	if k == KindTask {
		return "task"
	}
	return "brief"
}

// legacyBriefPrefix is the prefix briefs were written with before the
// anchor -> brief rename.
const legacyBriefPrefix = "a-"

// ErrInvalidID is matched by every parse failure.
var ErrInvalidID = errors.New("invalid identifier")

// InvalidIDError carries the offending text.
type InvalidIDError struct {
	Text   string
	Reason string
}

func (e *InvalidIDError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid identifier %q", e.Text)
	}
	return fmt.Sprintf("invalid identifier %q: %s", e.Text, e.Reason)
}

// Is reports whether target is ErrInvalidID.
func (e *InvalidIDError) Is(target error) bool {
	return target == ErrInvalidID
}

// ID is a record identifier. The zero value is not a valid identifier.
//
// ID is comparable: two IDs are == iff hash, kind and segment sequence are
// all equal, so it can be used directly as a map key.
type ID struct {
	hash string
	kind Kind
	// path is the canonical ".1.2" suffix; empty for roots.
	path string
}

// New derives a brief (organizing document) root identifier.
func New(title string, at time.Time) ID {
	return ID{hash: digest(title, at), kind: KindBrief}
}

// NewStandalone derives a standalone task root identifier.
func NewStandalone(title string, at time.Time) ID {
	return ID{hash: digest(title, at), kind: KindTask}
}

// Child returns parent extended with one segment. Sequences start at 1;
// Child panics when seq is 0. Use ChildChecked for untrusted input.
func Child(parent ID, seq uint32) ID {
	if seq == 0 {
		panic("ident: child sequence must be positive")
	}
	return ID{
		hash: parent.hash,
		kind: parent.kind,
		path: parent.path + "." + strconv.FormatUint(uint64(seq), 10),
	}
}

func digest(title string, at time.Time) string {
	sum := blake3.Sum256([]byte(title + strconv.FormatInt(at.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])[:HashLen]
}

// Child is shorthand for Child(id, seq) and panics on the same input.
func (id ID) Child(seq uint32) ID {
	return Child(id, seq)
}

// ChildChecked is Child that reports a zero sequence as an error.
func ChildChecked(parent ID, seq uint32) (ID, error) {
	if seq == 0 {
		return ID{}, fmt.Errorf("ident: child sequence must be positive")
	}
	return Child(parent, seq), nil
}

// Hash returns the hash portion.
func (id ID) Hash() string { return id.hash }

// Kind returns the root kind.
func (id ID) Kind() Kind { return id.kind }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id.hash == "" }

// IsStandalone reports whether id belongs to the standalone task root.
func (id ID) IsStandalone() bool { return id.kind == KindTask }

// Segments returns a copy of the segment sequence.
func (id ID) Segments() []uint32 {
	if id.path == "" {
		return nil
	}
	parts := strings.Split(id.path[1:], ".")
	out := make([]uint32, len(parts))
	for i, p := range parts {
		n, _ := strconv.ParseUint(p, 10, 32)
		out[i] = uint32(n)
	}
	return out
}

// Depth is the number of segments.
func (id ID) Depth() int {
	return strings.Count(id.path, ".")
}

// IsRoot reports whether id has no segments.
func (id ID) IsRoot() bool { return id.path == "" }

// IsSubtask reports whether id has a parent task (as opposed to a parent
// brief or no parent at all).
func (id ID) IsSubtask() bool {
	if id.kind == KindTask {
		return id.Depth() > 0
	}
	return id.Depth() > 1
}

// Root returns id with every segment removed.
func (id ID) Root() ID {
	return ID{hash: id.hash, kind: id.kind}
}

// Brief returns the owning brief for brief-kind identifiers.
func (id ID) Brief() (ID, bool) {
	if id.kind != KindBrief || id.IsZero() {
		return ID{}, false
	}
	return id.Root(), true
}

// Parent returns id with its last segment removed, or false for a root.
func (id ID) Parent() (ID, bool) {
	i := strings.LastIndexByte(id.path, '.')
	if i < 0 {
		return ID{}, false
	}
	return ID{hash: id.hash, kind: id.kind, path: id.path[:i]}, true
}

// String returns the canonical display form.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.kind.Prefix() + id.hash + id.path
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, errors.New("ident: marshal zero identifier")
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse reads an identifier in canonical or legacy form.
func Parse(text string) (ID, error) {
	s := strings.TrimSpace(text)

	var kind Kind
	switch {
	case strings.HasPrefix(s, "b-"), strings.HasPrefix(s, legacyBriefPrefix):
		kind = KindBrief
	case strings.HasPrefix(s, "t-"):
		kind = KindTask
	default:
		return ID{}, &InvalidIDError{Text: text, Reason: "unknown prefix"}
	}

	parts := strings.Split(s[2:], ".")
	hash := strings.ToLower(parts[0])
	if !isHash(hash) {
		return ID{}, &InvalidIDError{Text: text, Reason: fmt.Sprintf("hash must be %d hex characters", HashLen)}
	}

	var b strings.Builder
	for _, seg := range parts[1:] {
		if !isSequence(seg) {
			return ID{}, &InvalidIDError{Text: text, Reason: fmt.Sprintf("invalid sequence %q", seg)}
		}
		b.WriteByte('.')
		b.WriteString(seg)
	}

	return ID{hash: hash, kind: kind, path: b.String()}, nil
}

// MustParse is Parse for tests and constants. It panics on error.
func MustParse(text string) ID {
	id, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return id
}

func isHash(s string) bool {
	if len(s) != HashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// isSequence accepts positive decimal integers that fit in 32 bits,
// without sign or leading zeros.
func isSequence(s string) bool {
	if s == "" || s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	_, err := strconv.ParseUint(s, 10, 32)
	return err == nil
}

// Compare orders identifiers by canonical text.
func Compare(a, b ID) int {
	return strings.Compare(a.String(), b.String())
}
