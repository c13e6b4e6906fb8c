package models

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/starford/shape/internal/ident"
)

// maxLineSize bounds a single record line.
const maxLineSize = 4 << 20

// LineError reports a record line that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// MarshalLine encodes t as one compact JSON object without a trailing
// newline.
func MarshalLine(t *Task) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// UnmarshalLine decodes one record line. Status aliases are normalised;
// an unknown status is an error.
func UnmarshalLine(line []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(line, &t); err != nil {
		return nil, err
	}
	if t.ID.IsZero() {
		return nil, fmt.Errorf("record has no id")
	}
	if t.Status == "" {
		t.Status = StatusTodo
	} else {
		st, err := ParseStatus(string(t.Status))
		if err != nil {
			return nil, err
		}
		t.Status = st
	}
	for k, v := range t.Meta {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("meta %q: %w", k, err)
		}
		t.Meta[k] = buf.Bytes()
	}
	return &t, nil
}

// taskFields has Task's layout without its JSON methods.
type taskFields Task

// taskKeys holds the JSON keys Task declares.
var taskKeys = func() map[string]struct{} {
	keys := make(map[string]struct{})
	rt := reflect.TypeFor[Task]()
	for i := range rt.NumField() {
		name, _, _ := strings.Cut(rt.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = struct{}{}
		}
	}
	return keys
}()

// MarshalJSON writes the declared fields followed by the preserved
// unknown keys in sorted order.
func (t Task) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(taskFields(t)); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	if len(t.Extra) == 0 {
		return out, nil
	}

	out = bytes.TrimSuffix(out, []byte{'}'})
	for _, k := range slices.Sorted(maps.Keys(t.Extra)) {
		if _, declared := taskKeys[k]; declared {
			continue
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out = append(out, ',')
		out = append(out, key...)
		out = append(out, ':')
		out = append(out, t.Extra[k]...)
	}
	return append(out, '}'), nil
}

// UnmarshalJSON decodes the declared fields and keeps every other key in
// Extra as compact raw JSON.
func (t *Task) UnmarshalJSON(data []byte) error {
	var f taskFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	f.Extra = nil
	for k, v := range all {
		if _, declared := taskKeys[k]; declared {
			continue
		}
		var c bytes.Buffer
		if err := json.Compact(&c, v); err != nil {
			return fmt.Errorf("%q: %w", k, err)
		}
		if f.Extra == nil {
			f.Extra = make(map[string]json.RawMessage)
		}
		f.Extra[k] = c.Bytes()
	}
	*t = Task(f)
	return nil
}

// DecodeTasks reads a line-delimited record collection. Blank lines are
// skipped; any malformed line aborts with a *LineError. A later line with
// an id already seen replaces the earlier one.
func DecodeTasks(r io.Reader) (map[ident.ID]*Task, error) {
	tasks := make(map[ident.ID]*Task)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		t, err := UnmarshalLine(line)
		if err != nil {
			return nil, &LineError{Line: n, Err: err}
		}
		tasks[t.ID] = t
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// EncodeTasks writes tasks one per line, sorted by canonical id, so the
// same collection always produces the same bytes.
func EncodeTasks(w io.Writer, tasks map[ident.ID]*Task) error {
	bw := bufio.NewWriter(w)
	for _, id := range SortedIDs(tasks) {
		line, err := MarshalLine(tasks[id])
		if err != nil {
			return fmt.Errorf("encode %s: %w", id, err)
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
