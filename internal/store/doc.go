package store

import (
	"encoding/json"
	"strings"

	"github.com/samber/oops"
)

// Doc is a schemaless record. Values are kept in their JSON-decoded form
// (float64 numbers, []any arrays, map[string]any objects) so that every
// backend compares and updates them the same way.
type Doc map[string]any

// IDField is the primary key of every document.
const IDField = "_id"

func (d Doc) ID() string {
	s, _ := d[IDField].(string)
	return s
}

// Get resolves a dotted path ("profile.levelId").
func (d Doc) Get(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, or "" when absent or not a string.
func (d Doc) String(path string) string {
	v, _ := d.Get(path)
	s, _ := v.(string)
	return s
}

// Set writes v at a dotted path, creating intermediate objects as needed.
func (d Doc) Set(path string, v any) {
	parts := strings.Split(path, ".")
	m := map[string]any(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

// Unset removes the value at a dotted path. Missing paths are ignored.
func (d Doc) Unset(path string) {
	parts := strings.Split(path, ".")
	m := map[string]any(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			return
		}
		m = next
	}
	delete(m, parts[len(parts)-1])
}

// Clone returns a deep copy.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	return Doc(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Doc:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Doc:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

// Normalize round-trips d through JSON so structs, ints and typed slices
// take the canonical decoded form.
func Normalize(d Doc) (Doc, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, oops.Wrapf(err, "normalize doc")
	}
	var out Doc
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, oops.Wrapf(err, "normalize doc")
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode converts a typed record into a Doc.
func Encode(v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, oops.Wrapf(err, "encode doc")
	}
	var out Doc
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, oops.Wrapf(err, "encode doc")
	}
	return out, nil
}

// Decode fills v (a pointer to a struct) from d.
func Decode(d Doc, v any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return oops.Wrapf(err, "decode doc")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return oops.Wrapf(err, "decode doc")
	}
	return nil
}
