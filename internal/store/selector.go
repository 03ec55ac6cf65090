package store

import (
	"reflect"
	"sort"
)

// Selector filters documents. Keys are dotted paths; values are either a
// literal (equality, or membership when the field holds an array) or an
// operator object using $ne, $exists or $in.
type Selector map[string]any

// ByID selects a single document by primary key.
func ByID(id string) Selector {
	return Selector{IDField: id}
}

// Match reports whether d satisfies every condition of s.
func (s Selector) Match(d Doc) bool {
	for path, cond := range s {
		v, present := d.Get(path)
		if ops, ok := operatorObject(cond); ok {
			if !matchOps(v, present, ops) {
				return false
			}
			continue
		}
		if !present || !matchValue(v, cond) {
			return false
		}
	}
	return true
}

// EqualString returns the plain string equality condition on path, if any.
// Backends use it to narrow candidate rows before Match.
func (s Selector) EqualString(path string) (string, bool) {
	v, ok := s[path]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

func operatorObject(cond any) (map[string]any, bool) {
	m, ok := asMap(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return nil, false
		}
	}
	return m, true
}

func matchOps(v any, present bool, ops map[string]any) bool {
	for op, arg := range ops {
		switch op {
		case "$ne":
			if present && matchValue(v, arg) {
				return false
			}
		case "$exists":
			want, _ := arg.(bool)
			if present != want {
				return false
			}
		case "$in":
			if !present {
				return false
			}
			found := false
			for _, candidate := range toSlice(arg) {
				if matchValue(v, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// matchValue is equality with array-membership semantics on the stored side.
func matchValue(stored, want any) bool {
	if arr, ok := stored.([]any); ok {
		if _, wantArr := want.([]any); !wantArr {
			for _, el := range arr {
				if valuesEqual(el, want) {
					return true
				}
			}
			return false
		}
	}
	return valuesEqual(stored, want)
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, err := normalizeValue(a)
	if err != nil {
		return false
	}
	nb, err := normalizeValue(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Select applies a selector and find options to an already-loaded candidate
// set. Results are ordered by _id.
func Select(candidates []Doc, sel Selector, opts FindOptions) []Doc {
	out := make([]Doc, 0, len(candidates))
	for _, d := range candidates {
		if sel.Match(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	if len(opts.Fields) > 0 {
		for i := range out {
			out[i] = Project(out[i], opts.Fields)
		}
	}
	return out
}

// Project keeps _id plus the listed fields.
func Project(d Doc, fields []string) Doc {
	out := Doc{IDField: d[IDField]}
	for _, f := range fields {
		if v, ok := d.Get(f); ok {
			out.Set(f, cloneValue(v))
		}
	}
	return out
}
