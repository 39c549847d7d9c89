// Package pathtree holds the pure operations behind the synchronized store:
// reading, writing and merge-updating a JSON tree addressed by slash paths.
//
// Values are always in the encoding/json data model (map[string]any, []any,
// string, float64, bool, nil). Writes are copy-on-write along the written
// path, so a root handed out earlier is never mutated afterwards.
package pathtree

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidKey = errors.New("invalid key")
var ErrUnencodable = errors.New("value cannot be encoded")
var ErrOverlap = errors.New("overlapping update paths")

const forbidden = ".#$[]"

// Split turns "rooms//abc/participants/" into [rooms abc participants].
// The empty path (or "/") is the root and yields no keys.
func Split(path string) ([]string, error) {
	parts := strings.Split(path, "/")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if err := ValidKey(p); err != nil {
			return nil, err
		}
		keys = append(keys, p)
	}
	return keys, nil
}

// ValidKey reports whether k can be used as a single path segment.
func ValidKey(k string) error {
	if k == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.ContainsAny(k, forbidden) || strings.ContainsRune(k, '/') {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k)
	}
	for _, r := range k {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidKey, k)
		}
	}
	return nil
}

func Join(keys ...string) string { return strings.Join(keys, "/") }

// Normalize converts an arbitrary Go value into the JSON data model and
// prunes nulls and empty containers.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := prune(child)
			if p == nil {
				delete(t, k)
				continue
			}
			t[k] = p
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		out := t[:0]
		for _, child := range t {
			if p := prune(child); p != nil {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return v
	}
}

// Get returns the value at keys, or nil when any segment is missing.
func Get(root any, keys []string) any {
	cur := root
	for _, k := range keys {
		switch t := cur.(type) {
		case map[string]any:
			cur = t[k]
		case []any:
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(t) {
				return nil
			}
			cur = t[i]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Set returns a new root with value stored at keys. A nil value deletes the
// key and prunes parents left empty; deleting a missing key is a no-op.
func Set(root any, keys []string, value any) any {
	if value == nil && Get(root, keys) == nil {
		return root
	}
	return set(root, keys, value)
}

func set(root any, keys []string, value any) any {
	if len(keys) == 0 {
		return value
	}

	m := asMap(root)
	k := keys[0]
	child := set(m[k], keys[1:], value)
	if child == nil {
		delete(m, k)
	} else {
		m[k] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// asMap returns a shallow copy of node as an object. Arrays become
// index-keyed objects and scalars are discarded.
func asMap(node any) map[string]any {
	switch t := node.(type) {
	case map[string]any:
		m := make(map[string]any, len(t)+1)
		for k, v := range t {
			m[k] = v
		}
		return m
	case []any:
		m := make(map[string]any, len(t)+1)
		for i, v := range t {
			m[strconv.Itoa(i)] = v
		}
		return m
	default:
		return map[string]any{}
	}
}

// Update applies a merge-update: each field key is a path relative to base.
// Values must already be normalized. It returns the new root and the
// absolute paths it touched.
func Update(root any, base []string, fields map[string]any) (any, []string, error) {
	touched := make([]string, 0, len(fields))
	type op struct {
		keys  []string
		value any
	}
	ops := make([]op, 0, len(fields))
	for rel, v := range fields {
		relKeys, err := Split(rel)
		if err != nil {
			return root, nil, err
		}
		if len(relKeys) == 0 {
			return root, nil, fmt.Errorf("%w: empty update key", ErrInvalidKey)
		}
		keys := make([]string, 0, len(base)+len(relKeys))
		keys = append(keys, base...)
		keys = append(keys, relKeys...)
		ops = append(ops, op{keys: keys, value: v})
	}
	sort.Slice(ops, func(i, j int) bool { return slices.Compare(ops[i].keys, ops[j].keys) < 0 })
	for i := 1; i < len(ops); i++ {
		if Related(ops[i-1].keys, ops[i].keys) {
			return root, nil, fmt.Errorf("%w: %s and %s", ErrOverlap, Join(ops[i-1].keys...), Join(ops[i].keys...))
		}
	}

	for _, o := range ops {
		root = Set(root, o.keys, o.value)
		touched = append(touched, Join(o.keys...))
	}
	return root, touched, nil
}

// Related reports whether a write at a changes what a reader of b observes:
// one path is an ancestor of (or equal to) the other.
func Related(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
