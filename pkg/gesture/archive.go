// Package gesture decodes serialized input-gesture archives into
// normalized, time-aligned touch overlays.
package gesture

import (
	"fmt"

	"howett.net/plist"
)

// Archive is a decoded keyed archive: a flat arena of heterogeneous
// objects plus a root reference. Object references are integer indices
// into the arena, never materialized as native pointers; every
// dereference is bounds-checked and yields "absent" rather than
// trapping on malformed input.
type Archive struct {
	objects []any
	top     map[string]any
}

// ParseArchive decodes the plist container of a keyed archive.
func ParseArchive(data []byte) (*Archive, error) {
	var raw struct {
		Objects []any          `plist:"$objects"`
		Top     map[string]any `plist:"$top"`
	}

	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing keyed archive: %w", err)
	}

	if len(raw.Objects) == 0 {
		return nil, fmt.Errorf("keyed archive has no object arena")
	}

	return &Archive{objects: raw.Objects, top: raw.Top}, nil
}

// Root returns the archive's root object, dereferenced.
func (a *Archive) Root() (any, bool) {
	root, ok := a.top["root"]
	if !ok {
		return nil, false
	}

	return a.deref(root)
}

// deref resolves a value that may be a UID reference into the arena.
// Out-of-range indices and the null sentinel ("$null") resolve to
// absent.
func (a *Archive) deref(v any) (any, bool) {
	uid, ok := v.(plist.UID)
	if !ok {
		return v, v != nil
	}

	idx := int(uid)
	if idx < 0 || idx >= len(a.objects) {
		return nil, false
	}

	obj := a.objects[idx]
	if s, isString := obj.(string); isString && s == "$null" {
		return nil, false
	}

	return obj, obj != nil
}

// Dict resolves v to a dictionary object. Keyed-archive dictionaries
// come in two shapes: plain maps, and indexed containers with parallel
// "NS.keys"/"NS.objects" reference arrays.
func (a *Archive) Dict(v any) (map[string]any, bool) {
	obj, ok := a.deref(v)
	if !ok {
		return nil, false
	}

	m, ok := obj.(map[string]any)
	if !ok {
		return nil, false
	}

	rawKeys, hasKeys := m["NS.keys"]
	rawVals, hasVals := m["NS.objects"]

	if !hasKeys || !hasVals {
		return m, true
	}

	keys, keysOK := a.refSlice(rawKeys)
	vals, valsOK := a.refSlice(rawVals)

	if !keysOK || !valsOK || len(keys) != len(vals) {
		return nil, false
	}

	out := make(map[string]any, len(keys))

	for i, k := range keys {
		key, isString := k.(string)
		if !isString {
			continue
		}

		out[key] = vals[i]
	}

	return out, true
}

// Slice resolves v to a list object: either a native slice or an
// indexed container carrying an "NS.objects" reference array. Elements
// are dereferenced.
func (a *Archive) Slice(v any) ([]any, bool) {
	obj, ok := a.deref(v)
	if !ok {
		return nil, false
	}

	if m, isMap := obj.(map[string]any); isMap {
		inner, hasObjects := m["NS.objects"]
		if !hasObjects {
			return nil, false
		}

		return a.refSlice(inner)
	}

	return a.refSlice(obj)
}

// refSlice dereferences every element of a slice value.
func (a *Archive) refSlice(v any) ([]any, bool) {
	obj, ok := a.deref(v)
	if !ok {
		return nil, false
	}

	raw, ok := obj.([]any)
	if !ok {
		return nil, false
	}

	out := make([]any, 0, len(raw))

	for _, elem := range raw {
		resolved, present := a.deref(elem)
		if !present {
			// One bad reference skips that element, not the archive.
			continue
		}

		out = append(out, resolved)
	}

	return out, true
}

// Float resolves v to a float64, accepting the integer encodings the
// archiver emits for whole numbers.
func (a *Archive) Float(v any) (float64, bool) {
	obj, ok := a.deref(v)
	if !ok {
		return 0, false
	}

	switch n := obj.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
