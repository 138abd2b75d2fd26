package ingest

import (
	"sort"
	"strconv"
	"strings"
)

// Unflatten rebuilds nested structure from dot-delimited attribute keys, an
// artifact of columnar/telemetry exports. A segment consisting solely of
// digits produces a list index; anything else a map key. For example
//
//	"llm.input_messages.0.message.role" = "user"
//
// becomes {"llm": {"input_messages": [{"message": {"role": "user"}}]}}.
//
// Keys without dots and already-nested values are copied through unchanged.
// The input map is never mutated. Keys are assigned in sorted order so
// conflicting keys (a leaf "a" alongside "a.b") resolve identically on every
// run: the leaf lands first and the keys it prefixes are dropped.
func Unflatten(flat map[string]any) map[string]any {
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	root := make(map[string]any, len(flat))
	for _, key := range keys {
		segments := strings.Split(key, ".")
		assignPath(root, segments, flat[key])
	}
	return resolve(root).(map[string]any)
}

// assignPath walks root along segments, creating intermediate containers,
// and sets the final segment to value. A value whose path runs through an
// existing leaf is dropped rather than corrupting existing structure.
func assignPath(root map[string]any, segments []string, value any) {
	var parent any = root
	parentKey := segments[0]

	for i := 1; i < len(segments); i++ {
		next := childContainer(parent, parentKey, isIndex(segments[i]))
		if next == nil {
			return
		}
		parent = next
		parentKey = segments[i]
	}

	setChild(parent, parentKey, value)
}

func isIndex(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// childContainer returns the container stored under key in parent, creating
// a map or list (per wantList) when absent. Returns nil on shape conflict.
func childContainer(parent any, key string, wantList bool) any {
	existing := getChild(parent, key)
	if existing != nil {
		switch existing.(type) {
		case map[string]any, *listNode:
			return existing
		default:
			return nil
		}
	}

	var created any
	if wantList {
		created = &listNode{}
	} else {
		created = make(map[string]any)
	}
	setChild(parent, key, created)
	return created
}

func getChild(parent any, key string) any {
	switch p := parent.(type) {
	case map[string]any:
		return p[key]
	case *listNode:
		idx, err := strconv.Atoi(key)
		if err != nil || idx >= len(p.items) {
			return nil
		}
		return p.items[idx]
	default:
		return nil
	}
}

func setChild(parent any, key string, value any) {
	switch p := parent.(type) {
	case map[string]any:
		p[key] = value
	case *listNode:
		idx, err := strconv.Atoi(key)
		if err != nil {
			return
		}
		p.set(idx, value)
	}
}

// listNode is a growable list used during unflattening; Resolve converts
// the finished tree into plain maps and slices.
type listNode struct {
	items []any
}

func (l *listNode) set(idx int, value any) {
	for len(l.items) <= idx {
		l.items = append(l.items, nil)
	}
	l.items[idx] = value
}

// resolve replaces listNode containers with []any throughout the tree.
func resolve(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = resolve(child)
		}
		return t
	case *listNode:
		out := make([]any, len(t.items))
		for i, child := range t.items {
			out[i] = resolve(child)
		}
		return out
	default:
		return v
	}
}
