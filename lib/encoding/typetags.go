package encoding

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Built-in type tags.
const (
	TagDate      = "date"
	TagBigInt    = "bigint"
	TagUndefined = "undefined"
)

// TypeCodec converts between a plain JSON value and a richer Go value for a
// single type tag.
type TypeCodec struct {
	Tag string

	// Hydrate converts the plain JSON value into the rich value.
	Hydrate func(raw any) (any, error)

	// Dehydrate reports whether v belongs to this tag and, if so, returns
	// its plain JSON form.
	Dehydrate func(v any) (any, bool)
}

// TypeTags is the registered decoder table for non-plain JSON scalars.
// Unknown tags are never an error: the value is left as raw JSON.
type TypeTags struct {
	codecs map[string]TypeCodec
	order  []string
}

// NewTypeTags returns an empty table.
func NewTypeTags() *TypeTags {
	return &TypeTags{codecs: make(map[string]TypeCodec)}
}

// DefaultTypeTags returns a table with date, bigint and undefined registered.
func DefaultTypeTags() *TypeTags {
	t := NewTypeTags()
	t.Register(TypeCodec{Tag: TagDate, Hydrate: hydrateDate, Dehydrate: dehydrateDate})
	t.Register(TypeCodec{Tag: TagBigInt, Hydrate: hydrateBigInt, Dehydrate: dehydrateBigInt})
	t.Register(TypeCodec{
		Tag:       TagUndefined,
		Hydrate:   func(any) (any, error) { return nil, nil },
		Dehydrate: func(any) (any, bool) { return nil, false },
	})
	return t
}

// Register adds or replaces a codec.
func (t *TypeTags) Register(c TypeCodec) {
	if _, ok := t.codecs[c.Tag]; !ok {
		t.order = append(t.order, c.Tag)
	}
	t.codecs[c.Tag] = c
}

// Has reports whether tag is registered.
func (t *TypeTags) Has(tag string) bool {
	_, ok := t.codecs[tag]
	return ok
}

// HydrateResult describes a hydration pass.
type HydrateResult struct {
	Value any
	// Unknown lists the paths whose tag was not registered and were left raw.
	Unknown []string
}

// Hydrate applies meta (path → tag) to a deep copy of root. Paths are
// dot-separated object keys and array indices, e.g. "data.2.createdAt".
// On the first failing path the error is returned and root is untouched.
func (t *TypeTags) Hydrate(root any, meta map[string]string) (HydrateResult, error) {
	if len(meta) == 0 {
		return HydrateResult{Value: root}, nil
	}

	out := deepCopy(root)
	var unknown []string

	// Deterministic order so error messages are stable.
	paths := make([]string, 0, len(meta))
	for p := range meta {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		tag := meta[p]
		codec, ok := t.codecs[tag]
		if !ok {
			unknown = append(unknown, p)
			continue
		}

		var err error
		out, err = updateAtPath(out, splitPath(p), func(raw any) (any, error) {
			return codec.Hydrate(raw)
		})
		if err != nil {
			return HydrateResult{Value: root}, fmt.Errorf("hydrate %q as %s: %w", p, tag, err)
		}
	}

	return HydrateResult{Value: out, Unknown: unknown}, nil
}

// Dehydrate walks v and replaces every value owned by a registered codec
// with its plain form. The returned meta maps paths to tags.
func (t *TypeTags) Dehydrate(v any) (any, map[string]string) {
	meta := make(map[string]string)
	out := t.dehydrate(v, "", meta)
	if len(meta) == 0 {
		meta = nil
	}
	return out, meta
}

func (t *TypeTags) dehydrate(v any, path string, meta map[string]string) any {
	if w, ok := v.(WireValuer); ok {
		v = w.WireValue()
	}

	for _, tag := range t.order {
		codec := t.codecs[tag]
		if codec.Dehydrate == nil {
			continue
		}
		if plain, ok := codec.Dehydrate(v); ok {
			meta[path] = tag
			return plain
		}
	}

	switch val := normalizeContainer(v).(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = t.dehydrate(item, joinPath(path, k), meta)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = t.dehydrate(item, joinPath(path, strconv.Itoa(i)), meta)
		}
		return out
	default:
		return v
	}
}

// WireValuer is implemented by values that have a dedicated wire shape,
// such as table rows.
type WireValuer interface {
	WireValue() any
}

func hydrateDate(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", raw)
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", s)
}

func dehydrateDate(v any) (any, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC().Format(time.RFC3339Nano), true
	case *time.Time:
		if ts == nil {
			return nil, false
		}
		return ts.UTC().Format(time.RFC3339Nano), true
	}
	return nil, false
}

func hydrateBigInt(raw any) (any, error) {
	var s string
	switch n := raw.(type) {
	case string:
		s = n
	case json.Number:
		s = n.String()
	case float64:
		s = strconv.FormatFloat(n, 'f', 0, 64)
	default:
		return nil, fmt.Errorf("expected string or number, got %T", raw)
	}
	b, ok := new(big.Int).SetString(strings.TrimSuffix(s, "n"), 10)
	if !ok {
		return nil, fmt.Errorf("invalid big integer %q", s)
	}
	return b, nil
}

func dehydrateBigInt(v any) (any, bool) {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b.String(), true
	}
	return nil, false
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

func joinPath(base, seg string) string {
	if base == "" {
		return seg
	}
	return base + "." + seg
}

// updateAtPath replaces the value at path within root with fn(value).
func updateAtPath(root any, path []string, fn func(any) (any, error)) (any, error) {
	if len(path) == 0 {
		return fn(root)
	}

	seg := path[0]
	switch node := root.(type) {
	case map[string]any:
		child, ok := node[seg]
		if !ok {
			return nil, fmt.Errorf("no key %q", seg)
		}
		updated, err := updateAtPath(child, path[1:], fn)
		if err != nil {
			return nil, err
		}
		node[seg] = updated
		return node, nil
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(node) {
			return nil, fmt.Errorf("index %q out of range", seg)
		}
		updated, err := updateAtPath(node[i], path[1:], fn)
		if err != nil {
			return nil, err
		}
		node[i] = updated
		return node, nil
	default:
		return nil, fmt.Errorf("cannot descend into %T at %q", root, seg)
	}
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
