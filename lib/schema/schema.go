// Package schema validates the host-supplied properties of each component
// kind against a per-kind JSON Schema. Failures are reported as an issue list
// scoped to one element; they never affect sibling elements.
package schema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var builtin embed.FS

const baseURL = "https://hxtxn.local/schemas/"

// defsFile holds shared definitions and is not a component kind.
const defsFile = "defs.json"

// Issue is a single validation failure.
type Issue struct {
	// Path is the dot-separated location inside properties ("" for the root).
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the issue list for one element.
type Error struct {
	Kind   string  `json:"kind"`
	Issues []Issue `json:"issues"`
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path == "" {
			parts = append(parts, is.Message)
			continue
		}
		parts = append(parts, is.Path+": "+is.Message)
	}
	return fmt.Sprintf("invalid %s properties: %s", e.Kind, strings.Join(parts, "; "))
}

// NewError builds a single-issue Error.
func NewError(kind, path, message string) *Error {
	return &Error{Kind: kind, Issues: []Issue{{Path: path, Message: message}}}
}

// Validator holds one compiled schema per component kind.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles the built-in schemas.
func New() (*Validator, error) {
	sub, err := fs.Sub(builtin, "schemas")
	if err != nil {
		return nil, err
	}
	return NewFromFS(sub)
}

// MustNew is New for package-level initialisation; it panics on error.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(fmt.Sprintf("schema: failed to compile built-in schemas: %v", err))
	}
	return v
}

// NewFromFS compiles every *.json file at the root of fsys. The file name
// without extension is the component kind; defs.json is shared definitions.
func NewFromFS(fsys fs.FS) (*Validator, error) {
	names, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, name := range names {
		f, err := fsys.Open(name)
		if err != nil {
			return nil, err
		}
		err = c.AddResource(baseURL+name, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("schema: load %s: %w", name, err)
		}
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema)}
	for _, name := range names {
		if name == defsFile {
			continue
		}
		compiled, err := c.Compile(baseURL + name)
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s: %w", name, err)
		}
		v.schemas[strings.TrimSuffix(path.Base(name), ".json")] = compiled
	}
	return v, nil
}

// Kinds lists the kinds with a schema, sorted.
func (v *Validator) Kinds() []string {
	kinds := make([]string, 0, len(v.schemas))
	for k := range v.schemas {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Has reports whether kind has a schema.
func (v *Validator) Has(kind string) bool {
	_, ok := v.schemas[kind]
	return ok
}

// Validate checks props against kind's schema. Kinds without a schema pass
// through unchanged. On success the (hydrated) props are returned as-is.
func (v *Validator) Validate(kind string, props map[string]any) (data map[string]any, verr *Error) {
	defer func() {
		if r := recover(); r != nil {
			data, verr = nil, NewError(kind, "", fmt.Sprintf("validator failure: %v", r))
		}
	}()

	sch, ok := v.schemas[kind]
	if !ok {
		return props, nil
	}
	if props == nil {
		props = map[string]any{}
	}

	if err := sch.Validate(toJSON(props)); err != nil {
		return nil, &Error{Kind: kind, Issues: issuesFrom(err)}
	}

	if issues := crossCheck(kind, props); len(issues) > 0 {
		return nil, &Error{Kind: kind, Issues: issues}
	}
	return props, nil
}

func issuesFrom(err error) []Issue {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Issue{{Message: err.Error()}}
	}

	var issues []Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, Issue{Path: pointerToPath(e.InstanceLocation), Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return issues
}

func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	segs := strings.Split(ptr, "/")
	for i, s := range segs {
		s = strings.ReplaceAll(s, "~1", "/")
		segs[i] = strings.ReplaceAll(s, "~0", "~")
	}
	return strings.Join(segs, ".")
}

// toJSON maps hydrated Go values back onto the JSON value space the schema
// library understands.
func toJSON(v any) any {
	switch val := v.(type) {
	case nil, bool, string, json.Number, float64:
		return val
	case float32:
		return float64(val)
	case int:
		return json.Number(strconv.Itoa(val))
	case int64:
		return json.Number(strconv.FormatInt(val, 10))
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *big.Int:
		if val == nil {
			return nil
		}
		return json.Number(val.String())
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSON(item)
		}
		return out
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		var generic any
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return fmt.Sprint(val)
		}
		return generic
	}
}
