// Package config loads process-wide settings from CUE files validated
// against an embedded schema. Settings are loaded once at startup and passed
// down explicitly; there are no package-level globals.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSrc string

// ErrInvalid wraps every schema or value error.
var ErrInvalid = errors.New("config: invalid settings")

// Host locates the remote action host.
type Host struct {
	URL       string `json:"url"`
	Namespace string `json:"namespace"`
	Path      string `json:"path"`
	Token     string `json:"token,omitempty"`
}

// Log configures lib/logging.
type Log struct {
	Level    string `json:"level"`
	JSONPath string `json:"jsonPath,omitempty"`
}

// Table holds table engine defaults.
type Table struct {
	PageSize     int    `json:"pageSize"`
	Debounce     string `json:"debounce"`
	EncryptViews bool   `json:"encryptViews"`
}

// UI holds user preferences.
type UI struct {
	Theme   string `json:"theme"`
	Compact bool   `json:"compact"`
}

// Settings is the decoded configuration.
type Settings struct {
	Host    Host   `json:"host"`
	Listen  string `json:"listen"`
	Log     Log    `json:"log"`
	Table   Table  `json:"table"`
	SealKey string `json:"sealKey,omitempty"`
	UI      UI     `json:"ui"`

	debounce time.Duration
}

// Debounce is the parsed table push debounce.
func (s *Settings) Debounce() time.Duration { return s.debounce }

// Default returns the schema defaults.
func Default() *Settings {
	s, err := load(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return s
}

// Load reads and unifies the given CUE files, in order, with the schema.
// Later files must agree with earlier ones; CUE unification rejects
// conflicting concrete values.
func Load(paths ...string) (*Settings, error) {
	sources := make([]source, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source{name: p, content: content})
	}
	return load(sources)
}

// Parse is Load for in-memory content.
func Parse(name string, content []byte) (*Settings, error) {
	return load([]source{{name: name, content: content}})
}

type source struct {
	name    string
	content []byte
}

func load(sources []source) (*Settings, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString("close({"+schemaSrc+"})", cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, err
	}

	value := schema
	for _, src := range sources {
		v := ctx.CompileBytes(src.content, cue.Filename(src.name))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		value = value.Unify(v)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var s Settings
	if err := value.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	d, err := time.ParseDuration(s.Table.Debounce)
	if err != nil || d < 0 {
		return nil, fmt.Errorf("%w: table.debounce %q is not a duration", ErrInvalid, s.Table.Debounce)
	}
	s.debounce = d
	return &s, nil
}
