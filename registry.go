package hxtxn

import (
	"fmt"
	"sync"
)

// Registry maps component kinds to renderers. Kinds without a renderer
// fall back to the placeholder instead of failing the batch.
type Registry struct {
	mu          sync.RWMutex
	renderers   map[Kind]Renderer
	placeholder Renderer
}

// NewRegistry creates an empty registry with the default placeholder.
func NewRegistry() *Registry {
	return &Registry{
		renderers:   make(map[Kind]Renderer),
		placeholder: RendererFunc(renderPlaceholder),
	}
}

// DefaultRegistry creates a registry holding the built-in renderer for
// every known kind.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	registerBuiltins(reg)
	return reg
}

// Register adds a renderer for kind.
// Panics on KindUnknown, a nil renderer, or a second registration.
func (reg *Registry) Register(kind Kind, r Renderer) {
	if kind == KindUnknown || kind >= kindCount || kind < 0 {
		panic(fmt.Sprintf("hxtxn: cannot register renderer for kind %d", kind))
	}
	if r == nil {
		panic(fmt.Sprintf("hxtxn: nil renderer for %q", kind))
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.renderers[kind]; exists {
		panic(fmt.Sprintf("hxtxn: renderer collision for %q", kind))
	}
	reg.renderers[kind] = r
}

// Replace swaps the renderer for kind, registering it if absent.
func (reg *Registry) Replace(kind Kind, r Renderer) {
	reg.mu.Lock()
	delete(reg.renderers, kind)
	reg.mu.Unlock()
	reg.Register(kind, r)
}

// SetPlaceholder replaces the renderer used for unsupported kinds.
func (reg *Registry) SetPlaceholder(r Renderer) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.placeholder = r
}

// Resolve returns the renderer registered for kind.
func (reg *Registry) Resolve(kind Kind) (Renderer, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.renderers[kind]
	return r, ok
}

// RendererFor returns the renderer for kind, or the placeholder.
func (reg *Registry) RendererFor(kind Kind) Renderer {
	if r, ok := reg.Resolve(kind); ok {
		return r
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.placeholder
}

// Missing lists known kinds with no renderer.
func (reg *Registry) Missing() []Kind {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out []Kind
	for _, k := range Kinds() {
		if _, ok := reg.renderers[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
