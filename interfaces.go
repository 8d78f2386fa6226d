package hxtxn

import (
	"context"

	"github.com/a-h/templ"
	"github.com/pthm/hxtxn/lib/table"
)

// Renderer draws one element. Renderers are pure: they read the
// RenderContext and produce markup without side effects.
//
// Interactive renderers expose their value through the element's
// InputState; the HTTP handler feeds form input into it via SetInput.
type Renderer interface {
	Render(ctx context.Context, rc RenderContext) templ.Component
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, rc RenderContext) templ.Component

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, rc RenderContext) templ.Component {
	return f(ctx, rc)
}

// Preferences are process-wide user preferences passed down explicitly.
type Preferences struct {
	Theme   string
	Compact bool
}

// RenderContext is everything a renderer may read for one element. It is
// session-scoped and passed down explicitly.
type RenderContext struct {
	Instruction *RenderInstruction

	// State is nil for display-only and schema-invalid elements.
	State *InputState
	// Table is set for table kinds.
	Table *table.Engine
	// Upload is set for file elements.
	Upload *Upload

	// ReadOnly renders history and frozen batches without controls.
	ReadOnly bool
	// Autofocus marks the batch's first interactive element.
	Autofocus bool
	// BasePath prefixes the session handler's routes.
	BasePath string
	// ViewToken is the sealed view state of a stateful table.
	ViewToken string
	// Submitted is the value sent for this element, for history.
	Submitted any

	Preferences Preferences
}

// ErrorMessage is the element's visible error, if any.
func (rc RenderContext) ErrorMessage() (string, bool) {
	if rc.State == nil {
		return "", false
	}
	return rc.State.ErrorMessage()
}
