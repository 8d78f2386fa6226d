package hxtxn

import (
	"strconv"

	"github.com/pthm/hxtxn/lib/encoding"
	"github.com/pthm/hxtxn/lib/schema"
)

// RenderInstruction is one decoded UI element. It is immutable once built.
type RenderInstruction struct {
	Index int
	Kind  Kind
	// Tag is the wire kind, kept verbatim so unknown kinds can be named.
	Tag        string
	Label      string
	Properties map[string]any

	IsStateful          bool
	IsOptional          bool
	IsMultiple          bool
	MultipleConstraints *encoding.MultipleConstraints

	// ValidationError is set when the element's properties failed schema
	// validation or could not be decoded at all.
	ValidationError *schema.Error
}

// ID is the element's DOM id and form field name.
func (ri *RenderInstruction) ID() string {
	return "el-" + strconv.Itoa(ri.Index)
}

// IsInteractive reports whether the element takes part in aggregation:
// its kind produces a value and its properties are valid.
func (ri *RenderInstruction) IsInteractive() bool {
	return ri.Kind.ProducesValue() && ri.ValidationError == nil
}

// Prop returns a property value.
func (ri *RenderInstruction) Prop(name string) any {
	return ri.Properties[name]
}

// StringProp returns a string property or "".
func (ri *RenderInstruction) StringProp(name string) string {
	s, _ := ri.Properties[name].(string)
	return s
}

// BoolProp returns a boolean property or false.
func (ri *RenderInstruction) BoolProp(name string) bool {
	b, _ := ri.Properties[name].(bool)
	return b
}

// NumberProp returns a numeric property.
func (ri *RenderInstruction) NumberProp(name string) (float64, bool) {
	return schema.Number(ri.Properties[name])
}

// InstructionBatch is one decoded envelope.
type InstructionBatch struct {
	GroupKey               string
	Elements               []RenderInstruction
	SubmitOptions          *encoding.SubmitOptions
	ValidationErrorMessage string
}

// IndexOfFirstInteractiveElement is the index of the first element whose
// kind produces a value, used for autofocus.
func (b *InstructionBatch) IndexOfFirstInteractiveElement() (int, bool) {
	for i := range b.Elements {
		if b.Elements[i].Kind.ProducesValue() {
			return i, true
		}
	}
	return -1, false
}

// IsDisplayOnly reports whether no element produces a value.
func (b *InstructionBatch) IsDisplayOnly() bool {
	_, ok := b.IndexOfFirstInteractiveElement()
	return !ok
}

// Choices returns the labelled submit choices, if any.
func (b *InstructionBatch) Choices() []encoding.Choice {
	if b.SubmitOptions == nil {
		return nil
	}
	return b.SubmitOptions.Choices
}

// ShowsContinue reports whether a plain continue button is rendered.
func (b *InstructionBatch) ShowsContinue() bool {
	if len(b.Choices()) > 0 {
		return false
	}
	return b.SubmitOptions == nil || !b.SubmitOptions.HideContinue
}

// ContinueLabel is the label of the continue button.
func (b *InstructionBatch) ContinueLabel() string {
	if b.SubmitOptions != nil && b.SubmitOptions.ContinueLabel != "" {
		return b.SubmitOptions.ContinueLabel
	}
	return "Continue"
}

func (b *InstructionBatch) hasChoice(value string) bool {
	for _, c := range b.Choices() {
		if c.Value == value {
			return true
		}
	}
	return false
}
