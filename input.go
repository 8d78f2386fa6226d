package hxtxn

import (
	"fmt"
	"sync"
)

// RequiredMessage is shown for required elements left unset.
const RequiredMessage = "This field is required."

// PendingMessage is shown for elements still waiting on an upload.
const PendingMessage = "Please wait for the upload to finish."

// ComponentError is a user-facing, value-level error produced by a
// renderer's own constraint checks. It travels as data in a PendingValue.
type ComponentError struct {
	Message string
}

func (e *ComponentError) Error() string { return e.Message }

// NewComponentError formats a ComponentError.
func NewComponentError(format string, args ...any) *ComponentError {
	return &ComponentError{Message: fmt.Sprintf(format, args...)}
}

type pendingKind int

const (
	pendingUnset pendingKind = iota
	pendingValue
	pendingError
	pendingDeferred
)

// PendingValue is an element's current, possibly invalid, answer: unset, a
// value, a ComponentError, or a Deferred awaiting an out-of-band operation.
// The zero value is unset.
type PendingValue struct {
	kind     pendingKind
	value    any
	err      *ComponentError
	deferred *Deferred
}

// Unset is the empty PendingValue.
func Unset() PendingValue { return PendingValue{} }

// ValueOf wraps a concrete value.
func ValueOf(v any) PendingValue { return PendingValue{kind: pendingValue, value: v} }

// ErrorValue wraps a ComponentError.
func ErrorValue(err *ComponentError) PendingValue {
	if err == nil {
		return Unset()
	}
	return PendingValue{kind: pendingError, err: err}
}

// DeferredValue wraps a Deferred.
func DeferredValue(d *Deferred) PendingValue {
	if d == nil {
		return Unset()
	}
	return PendingValue{kind: pendingDeferred, deferred: d}
}

// IsUnset reports whether no value has been given.
func (p PendingValue) IsUnset() bool { return p.kind == pendingUnset }

// Value returns the concrete value, if any.
func (p PendingValue) Value() (any, bool) { return p.value, p.kind == pendingValue }

// Err returns the ComponentError, if any.
func (p PendingValue) Err() *ComponentError { return p.err }

// IsDeferred reports whether the value awaits an unsettled Deferred.
func (p PendingValue) IsDeferred() bool { return p.kind == pendingDeferred }

// Resolve replaces a settled Deferred with its outcome.
func (p PendingValue) Resolve() PendingValue {
	if p.kind != pendingDeferred {
		return p
	}
	return p.deferred.Result()
}

func (p PendingValue) String() string {
	switch p.kind {
	case pendingValue:
		return fmt.Sprintf("value(%v)", p.value)
	case pendingError:
		return "error(" + p.err.Message + ")"
	case pendingDeferred:
		return "deferred"
	}
	return "unset"
}

// Deferred is a value that settles later, e.g. when an upload finishes.
// It settles at most once.
type Deferred struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	result  PendingValue
}

// NewDeferred returns an unsettled Deferred.
func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolve settles with a value. It reports false if already settled.
func (d *Deferred) Resolve(v any) bool {
	return d.settle(ValueOf(v))
}

// Reject settles with a ComponentError. It reports false if already settled.
func (d *Deferred) Reject(err *ComponentError) bool {
	return d.settle(ErrorValue(err))
}

func (d *Deferred) settle(p PendingValue) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	d.result = p
	close(d.done)
	return true
}

// Done is closed once the Deferred settles.
func (d *Deferred) Done() <-chan struct{} { return d.done }

// Result returns the settled outcome, or a DeferredValue while unsettled.
func (d *Deferred) Result() PendingValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.settled {
		return PendingValue{kind: pendingDeferred, deferred: d}
	}
	return d.result
}

// InputState tracks one interactive element: its pending value, whether a
// submit has been attempted, and the raw input last entered.
//
// Errors are withheld until the first submit attempt touches the element.
type InputState struct {
	mu      sync.Mutex
	inst    *RenderInstruction
	pending PendingValue
	raw     []string
	touched bool
	frozen  bool
}

// NewInputState creates the state for inst.
func NewInputState(inst *RenderInstruction) *InputState {
	return &InputState{inst: inst}
}

// Instruction returns the element this state belongs to.
func (s *InputState) Instruction() *RenderInstruction { return s.inst }

// SetPendingValue replaces the pending value. Frozen states reject writes
// with ErrStaleBatch.
func (s *InputState) SetPendingValue(p PendingValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrStaleBatch
	}
	s.pending = p
	return nil
}

// SetInput parses raw form input for the element and stores the result.
func (s *InputState) SetInput(raw []string) error {
	p := ParseInput(s.inst, raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrStaleBatch
	}
	s.raw = append([]string(nil), raw...)
	s.pending = p
	return nil
}

// Raw returns the raw input last entered.
func (s *InputState) Raw() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw
}

// Pending returns the pending value with settled deferreds resolved.
func (s *InputState) Pending() PendingValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Resolve()
}

// Touch marks the element as having seen a submit attempt.
func (s *InputState) Touch() {
	s.mu.Lock()
	s.touched = true
	s.mu.Unlock()
}

// Touched reports whether a submit attempt has been made.
func (s *InputState) Touched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Frozen reports whether the state belongs to a batch that is no longer
// accepting input.
func (s *InputState) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// rebind carries the state over to a refreshed instruction of the same
// element.
func (s *InputState) rebind(inst *RenderInstruction) *InputState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &InputState{
		inst:    inst,
		pending: s.pending,
		raw:     s.raw,
		touched: s.touched,
	}
}

func (s *InputState) setFrozen(v bool) {
	s.mu.Lock()
	s.frozen = v
	s.mu.Unlock()
}

// ErrorMessage is the message to show, if any. It is always empty before
// the first submit attempt.
func (s *InputState) ErrorMessage() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.touched {
		return "", false
	}
	return blockReason(s.inst, s.pending.Resolve())
}

// blockReason says why p would block submission of inst.
func blockReason(inst *RenderInstruction, p PendingValue) (string, bool) {
	switch p.kind {
	case pendingError:
		return p.err.Message, true
	case pendingDeferred:
		return PendingMessage, true
	case pendingUnset:
		if inst.IsOptional {
			return "", false
		}
		return RequiredMessage, true
	}
	return "", false
}
