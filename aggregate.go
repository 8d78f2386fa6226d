package hxtxn

import "reflect"

// BlockReason explains why one element blocked a submit attempt.
type BlockReason struct {
	Index   int
	Label   string
	Message string
}

// SubmitOutcome is the result of TrySubmit. When OK, Values holds one slot
// per element, in instruction order.
type SubmitOutcome struct {
	OK       bool
	GroupKey string
	Values   []any
	Blocked  []BlockReason
}

// TrySubmit reads every interactive element's pending value in one pass.
// Every interactive element is touched. Submission is blocked if any
// required element is unset or failed schema validation, or if any element
// holds a ComponentError or an unsettled Deferred. Otherwise values are
// packed positionally: non-interactive and optional-unset elements
// contribute nil, and isMultiple elements always contribute a slice.
//
// states is aligned with batch.Elements; entries for non-interactive
// elements may be nil.
func TrySubmit(batch *InstructionBatch, states []*InputState) SubmitOutcome {
	out := SubmitOutcome{
		GroupKey: batch.GroupKey,
		Values:   make([]any, len(batch.Elements)),
	}

	for i := range batch.Elements {
		inst := &batch.Elements[i]
		if !inst.IsInteractive() {
			// A required element with invalid properties can never be
			// answered; it blocks until the host sends a valid rendition.
			if inst.Kind.ProducesValue() && inst.ValidationError != nil && !inst.IsOptional {
				out.Blocked = append(out.Blocked, BlockReason{Index: i, Label: inst.Label, Message: inst.ValidationError.Error()})
			}
			continue
		}

		var st *InputState
		if i < len(states) {
			st = states[i]
		}
		p := Unset()
		if st != nil {
			st.Touch()
			p = st.Pending()
		}
		if v, ok := p.Value(); ok && inst.IsMultiple && isEmptyList(v) {
			p = Unset()
		}

		if msg, blocked := blockReason(inst, p); blocked {
			out.Blocked = append(out.Blocked, BlockReason{Index: i, Label: inst.Label, Message: msg})
			continue
		}

		v, ok := p.Value()
		switch {
		case !ok && inst.IsMultiple:
			out.Values[i] = []any{}
		case !ok:
			out.Values[i] = nil
		case inst.IsMultiple:
			out.Values[i] = asList(v)
		default:
			out.Values[i] = v
		}
	}

	if len(out.Blocked) > 0 {
		out.Values = nil
		return out
	}
	out.OK = true
	return out
}

func isEmptyList(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Slice && rv.Len() == 0
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}
