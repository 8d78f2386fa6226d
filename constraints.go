package hxtxn

import (
	"encoding/json"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pthm/hxtxn/lib/schema"
	"github.com/pthm/hxtxn/lib/table"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04"
)

// ParseInput converts raw form input for inst into a PendingValue,
// applying the kind's client-side constraints. Violations become
// ComponentErrors. Empty input is unset.
func ParseInput(inst *RenderInstruction, raw []string) PendingValue {
	values := nonEmpty(raw)

	switch inst.Kind {
	case KindBoolean:
		if inst.IsMultiple {
			break
		}
		return ValueOf(len(values) > 0 && parseBool(values[len(values)-1]))
	case KindSelectMultiple:
		return parseSelectMultiple(inst, values)
	case KindSelectTable, KindFile:
		// Table selections and uploads are fed by their own engines.
		return Unset()
	}

	if len(values) == 0 {
		return Unset()
	}
	if !inst.IsMultiple {
		return parseOne(inst, values[len(values)-1])
	}

	out := make([]any, 0, len(values))
	for _, s := range values {
		p := parseOne(inst, s)
		if p.kind == pendingError {
			return p
		}
		out = append(out, p.value)
	}
	if err := checkItemCount(inst, len(out)); err != nil {
		return ErrorValue(err)
	}
	return ValueOf(out)
}

func nonEmpty(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}

func parseOne(inst *RenderInstruction, s string) PendingValue {
	switch inst.Kind {
	case KindText, KindRichText:
		return checkLength(inst, s)
	case KindEmail:
		s = strings.TrimSpace(s)
		if _, err := mail.ParseAddress(s); err != nil || !strings.Contains(s, "@") || strings.ContainsAny(s, "<> ") {
			return ErrorValue(NewComponentError("Please enter a valid email address."))
		}
		return checkLength(inst, s)
	case KindURL:
		s = strings.TrimSpace(s)
		u, err := url.ParseRequestURI(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ErrorValue(NewComponentError("Please enter a valid URL."))
		}
		return checkLength(inst, s)
	case KindNumber:
		return parseNumber(inst, s)
	case KindBoolean:
		return ValueOf(parseBool(s))
	case KindDate:
		return parseDate(inst, s, dateLayout)
	case KindDateTime:
		return parseDate(inst, s, dateTimeLayout)
	case KindSelectSingle:
		if !hasOption(inst, s) {
			return ErrorValue(NewComponentError("Please choose one of the available options."))
		}
		return ValueOf(s)
	}
	return ValueOf(s)
}

func checkLength(inst *RenderInstruction, s string) PendingValue {
	n := float64(utf8.RuneCountInString(s))
	if lo, ok := inst.NumberProp("minLength"); ok && n < lo {
		return ErrorValue(NewComponentError("Must be at least %s characters.", schema.FormatNumber(lo)))
	}
	if hi, ok := inst.NumberProp("maxLength"); ok && n > hi {
		return ErrorValue(NewComponentError("Must be at most %s characters.", schema.FormatNumber(hi)))
	}
	return ValueOf(s)
}

func parseNumber(inst *RenderInstruction, s string) PendingValue {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return ErrorValue(NewComponentError("Please enter a valid number."))
	}
	if d, ok := inst.NumberProp("decimals"); ok && d == 0 && f != float64(int64(f)) {
		return ErrorValue(NewComponentError("Must be a whole number."))
	}

	lo, hasLo := inst.NumberProp("min")
	hi, hasHi := inst.NumberProp("max")
	switch {
	case hasLo && hasHi && (f < lo || f > hi):
		return ErrorValue(NewComponentError("Must be between %s and %s.", schema.FormatNumber(lo), schema.FormatNumber(hi)))
	case hasLo && f < lo:
		return ErrorValue(NewComponentError("Must be at least %s.", schema.FormatNumber(lo)))
	case hasHi && f > hi:
		return ErrorValue(NewComponentError("Must be at most %s.", schema.FormatNumber(hi)))
	}
	return ValueOf(json.Number(schema.FormatNumber(f)))
}

func parseDate(inst *RenderInstruction, s, layout string) PendingValue {
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		if t2, ok := schema.Date(strings.TrimSpace(s)); ok {
			t = t2
		} else {
			return ErrorValue(NewComponentError("Please enter a valid date."))
		}
	}
	if lo, ok := schema.Date(inst.Prop("min")); ok && t.Before(lo) {
		return ErrorValue(NewComponentError("Must be on or after %s.", lo.Format(layout)))
	}
	if hi, ok := schema.Date(inst.Prop("max")); ok && t.After(hi) {
		return ErrorValue(NewComponentError("Must be on or before %s.", hi.Format(layout)))
	}
	return ValueOf(t)
}

// Option is one choice of a select element.
type Option struct {
	Label string
	Value string
}

// Options returns the element's select options.
func (ri *RenderInstruction) Options() []Option {
	items, _ := ri.Properties["options"].([]any)
	out := make([]Option, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label, _ := m["label"].(string)
		out = append(out, Option{Label: label, Value: optionValue(m["value"])})
	}
	return out
}

func optionValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	}
	if f, ok := schema.Number(v); ok {
		return schema.FormatNumber(f)
	}
	return ""
}

func hasOption(inst *RenderInstruction, v string) bool {
	for _, o := range inst.Options() {
		if o.Value == v {
			return true
		}
	}
	return false
}

func parseSelectMultiple(inst *RenderInstruction, values []string) PendingValue {
	if len(values) == 0 {
		return Unset()
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		if !hasOption(inst, v) {
			return ErrorValue(NewComponentError("Please choose from the available options."))
		}
		out = append(out, v)
	}
	if err := checkSelectionCount(inst, len(out)); err != nil {
		return ErrorValue(err)
	}
	return ValueOf(out)
}

func checkSelectionCount(inst *RenderInstruction, n int) *ComponentError {
	if lo, ok := inst.NumberProp("minSelections"); ok && float64(n) < lo {
		return NewComponentError("Select at least %s.", schema.FormatNumber(lo))
	}
	if hi, ok := inst.NumberProp("maxSelections"); ok && float64(n) > hi {
		return NewComponentError("Select at most %s.", schema.FormatNumber(hi))
	}
	return nil
}

func checkItemCount(inst *RenderInstruction, n int) *ComponentError {
	mc := inst.MultipleConstraints
	if mc == nil {
		return nil
	}
	if mc.MinItems != nil && n < *mc.MinItems {
		return NewComponentError("Provide at least %d values.", *mc.MinItems)
	}
	if mc.MaxItems != nil && n > *mc.MaxItems {
		return NewComponentError("Provide at most %d values.", *mc.MaxItems)
	}
	return nil
}

// SelectionValue converts a resolved table selection into the element's
// pending value: TableRow objects for local tables, keys for remote ones.
func SelectionValue(inst *RenderInstruction, mode table.Mode, sel table.Selection) PendingValue {
	if len(sel.Keys) == 0 {
		return Unset()
	}
	if err := checkSelectionCount(inst, len(sel.Keys)); err != nil {
		return ErrorValue(err)
	}

	out := make([]any, 0, len(sel.Keys))
	if mode == table.Local && len(sel.Rows) == len(sel.Keys) {
		for _, r := range sel.Rows {
			out = append(out, r)
		}
		return ValueOf(out)
	}
	for _, k := range sel.Keys {
		out = append(out, k)
	}
	return ValueOf(out)
}
