package schema

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// crossCheck enforces constraints JSON Schema cannot express between fields.
func crossCheck(kind string, props map[string]any) []Issue {
	var issues []Issue
	add := func(path, format string, args ...any) {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch kind {
	case "number":
		lo, hasLo := Number(props["min"])
		hi, hasHi := Number(props["max"])
		if hasLo && hasHi && lo > hi {
			add("min", "min (%s) must not exceed max (%s)", FormatNumber(lo), FormatNumber(hi))
		}
		if d, ok := Number(props["defaultValue"]); ok {
			if hasLo && d < lo {
				add("defaultValue", "default value is below min")
			}
			if hasHi && d > hi {
				add("defaultValue", "default value is above max")
			}
		}
	case "text", "email", "url", "richText":
		lo, hasLo := Number(props["minLength"])
		hi, hasHi := Number(props["maxLength"])
		if hasLo && hasHi && lo > hi {
			add("minLength", "minLength must not exceed maxLength")
		}
	case "date", "datetime":
		lo, hasLo := Date(props["min"])
		hi, hasHi := Date(props["max"])
		if _, ok := props["min"]; ok && !hasLo {
			add("min", "min is not a valid date")
		}
		if _, ok := props["max"]; ok && !hasHi {
			add("max", "max is not a valid date")
		}
		if hasLo && hasHi && lo.After(hi) {
			add("min", "min must not be after max")
		}
	case "selectMultiple", "selectTable":
		lo, hasLo := Number(props["minSelections"])
		hi, hasHi := Number(props["maxSelections"])
		if hasLo && hasHi && lo > hi {
			add("minSelections", "minSelections must not exceed maxSelections")
		}
	}

	if kind == "selectTable" || kind == "displayTable" {
		issues = append(issues, checkRowKeys(props["data"])...)
	}
	return issues
}

func checkRowKeys(data any) []Issue {
	rows, ok := data.([]any)
	if !ok {
		return nil
	}

	var issues []Issue
	seen := make(map[string]int, len(rows))
	for i, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		key, _ := m["key"].(string)
		if first, dup := seen[key]; dup {
			issues = append(issues, Issue{
				Path:    "data." + strconv.Itoa(i) + ".key",
				Message: fmt.Sprintf("duplicate row key %q (first used at row %d)", key, first),
			})
			continue
		}
		seen[key] = i
	}
	return issues
}

// Number reads a numeric property in any of the shapes decoding produces.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case *big.Int:
		if n == nil {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	}
	return 0, false
}

// FormatNumber renders f without a trailing ".0" for whole numbers.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Date reads a date property that is either hydrated or an ISO string.
func Date(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, d); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
