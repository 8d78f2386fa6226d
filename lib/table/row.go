package table

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"
)

// Row is one record of a table. Rows are immutable once fetched.
type Row struct {
	Key  string         `json:"key" msgpack:"k"`
	Data map[string]any `json:"data" msgpack:"d"`
}

// WireValue is the shape a row takes inside a response envelope.
func (r Row) WireValue() any {
	return map[string]any{"key": r.Key, "data": r.Data}
}

// Column describes one table column. ID is the key into Row.Data.
type Column struct {
	Label       string `json:"label"`
	AccessorKey string `json:"accessorKey,omitempty"`
}

// ID returns the data key for the column.
func (c Column) ID() string {
	if c.AccessorKey != "" {
		return c.AccessorKey
	}
	return c.Label
}

// RowsFromAny converts decoded JSON rows ([]any of {key, data}) into Rows.
// Entries that are not rows are skipped.
func RowsFromAny(v any) []Row {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, ok := m["key"].(string)
		if !ok {
			continue
		}
		data, _ := m["data"].(map[string]any)
		rows = append(rows, Row{Key: key, Data: data})
	}
	return rows
}

// ColumnsFromAny converts decoded JSON column definitions into Columns.
func ColumnsFromAny(v any) []Column {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	cols := make([]Column, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label, _ := m["label"].(string)
		accessor, _ := m["accessorKey"].(string)
		cols = append(cols, Column{Label: label, AccessorKey: accessor})
	}
	return cols
}

// CellText renders a cell value as display text.
func CellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case time.Time:
		return val.Format("2006-01-02 15:04")
	case *big.Int:
		return val.String()
	case map[string]any:
		// Rich cells carry their display text in "label".
		if label, ok := val["label"]; ok {
			return CellText(label)
		}
		if value, ok := val["value"]; ok {
			return CellText(value)
		}
	}
	return fmt.Sprint(v)
}

// cellSortValue unwraps rich cells for ordering.
func cellSortValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		if value, ok := m["value"]; ok {
			return value
		}
		if label, ok := m["label"]; ok {
			return label
		}
	}
	return v
}

func matches(r Row, cols []Column, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if len(cols) == 0 {
		for _, v := range r.Data {
			if strings.Contains(strings.ToLower(CellText(v)), q) {
				return true
			}
		}
		return false
	}
	for _, c := range cols {
		if strings.Contains(strings.ToLower(CellText(r.Data[c.ID()])), q) {
			return true
		}
	}
	return false
}

func filterRows(rows []Row, cols []Column, query string) []Row {
	if query == "" {
		return rows
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if matches(r, cols, query) {
			out = append(out, r)
		}
	}
	return out
}

func sortRows(rows []Row, column string, dir SortDirection) []Row {
	if column == "" || dir == SortNone {
		return rows
	}
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		c := compareCells(cellSortValue(out[i].Data[column]), cellSortValue(out[j].Data[column]))
		if dir == SortDesc {
			return c > 0
		}
		return c < 0
	})
	return out
}

// compareCells orders nil last, then numbers, times, and text.
func compareCells(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(strings.ToLower(CellText(a)), strings.ToLower(CellText(b)))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	}
	return 0, false
}

// Evaluate answers a pushed view over a full row set the way a host
// would: filter by the query term, sort, then cut the requested page.
// It returns the page and the number of matching rows.
func Evaluate(rows []Row, cols []Column, p Push) ([]Row, int) {
	matched := sortRows(filterRows(rows, cols, p.QueryTerm), p.SortColumn, p.SortDirection)
	total := len(matched)
	start := min(max(p.Offset, 0), total)
	end := total
	if p.PageSize > 0 {
		end = min(start+p.PageSize, total)
	}
	return matched[start:end], total
}

// MatchingKeys returns the keys of every row matching query, in row order.
func MatchingKeys(rows []Row, cols []Column, query string) []string {
	matched := filterRows(rows, cols, query)
	keys := make([]string, len(matched))
	for i, r := range matched {
		keys[i] = r.Key
	}
	return keys
}
