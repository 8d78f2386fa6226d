package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinKinds(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	for _, kind := range []string{
		"text", "email", "url", "richText", "number", "boolean", "date", "datetime",
		"file", "selectSingle", "selectMultiple", "selectTable", "displayTable",
		"heading", "markdown", "link", "image", "object", "metadata", "code", "progress",
	} {
		assert.True(t, v.Has(kind), "missing schema for %s", kind)
	}
	assert.False(t, v.Has("defs"), "shared definitions must not be a kind")
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	v := MustNew()

	tests := []struct {
		kind  string
		props map[string]any
	}{
		{"text", map[string]any{"placeholder": "Name", "minLength": json.Number("1")}},
		{"number", map[string]any{"min": json.Number("1"), "max": json.Number("10")}},
		{"selectSingle", map[string]any{"options": []any{
			map[string]any{"label": "A", "value": "a"},
		}}},
		{"selectTable", map[string]any{
			"columns": []any{map[string]any{"label": "Name", "accessorKey": "name"}},
			"data": []any{
				map[string]any{"key": "1", "data": map[string]any{"name": "x"}},
			},
			"totalRecords": json.Number("40"),
		}},
		{"link", map[string]any{"href": "/actions/refund"}},
		{"date", map[string]any{"min": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}},
		{"markdown", nil},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			data, verr := v.Validate(tt.kind, tt.props)
			require.Nil(t, verr)
			assert.NotNil(t, data)
		})
	}
}

func TestValidateReportsIssues(t *testing.T) {
	v := MustNew()

	tests := []struct {
		name     string
		kind     string
		props    map[string]any
		wantPath string
	}{
		{"missing href", "link", map[string]any{}, ""},
		{"wrong type", "number", map[string]any{"min": "one"}, "min"},
		{"bad option", "selectSingle", map[string]any{"options": []any{map[string]any{"value": "a"}}}, "options.0"},
		{"min above max", "number", map[string]any{"min": json.Number("5"), "max": json.Number("1")}, "min"},
		{"default out of range", "number", map[string]any{"max": json.Number("3"), "defaultValue": json.Number("4")}, "defaultValue"},
		{"length bounds", "text", map[string]any{"minLength": json.Number("9"), "maxLength": json.Number("2")}, "minLength"},
		{"bad date", "date", map[string]any{"min": "yesterday"}, "min"},
		{"duplicate keys", "displayTable", map[string]any{
			"columns": []any{map[string]any{"label": "A"}},
			"data": []any{
				map[string]any{"key": "1", "data": map[string]any{}},
				map[string]any{"key": "1", "data": map[string]any{}},
			},
		}, "data.1.key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, verr := v.Validate(tt.kind, tt.props)
			require.NotNil(t, verr)
			assert.Nil(t, data)
			require.NotEmpty(t, verr.Issues)

			var paths []string
			for _, is := range verr.Issues {
				paths = append(paths, is.Path)
				assert.NotEmpty(t, is.Message)
			}
			assert.Contains(t, paths, tt.wantPath)
			assert.Equal(t, tt.kind, verr.Kind)
		})
	}
}

func TestValidateUnknownKindPassesThrough(t *testing.T) {
	v := MustNew()
	props := map[string]any{"anything": true}

	data, verr := v.Validate("sparkline", props)
	require.Nil(t, verr)
	assert.Equal(t, props, data)
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: "number", Issues: []Issue{
		{Path: "", Message: "root problem"},
		{Path: "min", Message: "expected number"},
	}}
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "invalid number properties"))
	assert.Contains(t, msg, "min: expected number")
	assert.Contains(t, msg, "root problem")
}

func TestPointerToPath(t *testing.T) {
	assert.Equal(t, "", pointerToPath(""))
	assert.Equal(t, "options.0.label", pointerToPath("/options/0/label"))
	assert.Equal(t, "a/b.c~d", pointerToPath("/a~1b/c~0d"))
}

func TestNumber(t *testing.T) {
	for _, v := range []any{json.Number("2.5"), 2.5, float32(2.5)} {
		f, ok := Number(v)
		assert.True(t, ok)
		assert.InDelta(t, 2.5, f, 1e-9)
	}
	_, ok := Number("2.5")
	assert.False(t, ok)
	assert.Equal(t, "10", FormatNumber(10))
	assert.Equal(t, "2.5", FormatNumber(2.5))
}
