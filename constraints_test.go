package hxtxn

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/pthm/hxtxn/lib/encoding"
	"github.com/pthm/hxtxn/lib/table"
)

func intp(n int) *int { return &n }

func TestParseInput(t *testing.T) {
	options := []any{
		map[string]any{"label": "Red", "value": "red"},
		map[string]any{"label": "Blue", "value": "blue"},
		map[string]any{"label": "Green", "value": "green"},
	}
	tests := []struct {
		name    string
		inst    RenderInstruction
		raw     []string
		want    any
		wantErr string
		unset   bool
	}{
		{name: "empty text", inst: RenderInstruction{Kind: KindText}, raw: []string{"  "}, unset: true},
		{name: "text", inst: RenderInstruction{Kind: KindText}, raw: []string{"hi"}, want: "hi"},
		{name: "text too short", inst: RenderInstruction{Kind: KindText, Properties: map[string]any{"minLength": 3.0}},
			raw: []string{"hi"}, wantErr: "Must be at least 3 characters."},
		{name: "text too long", inst: RenderInstruction{Kind: KindText, Properties: map[string]any{"maxLength": 2.0}},
			raw: []string{"héllo"}, wantErr: "Must be at most 2 characters."},
		{name: "email", inst: RenderInstruction{Kind: KindEmail}, raw: []string{" ada@example.com "}, want: "ada@example.com"},
		{name: "email display name", inst: RenderInstruction{Kind: KindEmail}, raw: []string{"Ada <ada@example.com>"},
			wantErr: "Please enter a valid email address."},
		{name: "url", inst: RenderInstruction{Kind: KindURL}, raw: []string{"https://example.com/x"}, want: "https://example.com/x"},
		{name: "url relative", inst: RenderInstruction{Kind: KindURL}, raw: []string{"/x"}, wantErr: "Please enter a valid URL."},
		{name: "number", inst: RenderInstruction{Kind: KindNumber}, raw: []string{"2.50"}, want: json.Number("2.5")},
		{name: "number whole", inst: RenderInstruction{Kind: KindNumber, Properties: map[string]any{"decimals": 0.0}},
			raw: []string{"2.5"}, wantErr: "Must be a whole number."},
		{name: "number min", inst: RenderInstruction{Kind: KindNumber, Properties: map[string]any{"min": 5.0}},
			raw: []string{"4"}, wantErr: "Must be at least 5."},
		{name: "boolean unchecked", inst: RenderInstruction{Kind: KindBoolean}, raw: []string{"false"}, want: false},
		{name: "boolean checked", inst: RenderInstruction{Kind: KindBoolean}, raw: []string{"false", "true"}, want: true},
		{name: "boolean none", inst: RenderInstruction{Kind: KindBoolean}, raw: nil, want: false},
		{name: "date", inst: RenderInstruction{Kind: KindDate}, raw: []string{"2024-02-29"},
			want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{name: "date invalid", inst: RenderInstruction{Kind: KindDate}, raw: []string{"2023-02-29"}, wantErr: "Please enter a valid date."},
		{name: "date before min", inst: RenderInstruction{Kind: KindDate, Properties: map[string]any{"min": "2024-01-01"}},
			raw: []string{"2023-12-31"}, wantErr: "Must be on or after 2024-01-01."},
		{name: "select single", inst: RenderInstruction{Kind: KindSelectSingle, Properties: map[string]any{"options": options}},
			raw: []string{"blue"}, want: "blue"},
		{name: "select single unknown", inst: RenderInstruction{Kind: KindSelectSingle, Properties: map[string]any{"options": options}},
			raw: []string{"pink"}, wantErr: "Please choose one of the available options."},
		{name: "select multiple", inst: RenderInstruction{Kind: KindSelectMultiple, Properties: map[string]any{"options": options}},
			raw: []string{"red", "green"}, want: []any{"red", "green"}},
		{name: "multiple text", inst: RenderInstruction{Kind: KindText, IsMultiple: true},
			raw: []string{"a", "", "b"}, want: []any{"a", "b"}},
		{name: "multiple too few", inst: RenderInstruction{Kind: KindText, IsMultiple: true,
			MultipleConstraints: &encoding.MultipleConstraints{MinItems: intp(3)}},
			raw: []string{"a", "b"}, wantErr: "Provide at least 3 values."},
		{name: "table ignores form input", inst: RenderInstruction{Kind: KindSelectTable}, raw: []string{"x"}, unset: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseInput(&tt.inst, tt.raw)
			switch {
			case tt.unset:
				if !p.IsUnset() {
					t.Errorf("ParseInput() = %v, want unset", p)
				}
			case tt.wantErr != "":
				if p.Err() == nil || p.Err().Message != tt.wantErr {
					t.Errorf("ParseInput() = %v, want error %q", p, tt.wantErr)
				}
			default:
				got, ok := p.Value()
				if !ok {
					t.Fatalf("ParseInput() = %v, want value", p)
				}
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("ParseInput() = %#v, want %#v", got, tt.want)
				}
			}
		})
	}
}

func TestSelectionValue(t *testing.T) {
	rows := []table.Row{{Key: "a"}, {Key: "b"}, {Key: "c"}}
	tests := []struct {
		name    string
		props   map[string]any
		mode    table.Mode
		sel     table.Selection
		want    any
		wantErr string
		unset   bool
	}{
		{name: "nothing selected", sel: table.Selection{}, unset: true},
		{name: "local rows", mode: table.Local, sel: table.Selection{Keys: []string{"a", "b"}, Rows: rows[:2]},
			want: []any{rows[0], rows[1]}},
		{name: "remote keys", mode: table.Remote, sel: table.Selection{Keys: []string{"a", "c"}},
			want: []any{"a", "c"}},
		{name: "too many", props: map[string]any{"maxSelections": 1.0}, sel: table.Selection{Keys: []string{"a", "b"}},
			wantErr: "Select at most 1."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := &RenderInstruction{Kind: KindSelectTable, Properties: tt.props}
			p := SelectionValue(inst, tt.mode, tt.sel)
			switch {
			case tt.unset:
				if !p.IsUnset() {
					t.Errorf("got %v, want unset", p)
				}
			case tt.wantErr != "":
				if p.Err() == nil || p.Err().Message != tt.wantErr {
					t.Errorf("got %v, want error %q", p, tt.wantErr)
				}
			default:
				got, _ := p.Value()
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("got %#v, want %#v", got, tt.want)
				}
			}
		})
	}
}
