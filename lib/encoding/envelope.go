// Package encoding implements the wire codec for instruction envelopes and
// response envelopes, the custom-type tag table used to carry non-JSON
// scalars through them, and the token sealer for client-held view state.
package encoding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// Envelope errors.
var (
	ErrEmptyEnvelope   = errors.New("encoding: empty envelope")
	ErrMissingGroupKey = errors.New("encoding: envelope has no groupKey")
	ErrMissingElements = errors.New("encoding: envelope elements must be an array")
)

// Envelope is the host → client instruction batch as it appears on the wire.
type Envelope struct {
	GroupKey               string         `json:"groupKey"`
	Elements               []WireElement  `json:"-"`
	SubmitOptions          *SubmitOptions `json:"submitOptions,omitempty"`
	ValidationErrorMessage *string        `json:"validationErrorMessage,omitempty"`
}

// WireElement is a single element of an Envelope. DecodeErr is set when the
// element itself could not be unmarshalled; the remaining fields then hold
// whatever could be recovered.
type WireElement struct {
	Kind                string               `json:"kind"`
	Label               string               `json:"label"`
	Properties          json.RawMessage      `json:"properties,omitempty"`
	PropertiesTypeMeta  map[string]string    `json:"propertiesTypeMeta,omitempty"`
	IsStateful          bool                 `json:"isStateful"`
	IsOptional          bool                 `json:"isOptional"`
	IsMultiple          bool                 `json:"isMultiple"`
	MultipleConstraints *MultipleConstraints `json:"multipleConstraints,omitempty"`

	DecodeErr error `json:"-"`
}

// MultipleConstraints bounds the number of values an isMultiple element collects.
type MultipleConstraints struct {
	MinItems *int `json:"minItems,omitempty"`
	MaxItems *int `json:"maxItems,omitempty"`
}

// SubmitOptions configures the batch's submit affordance.
type SubmitOptions struct {
	Choices       []Choice `json:"choices,omitempty"`
	ContinueLabel string   `json:"continueLabel,omitempty"`
	HideContinue  bool     `json:"hideContinue,omitempty"`
}

// Choice is one labelled submit button.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Theme string `json:"theme,omitempty"`
}

type rawEnvelope struct {
	GroupKey               *string         `json:"groupKey"`
	Elements               json.RawMessage `json:"elements"`
	SubmitOptions          *SubmitOptions  `json:"submitOptions,omitempty"`
	ValidationErrorMessage *string         `json:"validationErrorMessage,omitempty"`
}

// DecodeEnvelope parses raw into an Envelope. Envelope-level problems
// (not JSON, no groupKey, elements not an array) are returned as errors.
// Element-level problems never fail the envelope: they are recorded on the
// element's DecodeErr.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyEnvelope
	}

	var re rawEnvelope
	if err := json.Unmarshal(raw, &re); err != nil {
		return nil, fmt.Errorf("encoding: malformed envelope: %w", err)
	}
	if re.GroupKey == nil || *re.GroupKey == "" {
		return nil, ErrMissingGroupKey
	}

	var items []json.RawMessage
	if len(re.Elements) > 0 && !bytes.Equal(re.Elements, []byte("null")) {
		if err := json.Unmarshal(re.Elements, &items); err != nil {
			return nil, ErrMissingElements
		}
	}

	env := &Envelope{
		GroupKey:               *re.GroupKey,
		SubmitOptions:          re.SubmitOptions,
		ValidationErrorMessage: re.ValidationErrorMessage,
		Elements:               make([]WireElement, len(items)),
	}
	for i, item := range items {
		env.Elements[i] = decodeElement(item)
	}
	return env, nil
}

func decodeElement(item json.RawMessage) WireElement {
	var el WireElement
	err := json.Unmarshal(item, &el)
	if err == nil {
		return el
	}

	// Recover what we can so the element can still be labelled.
	var partial struct {
		Kind  any `json:"kind"`
		Label any `json:"label"`
	}
	_ = json.Unmarshal(item, &partial)

	el = WireElement{DecodeErr: err}
	if s, ok := partial.Kind.(string); ok {
		el.Kind = s
	}
	if s, ok := partial.Label.(string); ok {
		el.Label = s
	}
	return el
}

// PropertiesMap decodes the element's raw properties into a generic map using
// json.Number for numbers. Missing or null properties decode to an empty map.
func (el WireElement) PropertiesMap() (map[string]any, error) {
	if len(el.Properties) == 0 || bytes.Equal(bytes.TrimSpace(el.Properties), []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(el.Properties))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("properties must be an object, got %s", jsonTypeName(v))
	}
	return m, nil
}

// Response is the client → host envelope: values positionally aligned with
// the batch's elements.
type Response struct {
	GroupKey   string            `json:"groupKey"`
	Values     []any             `json:"values"`
	ValuesMeta map[string]string `json:"valuesMeta,omitempty"`
	Choice     string            `json:"choice,omitempty"`
}

// EncodeResponse packs values for groupKey. Rich values known to tags are
// dehydrated and their positions recorded in ValuesMeta.
func EncodeResponse(tags *TypeTags, groupKey string, values []any, choice string) ([]byte, error) {
	if tags == nil {
		tags = DefaultTypeTags()
	}
	if values == nil {
		values = []any{}
	}

	plain, meta := tags.Dehydrate(values)
	resp := Response{
		GroupKey:   groupKey,
		Values:     plain.([]any),
		ValuesMeta: meta,
		Choice:     choice,
	}
	return json.Marshal(resp)
}

// DecodeResponse reverses EncodeResponse. Numbers decode as json.Number.
func DecodeResponse(tags *TypeTags, raw []byte) (*Response, error) {
	if tags == nil {
		tags = DefaultTypeTags()
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("encoding: malformed response: %w", err)
	}

	values := make([]any, len(resp.Values))
	copy(values, resp.Values)
	res, err := tags.Hydrate(values, resp.ValuesMeta)
	if err != nil {
		return nil, err
	}
	resp.Values = res.Value.([]any)
	return &resp, nil
}

// normalizeContainer converts typed slices and string-keyed maps into
// []any / map[string]any so they can be walked uniformly.
func normalizeContainer(v any) any {
	switch v.(type) {
	case nil, map[string]any, []any, []byte, string, json.Number:
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out
	}
	return v
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return strconv.Quote(fmt.Sprintf("%T", v))
}
