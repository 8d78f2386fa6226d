package hxtxn

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
)

// TestResult holds a rendered element or a handler response for
// assertions.
type TestResult struct {
	HTML            string
	StatusCode      int
	Headers         http.Header
	TriggeredEvents []string
	Flashes         []Flash
}

// TestRender renders one element with the registry's renderer, as the
// session would inside a batch. A nil registry selects DefaultRegistry.
//
//	inst := &hxtxn.RenderInstruction{Kind: hxtxn.KindNumber, Tag: "number", Label: "Qty"}
//	res, err := hxtxn.TestRender(nil, hxtxn.RenderContext{Instruction: inst})
//	if !res.HTMLContains(`type="number"`) { ... }
func TestRender(reg *Registry, rc RenderContext) (*TestResult, error) {
	return TestRenderWithContext(context.Background(), reg, rc)
}

// TestRenderWithContext is TestRender with a caller-supplied context.
func TestRenderWithContext(ctx context.Context, reg *Registry, rc RenderContext) (*TestResult, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	var buf bytes.Buffer
	if err := renderElement(ctx, reg, rc).Render(ctx, &buf); err != nil {
		return nil, err
	}
	return &TestResult{
		HTML:       buf.String(),
		StatusCode: http.StatusOK,
		Headers:    make(http.Header),
	}, nil
}

// TestGet sends an HTMX GET to h.
func TestGet(h http.Handler, target string) (*TestResult, error) {
	return NewTestRequest(http.MethodGet, target).Execute(h)
}

// TestPost sends an HTMX form POST to h.
func TestPost(h http.Handler, target string, form url.Values) (*TestResult, error) {
	return NewTestRequest(http.MethodPost, target).WithForm(form).Execute(h)
}

// TestSubmit posts form values to the session's /submit route. Element
// values are keyed by element id ("el-0"); "_choice" selects a choice.
func TestSubmit(h http.Handler, form url.Values) (*TestResult, error) {
	return TestPost(h, "/submit", form)
}

// HTMLContains checks if the HTML contains a substring.
func (r *TestResult) HTMLContains(substr string) bool {
	return strings.Contains(r.HTML, substr)
}

// HTMLContainsAll checks if the HTML contains all the given substrings.
func (r *TestResult) HTMLContainsAll(substrs ...string) bool {
	for _, s := range substrs {
		if !strings.Contains(r.HTML, s) {
			return false
		}
	}
	return true
}

// HTMLContainsAny checks if the HTML contains any of the given substrings.
func (r *TestResult) HTMLContainsAny(substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(r.HTML, s) {
			return true
		}
	}
	return false
}

// HasEvent checks if an event was triggered.
func (r *TestResult) HasEvent(event string) bool {
	return slices.Contains(r.TriggeredEvents, event)
}

// HasFlash checks if a flash with the given level and message was sent.
func (r *TestResult) HasFlash(level, message string) bool {
	return slices.Contains(r.Flashes, Flash{Level: level, Message: message})
}

// HasFlashLevel checks if any flash with the given level was sent.
func (r *TestResult) HasFlashLevel(level string) bool {
	for _, f := range r.Flashes {
		if f.Level == level {
			return true
		}
	}
	return false
}

// IsOK checks if the status code is 200.
func (r *TestResult) IsOK() bool {
	return r.StatusCode == http.StatusOK
}

// HasStatus checks if the status code matches.
func (r *TestResult) HasStatus(code int) bool {
	return r.StatusCode == code
}

// GetHeader returns the value of a header.
func (r *TestResult) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// parseTriggerHeader returns the event names of an HX-Trigger value: a
// JSON object keyed by event, or a comma-separated list.
func parseTriggerHeader(trigger string) []string {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		return nil
	}
	if strings.HasPrefix(trigger, "{") {
		var m map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trigger), &m); err != nil {
			return nil
		}
		return slices.Sorted(maps.Keys(m))
	}

	var events []string
	for _, p := range strings.Split(trigger, ",") {
		if p = strings.TrimSpace(p); p != "" {
			events = append(events, p)
		}
	}
	return events
}

// parseFlashesFromHTML extracts toasts rendered by RenderFlashesOOB.
func parseFlashesFromHTML(html string) []Flash {
	var flashes []Flash
	const prefix = `<div class="toast toast-`
	rest := html
	for {
		start := strings.Index(rest, prefix)
		if start == -1 {
			return flashes
		}
		rest = rest[start+len(prefix):]

		levelEnd := strings.IndexByte(rest, '"')
		tagEnd := strings.IndexByte(rest, '>')
		if levelEnd == -1 || tagEnd == -1 {
			return flashes
		}
		level := rest[:levelEnd]
		rest = rest[tagEnd+1:]

		end := strings.Index(rest, "</div>")
		if end == -1 {
			return flashes
		}
		flashes = append(flashes, Flash{Level: level, Message: unescapeHTML(rest[:end])})
		rest = rest[end:]
	}
}

var htmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&#34;", `"`, "&#39;", "'", "&amp;", "&")

func unescapeHTML(s string) string { return htmlUnescaper.Replace(s) }

// TestRequestBuilder builds an HTMX request against a handler.
//
//	res, err := hxtxn.NewTestRequest("POST", "/table/2").
//	    WithFormData("op", "next").
//	    Execute(sess.Handler())
type TestRequestBuilder struct {
	method  string
	target  string
	form    url.Values
	headers map[string]string
	ctx     context.Context
	noHTMX  bool
}

// NewTestRequest creates a request builder. Requests carry
// HX-Request: true unless WithoutHTMX is called.
func NewTestRequest(method, target string) *TestRequestBuilder {
	return &TestRequestBuilder{
		method:  method,
		target:  target,
		form:    url.Values{},
		headers: make(map[string]string),
		ctx:     context.Background(),
	}
}

// WithFormData adds a form value.
func (b *TestRequestBuilder) WithFormData(key, value string) *TestRequestBuilder {
	b.form.Add(key, value)
	return b
}

// WithForm adds every value of form.
func (b *TestRequestBuilder) WithForm(form url.Values) *TestRequestBuilder {
	for k, vs := range form {
		for _, v := range vs {
			b.form.Add(k, v)
		}
	}
	return b
}

// WithHeader sets a request header.
func (b *TestRequestBuilder) WithHeader(key, value string) *TestRequestBuilder {
	b.headers[key] = value
	return b
}

// WithContext sets the request context.
func (b *TestRequestBuilder) WithContext(ctx context.Context) *TestRequestBuilder {
	b.ctx = ctx
	return b
}

// WithoutHTMX drops the HX-Request header, as a plain browser request.
func (b *TestRequestBuilder) WithoutHTMX() *TestRequestBuilder {
	b.noHTMX = true
	return b
}

// Execute serves the request with h and records the response.
func (b *TestRequestBuilder) Execute(h http.Handler) (*TestResult, error) {
	req := httptest.NewRequest(b.method, b.target, strings.NewReader(b.form.Encode()))
	req = req.WithContext(b.ctx)
	if !b.noHTMX {
		req.Header.Set("HX-Request", "true")
	}
	if len(b.form) > 0 {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := &TestResult{
		HTML:       rec.Body.String(),
		StatusCode: rec.Code,
		Headers:    rec.Header(),
		Flashes:    parseFlashesFromHTML(rec.Body.String()),
	}
	if trigger := rec.Header().Get("HX-Trigger"); trigger != "" {
		res.TriggeredEvents = parseTriggerHeader(trigger)
	}
	return res, nil
}
