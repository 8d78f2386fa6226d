package hxtxn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/a-h/templ"
)

func TestTestRender_Success(t *testing.T) {
	inst := &RenderInstruction{Kind: KindHeading, Tag: "heading", Label: "Hello"}
	result, err := TestRender(nil, RenderContext{Instruction: inst})
	if err != nil {
		t.Fatalf("TestRender() error = %v", err)
	}
	if !result.IsOK() {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if !result.HTMLContains("<h2>Hello</h2>") {
		t.Errorf("HTML = %q", result.HTML)
	}
}

func TestTestRenderWithContext(t *testing.T) {
	type ctxKey string
	key := ctxKey("user")
	reg := NewRegistry()
	reg.Register(KindHeading, RendererFunc(func(ctx context.Context, rc RenderContext) templ.Component {
		return templ.Raw("<p>" + ctx.Value(key).(string) + "</p>")
	}))

	ctx := context.WithValue(context.Background(), key, "ada")
	result, err := TestRenderWithContext(ctx, reg, RenderContext{Instruction: &RenderInstruction{Kind: KindHeading}})
	if err != nil {
		t.Fatalf("TestRenderWithContext() error = %v", err)
	}
	if result.HTML != "<p>ada</p>" {
		t.Errorf("HTML = %q", result.HTML)
	}
}

func TestTestRender_RenderError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindHeading, RendererFunc(func(ctx context.Context, rc RenderContext) templ.Component {
		return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			return errors.New("render failed")
		})
	}))

	_, err := TestRender(reg, RenderContext{Instruction: &RenderInstruction{Kind: KindHeading}})
	if err == nil || err.Error() != "render failed" {
		t.Errorf("TestRender() error = %v", err)
	}
}

// echoHandler writes back what it received.
func echoHandler(t *testing.T, got *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		*got = *r
		w.Header().Set("HX-Trigger", `{"saved": {"id": 1}, "closed": null}`)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`<div>ok</div>` + RenderFlashesOOB([]Flash{{Level: FlashSuccess, Message: "Saved & done"}})))
	})
}

func TestTestRequestBuilder(t *testing.T) {
	var got http.Request
	result, err := NewTestRequest(http.MethodPost, "/table/2").
		WithFormData("op", "next").
		WithForm(url.Values{"value": {"a", "b"}}).
		WithHeader("X-Custom", "custom-value").
		Execute(echoHandler(t, &got))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got.Method != http.MethodPost || got.URL.Path != "/table/2" {
		t.Errorf("request = %s %s", got.Method, got.URL.Path)
	}
	if got.PostForm.Get("op") != "next" || len(got.PostForm["value"]) != 2 {
		t.Errorf("form = %v", got.PostForm)
	}
	if got.Header.Get("HX-Request") != "true" || got.Header.Get("X-Custom") != "custom-value" {
		t.Errorf("headers = %v", got.Header)
	}

	if !result.HasStatus(http.StatusCreated) || result.IsOK() {
		t.Errorf("StatusCode = %d", result.StatusCode)
	}
	if !result.HasEvent("saved") || !result.HasEvent("closed") || result.HasEvent("other") {
		t.Errorf("TriggeredEvents = %v", result.TriggeredEvents)
	}
	if !result.HasFlash(FlashSuccess, "Saved & done") || !result.HasFlashLevel(FlashSuccess) || result.HasFlashLevel(FlashError) {
		t.Errorf("Flashes = %+v", result.Flashes)
	}
	if result.GetHeader("hx-trigger") == "" {
		t.Error("GetHeader() is not case-insensitive")
	}
}

func TestTestRequestBuilder_WithoutHTMX(t *testing.T) {
	var got http.Request
	if _, err := NewTestRequest(http.MethodGet, "/").WithoutHTMX().Execute(echoHandler(t, &got)); err != nil {
		t.Fatal(err)
	}
	if got.Header.Get("HX-Request") != "" {
		t.Errorf("HX-Request = %q, want unset", got.Header.Get("HX-Request"))
	}
}

func TestTestRequestBuilder_WithContext(t *testing.T) {
	type ctxKey string
	key := ctxKey("test-key")
	ctx := context.WithValue(context.Background(), key, "ctx-value")

	var got http.Request
	if _, err := NewTestRequest(http.MethodGet, "/").WithContext(ctx).Execute(echoHandler(t, &got)); err != nil {
		t.Fatal(err)
	}
	if v := got.Context().Value(key); v != "ctx-value" {
		t.Errorf("context value = %v", v)
	}
}

func TestTestGetAndPost(t *testing.T) {
	var got http.Request
	h := echoHandler(t, &got)

	if _, err := TestGet(h, "/element/1?x=1"); err != nil {
		t.Fatal(err)
	}
	if got.Method != http.MethodGet || got.URL.Query().Get("x") != "1" {
		t.Errorf("GET request = %s %s", got.Method, got.URL)
	}

	if _, err := TestSubmit(h, url.Values{"el-0": {"Ada"}, "_choice": {"ok"}}); err != nil {
		t.Fatal(err)
	}
	if got.URL.Path != "/submit" || got.PostForm.Get("el-0") != "Ada" || got.PostForm.Get("_choice") != "ok" {
		t.Errorf("submit request = %s %v", got.URL.Path, got.PostForm)
	}
}

func TestTestResult_HTMLContains(t *testing.T) {
	result := &TestResult{HTML: `<div class="card">Hello World</div>`}

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"contains", result.HTMLContains("Hello"), true},
		{"missing", result.HTMLContains("Goodbye"), false},
		{"all present", result.HTMLContainsAll("card", "World"), true},
		{"all with one missing", result.HTMLContainsAll("card", "Goodbye"), false},
		{"any with one present", result.HTMLContainsAny("Goodbye", "World"), true},
		{"any none present", result.HTMLContainsAny("Goodbye", "Farewell"), false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}
