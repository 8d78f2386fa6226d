package hxtxn

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestHandlerPage(t *testing.T) {
	sess := newTestSession(t, &fakeHost{})
	mustReceive(t, sess, envelopeJSON(t, "q1", nil, el("text", "Full name", nil)))
	h := sess.Handler()

	res, err := TestGet(h, "/")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsOK() || !res.HTMLContainsAll(`id="el-0"`, "Full name") {
		t.Errorf("GET / = %d\n%s", res.StatusCode, res.HTML)
	}
	if res.HTMLContains("<!doctype html>") {
		t.Error("HTMX request got a full document")
	}

	full, err := NewTestRequest(http.MethodGet, "/").WithoutHTMX().Execute(h)
	if err != nil {
		t.Fatal(err)
	}
	if !full.HTMLContainsAll("<!doctype html>", "htmx.org", `id="toasts"`) {
		t.Errorf("direct GET / is not a full document:\n%s", full.HTML)
	}
}

func TestHandlerRequiresHTMXForPost(t *testing.T) {
	sess := newTestSession(t, &fakeHost{})
	mustReceive(t, sess, envelopeJSON(t, "q1", nil, el("text", "Name", nil)))

	res, err := NewTestRequest(http.MethodPost, "/submit").
		WithFormData("el-0", "Ada").
		WithoutHTMX().
		Execute(sess.Handler())
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasStatus(http.StatusForbidden) {
		t.Errorf("status = %d, want 403", res.StatusCode)
	}
	if sess.Status() != StatusInProgress {
		t.Errorf("forbidden post changed status to %v", sess.Status())
	}
}

func TestHandlerSubmit(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		wantEvent  string
		wantStatus Status
		wantSent   int
	}{
		{
			name:       "blocked",
			form:       url.Values{},
			wantEvent:  "hxtxn:blocked",
			wantStatus: StatusInProgress,
		},
		{
			name:       "submitted",
			form:       url.Values{"el-0": {"Ada"}, "el-1": {"3"}},
			wantEvent:  "hxtxn:submitted",
			wantStatus: StatusAwaitingNextBatch,
			wantSent:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := &fakeHost{}
			sess := newTestSession(t, host)
			mustReceive(t, sess, envelopeJSON(t, "q1", nil,
				el("text", "Name", nil),
				el("number", "Qty", map[string]any{"min": 1}),
			))

			res, err := TestSubmit(sess.Handler(), tt.form)
			if err != nil {
				t.Fatal(err)
			}
			if !res.IsOK() {
				t.Fatalf("status = %d: %s", res.StatusCode, res.HTML)
			}
			if !res.HasEvent(tt.wantEvent) {
				t.Errorf("events = %v, want %s", res.TriggeredEvents, tt.wantEvent)
			}
			if sess.Status() != tt.wantStatus {
				t.Errorf("Status() = %v, want %v", sess.Status(), tt.wantStatus)
			}
			if n := len(host.Responses()); n != tt.wantSent {
				t.Errorf("sent %d responses, want %d", n, tt.wantSent)
			}
		})
	}
}

func TestHandlerBlockedShowsMessage(t *testing.T) {
	sess := newTestSession(t, &fakeHost{})
	mustReceive(t, sess, envelopeJSON(t, "q1", nil, el("text", "Name", nil)))

	res, err := TestSubmit(sess.Handler(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HTMLContains(RequiredMessage) {
		t.Errorf("blocked view lacks %q:\n%s", RequiredMessage, res.HTML)
	}
}

func TestHandlerHostErrorFlash(t *testing.T) {
	sess := newTestSession(t, &fakeHost{})
	mustReceive(t, sess, envelopeJSON(t, "q1", nil, el("heading", "Hi", nil)))
	sess.HostError("Host said no")

	res, err := TestGet(sess.Handler(), "/")
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasFlash(FlashError, "Host said no") {
		t.Errorf("flashes = %+v", res.Flashes)
	}
}

func TestHandlerErrors(t *testing.T) {
	sess := newTestSession(t, &fakeHost{})
	mustReceive(t, sess, envelopeJSON(t, "q1", nil, el("text", "Name", nil)))
	h := sess.Handler()

	tests := []struct {
		name   string
		method string
		target string
		form   url.Values
		want   int
	}{
		{"element out of range", http.MethodGet, "/element/9", nil, http.StatusNotFound},
		{"element not a number", http.MethodGet, "/element/x", nil, http.StatusBadRequest},
		{"table op on text", http.MethodPost, "/table/0", url.Values{"op": {"next"}}, http.StatusBadRequest},
		{"bad choice", http.MethodPost, "/submit", url.Values{"_choice": {"nope"}}, http.StatusBadRequest},
		{"export non-table", http.MethodGet, "/export/0", nil, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/nowhere", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewTestRequest(tt.method, tt.target).WithForm(tt.form).Execute(h)
			if err != nil {
				t.Fatal(err)
			}
			if !res.HasStatus(tt.want) {
				t.Errorf("status = %d, want %d: %s", res.StatusCode, tt.want, res.HTML)
			}
		})
	}
}

func TestHandlerClosedSession(t *testing.T) {
	sess := newTestSession(t, &fakeHost{})
	mustReceive(t, sess, envelopeJSON(t, "q1", nil, el("text", "Name", nil)))
	sess.ReportStatus(StatusCompleted)

	res, err := TestSubmit(sess.Handler(), url.Values{"el-0": {"Ada"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasStatus(http.StatusGone) {
		t.Errorf("status = %d, want 410", res.StatusCode)
	}

	page, err := TestGet(sess.Handler(), "/")
	if err != nil {
		t.Fatal(err)
	}
	if !page.HTMLContains("This transaction is complete.") {
		t.Errorf("page lacks completion banner:\n%s", page.HTML)
	}
}

func localTableEnvelope(t *testing.T) []byte {
	rows := []map[string]any{
		{"key": "1", "data": map[string]any{"name": "Alpha"}},
		{"key": "2", "data": map[string]any{"name": "Beta"}},
		{"key": "3", "data": map[string]any{"name": "Gamma"}},
	}
	return envelopeJSON(t, "q1", nil, el("displayTable", "Letters", map[string]any{
		"columns":         []map[string]any{{"label": "Name", "accessorKey": "name"}},
		"data":            rows,
		"defaultPageSize": 2,
	}))
}

func TestHandlerTableControls(t *testing.T) {
	sess := newTestSession(t, &fakeHost{})
	mustReceive(t, sess, localTableEnvelope(t))
	h := sess.Handler()

	res, err := TestPost(h, "/table/0", url.Values{"op": {TableSearch}, "value": {"gam"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsOK() || !res.HTMLContains("Gamma") || res.HTMLContains("Alpha") {
		t.Errorf("search result:\n%s", res.HTML)
	}

	res, err = TestPost(h, "/table/0", url.Values{"op": {"shuffle"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasStatus(http.StatusBadRequest) {
		t.Errorf("unknown op status = %d", res.StatusCode)
	}
}

func TestHandlerExport(t *testing.T) {
	sess := newTestSession(t, &fakeHost{})
	mustReceive(t, sess, localTableEnvelope(t))

	req := httptest.NewRequest(http.MethodGet, "/export/0", nil)
	rec := httptest.NewRecorder()
	sess.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	want := "Name\nAlpha\nBeta\nGamma\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}
}

func uploadRequest(t *testing.T, target string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("HX-Request", "true")
	return req
}

func TestHandlerUpload(t *testing.T) {
	tests := []struct {
		name      string
		props     map[string]any
		content   string
		wantPhase UploadPhase
		wantFlash bool
	}{
		{name: "accepted", content: "hello", wantPhase: UploadDone},
		{name: "too large", props: map[string]any{"maxSize": 3}, content: "hello", wantPhase: UploadIdle, wantFlash: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newTestSession(t, &fakeHost{})
			mustReceive(t, sess, envelopeJSON(t, "q1", nil, el("file", "Attachment", tt.props)))

			rec := httptest.NewRecorder()
			sess.Handler().ServeHTTP(rec, uploadRequest(t, "/upload/0", map[string]string{"note.txt": tt.content}))
			sess.Wait()

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			flashes := parseFlashesFromHTML(rec.Body.String())
			if got := len(flashes) > 0; got != tt.wantFlash {
				t.Errorf("flashes = %+v", flashes)
			}
			u, err := sess.Upload(0)
			if err != nil {
				t.Fatal(err)
			}
			if phase, _ := u.Phase(); phase != tt.wantPhase {
				t.Errorf("Phase() = %v, want %v", phase, tt.wantPhase)
			}
		})
	}
}
