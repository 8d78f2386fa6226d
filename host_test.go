package hxtxn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/pthm/hxtxn/lib/encoding"
	"github.com/pthm/hxtxn/lib/logging"
	"github.com/pthm/hxtxn/lib/table"
)

// fakeHost answers table requests from an in-memory row set and records
// every call in order.
type fakeHost struct {
	mu        sync.Mutex
	rows      []table.Row
	cols      []table.Column
	calls     []string
	responses [][]byte
	views     []TableRequest
	pages     []TableRequest
	err       error
	urlErr    error
}

func (h *fakeHost) record(call string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
	return h.err
}

func (h *fakeHost) SendResponse(ctx context.Context, payload []byte) error {
	if err := h.record("response"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, payload)
	return nil
}

func (h *fakeHost) FetchPage(ctx context.Context, req TableRequest) (table.Page, error) {
	if err := h.record("page"); err != nil {
		return table.Page{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pages = append(h.pages, req)
	rows, total := table.Evaluate(h.rows, h.cols, req.State)
	return table.Page{Rows: rows, TotalRecords: &total}, nil
}

func (h *fakeHost) ReportTableView(ctx context.Context, req TableRequest) error {
	if err := h.record("view"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.views = append(h.views, req)
	return nil
}

func (h *fakeHost) FetchAllKeys(ctx context.Context, req TableRequest) ([]string, error) {
	if err := h.record("keys"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return table.MatchingKeys(h.rows, h.cols, req.State.QueryTerm), nil
}

func (h *fakeHost) IssueUploadURLs(ctx context.Context, keys []string) ([]UploadURL, error) {
	if err := h.record("upload_urls"); err != nil {
		return nil, err
	}
	if h.urlErr != nil {
		return nil, h.urlErr
	}
	out := make([]UploadURL, len(keys))
	for i, k := range keys {
		out[i] = UploadURL{UploadURL: "https://put.test/" + k, DownloadURL: "https://get.test/" + k}
	}
	return out, nil
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHost) Pages() []TableRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TableRequest(nil), h.pages...)
}

func (h *fakeHost) Responses() []*encoding.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*encoding.Response, 0, len(h.responses))
	for _, raw := range h.responses {
		resp, err := encoding.DecodeResponse(nil, raw)
		if err != nil {
			panic(err)
		}
		out = append(out, resp)
	}
	return out
}

// memUploader accepts every PUT.
type memUploader struct {
	mu   sync.Mutex
	puts []string
}

func (u *memUploader) Put(ctx context.Context, url string, f UploadFile) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.puts = append(u.puts, url)
	return nil
}

func testRows(n int) []table.Row {
	rows := make([]table.Row, n)
	for i := range rows {
		rows[i] = table.Row{Key: fmt.Sprint(i + 1), Data: map[string]any{"name": fmt.Sprintf("row %d", i+1)}}
	}
	return rows
}

var testColumns = []table.Column{{Label: "Name", AccessorKey: "name"}}

// el builds one wire element.
func el(kind, label string, props map[string]any) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	return map[string]any{"kind": kind, "label": label, "properties": props}
}

func envelopeJSON(t testing.TB, groupKey string, extra map[string]any, elements ...map[string]any) []byte {
	t.Helper()
	m := map[string]any{"groupKey": groupKey, "elements": elements}
	for k, v := range extra {
		m[k] = v
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func newTestSession(t testing.TB, host Host) *Session {
	t.Helper()
	sess := NewSession(SessionOptions{
		Host:     host,
		Uploader: &memUploader{},
		Logger:   logging.Discard(),
	})
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func mustReceive(t testing.TB, sess *Session, raw []byte) {
	t.Helper()
	if err := sess.Receive(raw); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	sess.Wait()
}
