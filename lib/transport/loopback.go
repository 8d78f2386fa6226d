package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pthm/hxtxn"
	"github.com/pthm/hxtxn/lib/table"
)

// Loopback is an in-memory host. It answers table requests from row sets
// it holds, records every response and view report, and lets a test or a
// local preview push batches and statuses into an attached sink.
//
//	lb := transport.NewLoopback()
//	sess := hxtxn.NewSession(hxtxn.SessionOptions{Host: lb})
//	lb.Attach(sess)
//	lb.SetRows("orders", 1, cols, rows)
//	_ = lb.Push(envelope)
type Loopback struct {
	mu        sync.Mutex
	sink      Sink
	tables    map[tableKey]loopTable
	responses [][]byte
	views     []hxtxn.TableRequest
	pages     []hxtxn.TableRequest
	keys      []hxtxn.TableRequest
	err       error
	urlBase   string

	// OnResponse, when set, is called with each response after it is
	// recorded. It may push the next batch.
	OnResponse func(payload []byte)
}

type tableKey struct {
	groupKey string
	element  int
}

type loopTable struct {
	cols []table.Column
	rows []table.Row
}

var _ hxtxn.Host = (*Loopback)(nil)

// NewLoopback creates an empty loopback host.
func NewLoopback() *Loopback {
	return &Loopback{
		tables:  make(map[tableKey]loopTable),
		urlBase: "memory://uploads/",
	}
}

// Attach sets the sink that Push, End and Fail deliver to.
func (l *Loopback) Attach(sink Sink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

func (l *Loopback) target() (Sink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil, fmt.Errorf("loopback: no sink attached")
	}
	return l.sink, nil
}

// Push delivers a batch envelope to the sink.
func (l *Loopback) Push(raw []byte) error {
	sink, err := l.target()
	if err != nil {
		return err
	}
	return sink.Receive(raw)
}

// End reports a status to the sink.
func (l *Loopback) End(st hxtxn.Status) error {
	sink, err := l.target()
	if err != nil {
		return err
	}
	sink.ReportStatus(st)
	return nil
}

// Reject sends a host error message to the sink.
func (l *Loopback) Reject(message string) error {
	sink, err := l.target()
	if err != nil {
		return err
	}
	sink.HostError(message)
	return nil
}

// SetRows holds the full row set behind one remote table.
func (l *Loopback) SetRows(groupKey string, element int, cols []table.Column, rows []table.Row) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tables[tableKey{groupKey, element}] = loopTable{cols: cols, rows: rows}
}

// FailWith makes every following call fail with err. Nil restores service.
func (l *Loopback) FailWith(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Responses returns the recorded response payloads.
func (l *Loopback) Responses() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.responses))
	copy(out, l.responses)
	return out
}

// Views returns the recorded view reports.
func (l *Loopback) Views() []hxtxn.TableRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hxtxn.TableRequest(nil), l.views...)
}

// PageRequests returns the recorded page requests.
func (l *Loopback) PageRequests() []hxtxn.TableRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hxtxn.TableRequest(nil), l.pages...)
}

// KeyRequests returns the recorded select-all key requests.
func (l *Loopback) KeyRequests() []hxtxn.TableRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hxtxn.TableRequest(nil), l.keys...)
}

// SendResponse records payload and calls OnResponse.
func (l *Loopback) SendResponse(ctx context.Context, payload []byte) error {
	l.mu.Lock()
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return err
	}
	l.responses = append(l.responses, append([]byte(nil), payload...))
	hook := l.OnResponse
	l.mu.Unlock()

	if hook != nil {
		hook(payload)
	}
	return nil
}

// FetchPage evaluates the pushed view over the held rows.
func (l *Loopback) FetchPage(ctx context.Context, req hxtxn.TableRequest) (table.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pages = append(l.pages, req)
	if l.err != nil {
		return table.Page{}, l.err
	}
	t, ok := l.tables[tableKey{req.GroupKey, req.Element}]
	if !ok {
		return table.Page{}, fmt.Errorf("loopback: no rows for %s/%d", req.GroupKey, req.Element)
	}
	rows, total := table.Evaluate(t.rows, t.cols, req.State)
	return table.Page{Rows: rows, TotalRecords: &total}, nil
}

// ReportTableView records a view report.
func (l *Loopback) ReportTableView(ctx context.Context, req hxtxn.TableRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.views = append(l.views, req)
	return nil
}

// FetchAllKeys returns the keys of every held row matching the search.
func (l *Loopback) FetchAllKeys(ctx context.Context, req hxtxn.TableRequest) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, req)
	if l.err != nil {
		return nil, l.err
	}
	t, ok := l.tables[tableKey{req.GroupKey, req.Element}]
	if !ok {
		return nil, fmt.Errorf("loopback: no rows for %s/%d", req.GroupKey, req.Element)
	}
	return table.MatchingKeys(t.rows, t.cols, req.State.QueryTerm), nil
}

// IssueUploadURLs returns memory:// URLs derived from the object keys.
func (l *Loopback) IssueUploadURLs(ctx context.Context, objectKeys []string) ([]hxtxn.UploadURL, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	urls := make([]hxtxn.UploadURL, len(objectKeys))
	for i, k := range objectKeys {
		urls[i] = hxtxn.UploadURL{
			UploadURL:   l.urlBase + k + "?put",
			DownloadURL: l.urlBase + k,
		}
	}
	return urls, nil
}

// MemoryUploader stores uploaded files by URL. It pairs with Loopback's
// memory:// URLs.
type MemoryUploader struct {
	mu    sync.Mutex
	files map[string]hxtxn.UploadFile
}

// Put stores f under url.
func (m *MemoryUploader) Put(ctx context.Context, url string, f hxtxn.UploadFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string]hxtxn.UploadFile)
	}
	m.files[url] = f
	return nil
}

// Get returns the file stored under url.
func (m *MemoryUploader) Get(url string) (hxtxn.UploadFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[url]
	return f, ok
}
