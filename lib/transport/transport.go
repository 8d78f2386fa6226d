// Package transport carries the host protocol between a session and the
// remote action process.
//
// The host pushes instruction batches, status changes and error messages;
// the session answers with response envelopes, table state pushes and
// upload URL requests. Requests that expect a reply carry a requestId
// that the host echoes back.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pthm/hxtxn"
	"github.com/pthm/hxtxn/lib/table"
)

// Inbound event names, sent by the host.
const (
	EventBatch      = "batch"
	EventStatus     = "status"
	EventError      = "error"
	EventTablePage  = "table_page"
	EventTableKeys  = "table_keys"
	EventUploadURLs = "upload_urls"
)

// Outbound event names, sent to the host.
const (
	EventResponse      = "response"
	EventTableState    = "table_state"
	EventRequestUpload = "request_upload_urls"
)

var (
	// ErrClosed is returned for calls on a closed connection.
	ErrClosed = errors.New("transport: connection closed")
	// ErrHostRejected wraps an error string the host put in a reply.
	ErrHostRejected = errors.New("transport: host rejected request")
)

// Sink receives what the host pushes. *hxtxn.Session implements it.
type Sink interface {
	Receive(raw []byte) error
	ReportStatus(st hxtxn.Status)
	HostError(message string)
}

// TableState is the table_state event payload. Kind is "page", "view" or
// "keys"; only "view" expects no reply.
type TableState struct {
	RequestID string     `json:"requestId,omitempty"`
	Kind      string     `json:"kind"`
	GroupKey  string     `json:"groupKey"`
	Element   int        `json:"element"`
	State     table.Push `json:"state"`
}

// UploadRequest is the request_upload_urls event payload.
type UploadRequest struct {
	RequestID  string   `json:"requestId"`
	ObjectKeys []string `json:"objectKeys"`
}

// PageReply is the table_page event payload.
type PageReply struct {
	RequestID    string      `json:"requestId"`
	Rows         []table.Row `json:"rows"`
	TotalRecords *int        `json:"totalRecords,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// KeysReply is the table_keys event payload.
type KeysReply struct {
	RequestID string   `json:"requestId"`
	Keys      []string `json:"keys"`
	Error     string   `json:"error,omitempty"`
}

// URLsReply is the upload_urls event payload.
type URLsReply struct {
	RequestID string            `json:"requestId"`
	URLs      []hxtxn.UploadURL `json:"urls"`
	Error     string            `json:"error,omitempty"`
}

// StatusMessage is the status event payload.
type StatusMessage struct {
	Status string `json:"status"`
}

// ErrorMessage is the error event payload.
type ErrorMessage struct {
	Message string `json:"message"`
}

// decodeArg converts one event argument into T. Socket.io delivers JSON
// values already decoded, so objects are marshaled back and decoded into
// the typed payload.
func decodeArg[T any](arg any) (T, error) {
	var out T
	var data []byte
	switch v := arg.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return out, err
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

// envelopeBytes returns a batch event argument as raw envelope JSON.
func envelopeBytes(arg any) ([]byte, error) {
	switch v := arg.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// reply is a settled correlated request.
type reply struct {
	payload any
	err     error
}

// pending correlates outbound requests with host replies by requestId.
type pending struct {
	mu      sync.Mutex
	waiters map[string]chan reply
	closed  bool
}

func newPending() *pending {
	return &pending{waiters: make(map[string]chan reply)}
}

// open registers a new request and returns its id and reply channel.
func (p *pending) open() (string, <-chan reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", nil, ErrClosed
	}
	id := uuid.NewString()
	ch := make(chan reply, 1)
	p.waiters[id] = ch
	return id, ch, nil
}

// settle delivers a reply. Unknown or already settled ids are dropped.
func (p *pending) settle(id string, r reply) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	delete(p.waiters, id)
	p.mu.Unlock()
	if ok {
		ch <- r
	}
	return ok
}

func (p *pending) cancel(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// closeAll fails every outstanding request with err.
func (p *pending) closeAll(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan reply)
	p.closed = true
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- reply{err: err}
	}
}

func (p *pending) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

func hostError(msg string) error {
	if msg == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrHostRejected, msg)
}
