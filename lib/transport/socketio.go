package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/pthm/hxtxn"
	"github.com/pthm/hxtxn/lib/logging"
	"github.com/pthm/hxtxn/lib/table"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Options configures a socket.io host connection.
type Options struct {
	// URL of the host, including the socket.io path.
	URL       string
	Namespace string
	// Auth is sent with the connect packet, e.g. a transaction token.
	Auth               map[string]any
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
	// RequestTimeout bounds page, key and upload URL round trips.
	RequestTimeout time.Duration
}

// Client is a socket.io connection to the host. It implements hxtxn.Host
// and forwards host pushes to an attached Sink.
type Client struct {
	io      *socket.Socket
	send    func(ev string, args ...any) error
	opts    Options
	logger  *slog.Logger
	pending *pending

	mu      sync.Mutex
	sink    Sink
	backlog []func(Sink)
	closed  bool
}

var _ hxtxn.Host = (*Client)(nil)

// Dial connects to the host and waits for the connect event. Reconnection
// is disabled: a dropped connection ends the transaction.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	logger := logging.FromContext(ctx).With("transport", "socketio", "url", opts.URL)

	parsed, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse host URL: %w", err)
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsed.Path)
	sopts.SetReconnection(false)
	sopts.SetTransports(types.NewSet(transports.WebSocket))
	if opts.Auth != nil {
		sopts.SetAuth(opts.Auth)
	}
	if opts.InsecureSkipVerify {
		logger.Warn("skipping TLS certificate verification")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	manager := socket.NewManager(base, sopts)
	io := manager.Socket(opts.Namespace, sopts)

	c := &Client{io: io, send: io.Emit, opts: opts, logger: logger, pending: newPending()}
	c.listen()

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("connected to host", "sid", io.Id())
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connected <- err
	})

	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return c, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(opts.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", opts.ConnectTimeout)
	}
}

// Attach sets the sink and replays pushes that arrived before it.
func (c *Client) Attach(sink Sink) {
	c.mu.Lock()
	c.sink = sink
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()
	for _, fn := range backlog {
		fn(sink)
	}
}

// deliver runs fn against the sink, or queues it until Attach.
func (c *Client) deliver(fn func(Sink)) {
	c.mu.Lock()
	sink := c.sink
	if sink == nil {
		c.backlog = append(c.backlog, fn)
	}
	c.mu.Unlock()
	if sink != nil {
		fn(sink)
	}
}

func (c *Client) listen() {
	handlers := map[string]types.Listener{
		EventBatch:      c.onBatch,
		EventStatus:     c.onStatus,
		EventError:      c.onError,
		EventTablePage:  c.onTablePage,
		EventTableKeys:  c.onTableKeys,
		EventUploadURLs: c.onUploadURLs,
		"disconnect":    c.onDisconnect,
	}
	for ev, fn := range handlers {
		if err := c.io.On(types.EventName(ev), fn); err != nil {
			c.logger.Error("register listener", "event", ev, "error", err)
		}
	}
}

func (c *Client) onBatch(args ...any) {
	if len(args) == 0 {
		return
	}
	raw, err := envelopeBytes(args[0])
	if err != nil {
		c.logger.Warn("unreadable batch event", "error", err)
		return
	}
	c.deliver(func(s Sink) {
		if err := s.Receive(raw); err != nil {
			c.logger.Warn("batch rejected", "error", err)
		}
	})
}

func (c *Client) onStatus(args ...any) {
	if len(args) == 0 {
		return
	}
	name, ok := args[0].(string)
	if !ok {
		msg, err := decodeArg[StatusMessage](args[0])
		if err != nil {
			c.logger.Warn("unreadable status event", "error", err)
			return
		}
		name = msg.Status
	}
	st, ok := hxtxn.ParseStatus(name)
	if !ok {
		c.logger.Warn("unknown status", "status", name)
		return
	}
	c.deliver(func(s Sink) { s.ReportStatus(st) })
}

func (c *Client) onError(args ...any) {
	if len(args) == 0 {
		return
	}
	text, ok := args[0].(string)
	if !ok {
		msg, err := decodeArg[ErrorMessage](args[0])
		if err != nil {
			c.logger.Warn("unreadable error event", "error", err)
			return
		}
		text = msg.Message
	}
	c.deliver(func(s Sink) { s.HostError(text) })
}

func (c *Client) onTablePage(args ...any) {
	r, err := firstArg[PageReply](args)
	if err != nil {
		c.logger.Warn("unreadable table page", "error", err)
		return
	}
	c.settle(r.RequestID, table.Page{Rows: r.Rows, TotalRecords: r.TotalRecords}, r.Error)
}

func (c *Client) onTableKeys(args ...any) {
	r, err := firstArg[KeysReply](args)
	if err != nil {
		c.logger.Warn("unreadable table keys", "error", err)
		return
	}
	c.settle(r.RequestID, r.Keys, r.Error)
}

func (c *Client) onUploadURLs(args ...any) {
	r, err := firstArg[URLsReply](args)
	if err != nil {
		c.logger.Warn("unreadable upload urls", "error", err)
		return
	}
	c.settle(r.RequestID, r.URLs, r.Error)
}

// onDisconnect fails outstanding requests. A disconnect not caused by
// Close ends the transaction as connection_dropped.
func (c *Client) onDisconnect(args ...any) {
	c.pending.closeAll(ErrClosed)
	c.mu.Lock()
	closing := c.closed
	c.closed = true
	c.mu.Unlock()
	if closing {
		return
	}
	c.logger.Warn("host connection dropped", "reason", args)
	c.deliver(func(s Sink) { s.ReportStatus(hxtxn.StatusConnectionDropped) })
}

func firstArg[T any](args []any) (T, error) {
	if len(args) == 0 {
		var zero T
		return zero, fmt.Errorf("missing payload")
	}
	return decodeArg[T](args[0])
}

func (c *Client) settle(id string, payload any, errMsg string) {
	if !c.pending.settle(id, reply{payload: payload, err: hostError(errMsg)}) {
		c.logger.Debug("reply for unknown request dropped", "requestId", id)
	}
}

func (c *Client) emit(ev string, payload any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.send(ev, payload)
}

// roundTrip emits a correlated request and waits for its reply.
func roundTrip[T any](ctx context.Context, c *Client, ev string, build func(id string) any) (T, error) {
	var zero T
	id, ch, err := c.pending.open()
	if err != nil {
		return zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	if err := c.emit(ev, build(id)); err != nil {
		c.pending.cancel(id)
		return zero, fmt.Errorf("emit %s: %w", ev, err)
	}
	select {
	case r := <-ch:
		if r.err != nil {
			return zero, r.err
		}
		v, ok := r.payload.(T)
		if !ok {
			return zero, fmt.Errorf("%s reply: unexpected %T", ev, r.payload)
		}
		return v, nil
	case <-ctx.Done():
		c.pending.cancel(id)
		return zero, ctx.Err()
	}
}

// SendResponse emits a response envelope.
func (c *Client) SendResponse(ctx context.Context, payload []byte) error {
	return c.emit(EventResponse, string(payload))
}

// FetchPage asks the host for the rows of a remote table view.
func (c *Client) FetchPage(ctx context.Context, req hxtxn.TableRequest) (table.Page, error) {
	return roundTrip[table.Page](ctx, c, EventTableState, func(id string) any {
		return TableState{RequestID: id, Kind: table.RequestPage.String(), GroupKey: req.GroupKey, Element: req.Element, State: req.State}
	})
}

// ReportTableView tells the host the view of a stateful table. No reply
// is expected.
func (c *Client) ReportTableView(ctx context.Context, req hxtxn.TableRequest) error {
	return c.emit(EventTableState, TableState{Kind: table.RequestView.String(), GroupKey: req.GroupKey, Element: req.Element, State: req.State})
}

// FetchAllKeys asks the host for every key matching the table's search.
func (c *Client) FetchAllKeys(ctx context.Context, req hxtxn.TableRequest) ([]string, error) {
	return roundTrip[[]string](ctx, c, EventTableState, func(id string) any {
		return TableState{RequestID: id, Kind: table.RequestKeys.String(), GroupKey: req.GroupKey, Element: req.Element, State: req.State}
	})
}

// IssueUploadURLs asks the host for one URL pair per object key.
func (c *Client) IssueUploadURLs(ctx context.Context, objectKeys []string) ([]hxtxn.UploadURL, error) {
	urls, err := roundTrip[[]hxtxn.UploadURL](ctx, c, EventRequestUpload, func(id string) any {
		return UploadRequest{RequestID: id, ObjectKeys: objectKeys}
	})
	if err != nil {
		return nil, err
	}
	if len(urls) != len(objectKeys) {
		return nil, fmt.Errorf("host issued %d upload URLs for %d files", len(urls), len(objectKeys))
	}
	return urls, nil
}

// Close disconnects without reporting a dropped connection.
func (c *Client) Close() error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return nil
	}
	c.pending.closeAll(ErrClosed)
	if c.io != nil {
		c.io.Disconnect()
	}
	return nil
}
