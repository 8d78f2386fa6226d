// Package table holds the data engine behind selectable and display-only
// tables: search, sort, pagination and selection over either a complete
// local row set or a remote, host-paged one.
//
// The engine is a plain state holder. Every mutating call returns the
// Request (if any) the caller must send to the host; responses come back
// through ApplyPage / FailPage tagged with the epoch they were issued for,
// and are dropped if the state has moved on since.
package table

import (
	"errors"
	"sort"
	"sync"
)

// DefaultPageSize is used when a table does not specify one.
const DefaultPageSize = 20

var (
	// ErrBufferIncomplete is returned when an operation needs every row of
	// a remote table before the buffer has been filled.
	ErrBufferIncomplete = errors.New("table: remote buffer incomplete")

	// ErrKeysRequired is returned when a remote select-all is pending and
	// the host has not yet supplied the full key list.
	ErrKeysRequired = errors.New("table: select-all keys not yet fetched")
)

// Mode is chosen once per table instance and never switched.
type Mode int

const (
	Local Mode = iota
	Remote
)

func (m Mode) String() string {
	if m == Remote {
		return "remote"
	}
	return "local"
}

// SortDirection orders a sorted column.
type SortDirection string

const (
	SortNone SortDirection = ""
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// RequestKind says what the host is being asked for.
type RequestKind int

const (
	// RequestPage asks the host for the rows of the current view.
	RequestPage RequestKind = iota + 1
	// RequestView reports the current view of a stateful local table.
	RequestView
	// RequestKeys asks for every key matching the current search.
	RequestKeys
)

func (k RequestKind) String() string {
	switch k {
	case RequestPage:
		return "page"
	case RequestView:
		return "view"
	case RequestKeys:
		return "keys"
	}
	return "unknown"
}

// Push is the table state as it travels to the host.
type Push struct {
	QueryTerm     string        `json:"queryTerm,omitempty" msgpack:"q,omitempty"`
	SortColumn    string        `json:"sortColumn,omitempty" msgpack:"c,omitempty"`
	SortDirection SortDirection `json:"sortDirection,omitempty" msgpack:"d,omitempty"`
	Offset        int           `json:"offset" msgpack:"o"`
	PageSize      int           `json:"pageSize" msgpack:"n"`
	IsSelectAll   bool          `json:"isSelectAll,omitempty" msgpack:"a,omitempty"`
}

// Request is an outbound state push tagged with the epoch it belongs to.
type Request struct {
	Kind  RequestKind
	Epoch uint64
	Push  Push
}

// Page is the host's answer to a RequestPage.
type Page struct {
	Rows         []Row `json:"rows"`
	TotalRecords *int  `json:"totalRecords,omitempty"`
}

// Config seeds an Engine from decoded element properties.
type Config struct {
	Mode            Mode
	Columns         []Column
	Rows            []Row
	TotalRecords    *int
	PageSize        int
	IsStateful      bool
	DefaultSelected []string
}

// View is what a renderer needs to draw the table.
type View struct {
	Rows          []Row
	Columns       []Column
	Offset        int
	PageSize      int
	Total         *int
	QueryTerm     string
	SortColumn    string
	SortDirection SortDirection
	Loading       bool
	Err           error
	Mode          Mode
	Complete      bool
	SelectAll     bool
}

// HasNext reports whether a page follows the current one.
func (v View) HasNext() bool {
	if v.Total == nil {
		return len(v.Rows) == v.PageSize
	}
	return v.Offset+v.PageSize < *v.Total
}

// HasPrev reports whether a page precedes the current one.
func (v View) HasPrev() bool { return v.Offset > 0 }

// Engine is the table data engine. It is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	mode     Mode
	stateful bool
	columns  []Column

	query    string
	sortCol  string
	sortDir  SortDirection
	offset   int
	pageSize int

	selected  map[string]struct{}
	excluded  map[string]struct{}
	selectAll bool

	epoch uint64

	// Local rows, or the complete remote buffer once filled.
	all []Row
	// Remote: the rows of the current view and its reported total.
	page    []Row
	total   *int
	loading bool
	err     error

	// Remote: unfiltered, unsorted rows keyed by position.
	base      map[int]Row
	baseTotal *int
	complete  bool

	known map[string]Row

	allKeys   []string
	keysEpoch uint64
	haveKeys  bool
}

// New builds an engine in the given mode.
func New(cfg Config) *Engine {
	e := &Engine{
		mode:     cfg.Mode,
		stateful: cfg.IsStateful,
		columns:  cfg.Columns,
		pageSize: cfg.PageSize,
		selected: make(map[string]struct{}),
		excluded: make(map[string]struct{}),
		base:     make(map[int]Row),
		known:    make(map[string]Row),
	}
	if e.pageSize <= 0 {
		e.pageSize = DefaultPageSize
	}
	for _, k := range cfg.DefaultSelected {
		e.selected[k] = struct{}{}
	}
	for _, r := range cfg.Rows {
		e.known[r.Key] = r
	}

	if e.mode == Local {
		e.all = cfg.Rows
		e.complete = true
		return e
	}

	e.page = cfg.Rows
	e.total = cfg.TotalRecords
	e.baseTotal = cfg.TotalRecords
	for i, r := range cfg.Rows {
		e.base[i] = r
	}
	e.checkComplete()
	return e
}

// Mode reports the engine's mode.
func (e *Engine) Mode() Mode { return e.mode }

// Columns returns the table's column definitions.
func (e *Engine) Columns() []Column { return e.columns }

// IsStateful reports whether view changes are reported to the host.
func (e *Engine) IsStateful() bool { return e.stateful }

// Epoch is the current state generation.
func (e *Engine) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// IsBufferComplete reports whether every row is held locally. Local tables
// are always complete.
func (e *Engine) IsBufferComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

// SetSearch filters the table. Searching resets to the first page.
func (e *Engine) SetSearch(q string) *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q == e.query {
		return nil
	}
	e.query = q
	e.offset = 0
	return e.changed()
}

// SetSort orders by column. An empty column or SortNone clears sorting.
func (e *Engine) SetSort(column string, dir SortDirection) *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if column == "" || dir == SortNone {
		column, dir = "", SortNone
	}
	if column == e.sortCol && dir == e.sortDir {
		return nil
	}
	e.sortCol, e.sortDir = column, dir
	e.offset = 0
	return e.changed()
}

// ToggleSort cycles a column through ascending, descending and unsorted.
func (e *Engine) ToggleSort(column string) *Request {
	e.mu.Lock()
	next := SortAsc
	if e.sortCol == column {
		switch e.sortDir {
		case SortAsc:
			next = SortDesc
		case SortDesc:
			next = SortNone
		}
	}
	e.mu.Unlock()
	return e.SetSort(column, next)
}

// SetOffset moves to the page starting at offset.
func (e *Engine) SetOffset(offset int) *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset == e.offset {
		return nil
	}
	e.offset = offset
	return e.changed()
}

// SetPage moves to the zero-based page n.
func (e *Engine) SetPage(n int) *Request {
	e.mu.Lock()
	size := e.pageSize
	e.mu.Unlock()
	return e.SetOffset(max(0, n) * size)
}

// NextPage advances one page if there is one.
func (e *Engine) NextPage() *Request {
	v := e.View()
	if !v.HasNext() {
		return nil
	}
	return e.SetOffset(v.Offset + v.PageSize)
}

// PrevPage steps back one page.
func (e *Engine) PrevPage() *Request {
	v := e.View()
	if !v.HasPrev() {
		return nil
	}
	return e.SetOffset(max(0, v.Offset-v.PageSize))
}

// SetPageSize changes the page size and returns to the first page.
func (e *Engine) SetPageSize(n int) *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 {
		n = DefaultPageSize
	}
	if n == e.pageSize {
		return nil
	}
	e.pageSize = n
	e.offset = 0
	return e.changed()
}

// Load returns the first page request of a remote table that arrived
// without rows, or nil when there is nothing to fetch.
func (e *Engine) Load() *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.complete || e.loading || len(e.page) > 0 {
		return nil
	}
	return e.changed()
}

// Retry re-issues the current page request after a failure.
func (e *Engine) Retry() *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil || e.complete {
		return nil
	}
	return e.changed()
}

// changed bumps the epoch and decides what, if anything, the host must
// hear about. Callers hold e.mu.
func (e *Engine) changed() *Request {
	e.epoch++
	e.haveKeys = false

	if !e.complete {
		e.loading = true
		e.err = nil
		return &Request{Kind: RequestPage, Epoch: e.epoch, Push: e.pushLocked()}
	}
	// A complete remote buffer is evaluated locally and stays silent.
	if e.mode == Local && e.stateful {
		return &Request{Kind: RequestView, Epoch: e.epoch, Push: e.pushLocked()}
	}
	return nil
}

func (e *Engine) pushLocked() Push {
	return Push{
		QueryTerm:     e.query,
		SortColumn:    e.sortCol,
		SortDirection: e.sortDir,
		Offset:        e.offset,
		PageSize:      e.pageSize,
		IsSelectAll:   e.selectAll,
	}
}

// Push returns the current state in wire form.
func (e *Engine) Push() Push {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pushLocked()
}

// ApplyPage installs a host page. It reports false, leaving state
// untouched, when the page belongs to a superseded epoch.
func (e *Engine) ApplyPage(epoch uint64, p Page) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.complete || epoch != e.epoch {
		return false
	}

	e.page = p.Rows
	if p.TotalRecords != nil {
		e.total = p.TotalRecords
	}
	e.loading = false
	e.err = nil
	for _, r := range p.Rows {
		e.known[r.Key] = r
	}

	if e.query == "" && e.sortCol == "" {
		for i, r := range p.Rows {
			e.base[e.offset+i] = r
		}
		if p.TotalRecords != nil {
			e.baseTotal = p.TotalRecords
		}
		e.checkComplete()
	}
	return true
}

// FailPage records a failed page fetch. Stale failures are ignored.
func (e *Engine) FailPage(epoch uint64, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.complete || epoch != e.epoch {
		return false
	}
	e.loading = false
	e.err = err
	return true
}

// checkComplete promotes the remote buffer to a complete row set once
// every position up to the known total is held. Callers hold e.mu.
func (e *Engine) checkComplete() {
	if e.complete || e.baseTotal == nil || len(e.base) < *e.baseTotal {
		return
	}
	rows := make([]Row, 0, *e.baseTotal)
	for i := 0; i < *e.baseTotal; i++ {
		r, ok := e.base[i]
		if !ok {
			return
		}
		rows = append(rows, r)
	}
	e.all = rows
	e.complete = true
	e.loading = false
	e.err = nil
}

// View evaluates the current page.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := View{
		Columns:       e.columns,
		Offset:        e.offset,
		PageSize:      e.pageSize,
		QueryTerm:     e.query,
		SortColumn:    e.sortCol,
		SortDirection: e.sortDir,
		Mode:          e.mode,
		Complete:      e.complete,
		SelectAll:     e.selectAll,
	}
	if !e.complete {
		v.Rows = e.page
		v.Total = e.total
		v.Loading = e.loading
		v.Err = e.err
		return v
	}

	rows := e.evaluateLocked()
	total := len(rows)
	v.Total = &total
	start := min(e.offset, total)
	end := min(start+e.pageSize, total)
	v.Rows = rows[start:end]
	return v
}

// evaluateLocked filters and sorts the complete row set.
func (e *Engine) evaluateLocked() []Row {
	return sortRows(filterRows(e.all, e.columns, e.query), e.sortCol, e.sortDir)
}

// State is the persistable part of the view, used to restore a table
// across round trips.
type State struct {
	QueryTerm     string        `msgpack:"q,omitempty"`
	SortColumn    string        `msgpack:"c,omitempty"`
	SortDirection SortDirection `msgpack:"d,omitempty"`
	Offset        int           `msgpack:"o"`
	PageSize      int           `msgpack:"n"`
	Selected      []string      `msgpack:"s,omitempty"`
	Excluded      []string      `msgpack:"x,omitempty"`
	SelectAll     bool          `msgpack:"a,omitempty"`
}

// Snapshot captures the current view and selection.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		QueryTerm:     e.query,
		SortColumn:    e.sortCol,
		SortDirection: e.sortDir,
		Offset:        e.offset,
		PageSize:      e.pageSize,
		Selected:      sortedKeys(e.selected),
		Excluded:      sortedKeys(e.excluded),
		SelectAll:     e.selectAll,
	}
}

// Restore reinstates a snapshot. It behaves like any other state change.
func (e *Engine) Restore(s State) *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.query = s.QueryTerm
	e.sortCol, e.sortDir = s.SortColumn, s.SortDirection
	e.offset = max(0, s.Offset)
	if s.PageSize > 0 {
		e.pageSize = s.PageSize
	}
	e.selected = keySet(s.Selected)
	e.excluded = keySet(s.Excluded)
	e.selectAll = s.SelectAll
	return e.changed()
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func keySet(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}
