package hxtxn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pthm/hxtxn/lib/table"
	"golang.org/x/sync/errgroup"
)

// Table operations accepted by (*Session).TableAction.
const (
	TableSearch    = "search"
	TableSort      = "sort"
	TablePage      = "page"
	TableNext      = "next"
	TablePrev      = "prev"
	TablePageSize  = "pageSize"
	TableToggle    = "toggle"
	TableSelectAll = "selectAll"
	TableClear     = "clear"
	TableRetry     = "retry"
)

const (
	exportChunk       = 100
	maxParallelFetch  = 4
	maxExportAttempts = 1000
)

// tableDriver connects one table element's engine to the host. State
// pushes are debounced: a newer change replaces the pending one, cancels
// the in-flight fetch, and responses from older epochs are dropped by the
// engine.
type tableDriver struct {
	engine   *table.Engine
	index    int
	groupKey string
	host     Host
	debounce time.Duration
	logger   *slog.Logger
	wg       *sync.WaitGroup
	ctx      context.Context

	mu       sync.Mutex
	timer    *time.Timer
	inflight context.CancelFunc
}

// tableConfig builds an engine configuration from a table element's
// properties. Tables with a totalRecords property or isAsync are remote.
func tableConfig(inst *RenderInstruction, pageSize int) table.Config {
	cfg := table.Config{
		Mode:       table.Local,
		Columns:    table.ColumnsFromAny(inst.Prop("columns")),
		Rows:       table.RowsFromAny(inst.Prop("data")),
		PageSize:   pageSize,
		IsStateful: inst.IsStateful,
	}
	if n, ok := inst.NumberProp("defaultPageSize"); ok && n > 0 {
		cfg.PageSize = int(n)
	}
	if n, ok := inst.NumberProp("totalRecords"); ok {
		total := int(n)
		cfg.TotalRecords = &total
		cfg.Mode = table.Remote
	}
	if inst.BoolProp("isAsync") {
		cfg.Mode = table.Remote
	}
	if keys, ok := inst.Prop("defaultSelectedKeys").([]any); ok {
		for _, k := range keys {
			if s, ok := k.(string); ok {
				cfg.DefaultSelected = append(cfg.DefaultSelected, s)
			}
		}
	}
	return cfg
}

// schedule sends req to the host after the debounce delay. A nil req
// is ignored.
func (d *tableDriver) schedule(req *table.Request) {
	if req == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	r := *req
	if d.debounce <= 0 {
		d.timer = nil
		go func() {
			defer d.wg.Done()
			d.dispatch(r)
		}()
		return
	}
	d.timer = time.AfterFunc(d.debounce, func() {
		defer d.wg.Done()
		d.dispatch(r)
	})
}

func (d *tableDriver) dispatch(req table.Request) {
	d.mu.Lock()
	if d.inflight != nil {
		d.inflight()
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.inflight = cancel
	d.mu.Unlock()
	defer cancel()

	tr := TableRequest{GroupKey: d.groupKey, Element: d.index, State: req.Push}
	logger := d.logger.With("groupKey", d.groupKey, "element", d.index, "epoch", req.Epoch)

	switch req.Kind {
	case table.RequestPage:
		page, err := d.host.FetchPage(ctx, tr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if d.engine.FailPage(req.Epoch, &TransportError{Op: "fetch page", Err: err}) {
				logger.Warn("table page fetch failed", "error", err)
			}
			return
		}
		if !d.engine.ApplyPage(req.Epoch, page) {
			logger.Debug("dropped stale table page")
		}
	case table.RequestView:
		if err := d.host.ReportTableView(ctx, tr); err != nil && ctx.Err() == nil {
			logger.Warn("table view report failed", "error", err)
		}
	}
}

// stop cancels the pending push and the in-flight request.
func (d *tableDriver) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.timer = nil
	if d.inflight != nil {
		d.inflight()
	}
}

// apply performs one table operation and returns the resulting request.
func (d *tableDriver) apply(op, value string) (*table.Request, error) {
	e := d.engine
	switch op {
	case TableSearch:
		return e.SetSearch(value), nil
	case TableSort:
		return e.ToggleSort(value), nil
	case TablePage:
		n, err := parseIndex(value)
		if err != nil {
			return nil, err
		}
		return e.SetPage(n), nil
	case TableNext:
		return e.NextPage(), nil
	case TablePrev:
		return e.PrevPage(), nil
	case TablePageSize:
		n, err := parseIndex(value)
		if err != nil {
			return nil, err
		}
		return e.SetPageSize(n), nil
	case TableToggle:
		e.ToggleRow(value)
		return nil, nil
	case TableSelectAll:
		return e.SetSelectAll(parseBool(value)), nil
	case TableClear:
		e.ClearSelection()
		return nil, nil
	case TableRetry:
		return e.Retry(), nil
	}
	return nil, fmt.Errorf("unknown table operation %q", op)
}

// resolveSelection produces the element's value, fetching the host's key
// list first when a remote select-all needs it.
func (d *tableDriver) resolveSelection(ctx context.Context, inst *RenderInstruction) (PendingValue, error) {
	for attempt := 0; d.engine.NeedsKeys(); attempt++ {
		if attempt >= 3 {
			return Unset(), ErrStaleBatch
		}
		req := d.engine.KeysRequest()
		keys, err := d.host.FetchAllKeys(ctx, TableRequest{GroupKey: d.groupKey, Element: d.index, State: req.Push})
		if err != nil {
			return Unset(), &TransportError{Op: "fetch keys", Err: err}
		}
		d.engine.ApplyAllKeys(req.Epoch, keys)
	}
	sel, err := d.engine.Selection()
	if err != nil {
		return Unset(), err
	}
	return SelectionValue(inst, d.engine.Mode(), sel), nil
}

// export fills a remote buffer from the host and writes every matching
// row as CSV.
func (d *tableDriver) export(ctx context.Context, w io.Writer) error {
	for attempt := 0; !d.engine.IsBufferComplete(); attempt++ {
		pushes := d.engine.FillRequests(exportChunk)
		if len(pushes) == 0 || attempt >= maxExportAttempts {
			return table.ErrBufferIncomplete
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelFetch)
		for _, p := range pushes {
			g.Go(func() error {
				page, err := d.host.FetchPage(gctx, TableRequest{GroupKey: d.groupKey, Element: d.index, State: p})
				if err != nil {
					return err
				}
				d.engine.ApplyBufferPage(p, page)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return &TransportError{Op: "fill export buffer", Err: err}
		}
	}

	rows, err := d.engine.ExportRows()
	if err != nil {
		return err
	}
	return table.WriteCSV(w, d.engine.Columns(), rows)
}
