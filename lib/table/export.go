package table

import (
	"encoding/csv"
	"io"
)

// FillRequests lists the unfiltered pages still missing from a remote
// buffer, chunk rows at a time. With an unknown total only the next page
// is listed; callers loop until IsBufferComplete.
func (e *Engine) FillRequests(chunk int) []Push {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.complete {
		return nil
	}
	if chunk <= 0 {
		chunk = e.pageSize
	}

	if e.baseTotal == nil {
		next := 0
		for {
			if _, ok := e.base[next]; !ok {
				break
			}
			next++
		}
		return []Push{{Offset: next, PageSize: chunk}}
	}

	var out []Push
	for off := 0; off < *e.baseTotal; off += chunk {
		end := min(off+chunk, *e.baseTotal)
		for i := off; i < end; i++ {
			if _, ok := e.base[i]; !ok {
				out = append(out, Push{Offset: off, PageSize: chunk})
				break
			}
		}
	}
	return out
}

// ApplyBufferPage stores an unfiltered page fetched by a FillRequests push.
// Buffer pages are independent of the view, so they carry no epoch. A
// short page with no total marks the end of the data.
func (e *Engine) ApplyBufferPage(p Push, page Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.complete {
		return
	}
	for i, r := range page.Rows {
		e.base[p.Offset+i] = r
		e.known[r.Key] = r
	}
	switch {
	case page.TotalRecords != nil:
		e.baseTotal = page.TotalRecords
	case len(page.Rows) < p.PageSize:
		end := p.Offset + len(page.Rows)
		e.baseTotal = &end
	}
	e.checkComplete()
}

// ExportRows returns every row matching the current search in the current
// order. Remote tables must be complete first.
func (e *Engine) ExportRows() ([]Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.complete {
		return nil, ErrBufferIncomplete
	}
	return e.evaluateLocked(), nil
}

// WriteCSV writes rows as CSV with one column per table column.
func WriteCSV(w io.Writer, cols []Column, rows []Row) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			record[i] = CellText(r.Data[c.ID()])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
