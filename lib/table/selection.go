package table

import "sort"

// Selection is the resolved set of selected rows.
type Selection struct {
	// Keys lists selected row keys. Local tables keep table order; remote
	// tables follow the host's key order for select-all, sorted otherwise.
	Keys []string
	// Rows holds the selected rows when every one of them is known locally.
	Rows []Row
}

// ToggleRow flips the selection of one row. Under select-all the row is
// excluded instead.
func (e *Engine) ToggleRow(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.selected
	if e.selectAll {
		set = e.excluded
	}
	if _, ok := set[key]; ok {
		delete(set, key)
		return
	}
	set[key] = struct{}{}
}

// SetRowSelected selects or deselects one row.
func (e *Engine) SetRowSelected(key string, on bool) {
	if e.IsSelected(key) != on {
		e.ToggleRow(key)
	}
}

// SetSelectAll selects every row matching the current search. Clearing
// select-all deselects everything.
func (e *Engine) SetSelectAll(on bool) *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selectAll = on
	e.excluded = make(map[string]struct{})
	e.haveKeys = false
	if !on {
		e.selected = make(map[string]struct{})
	}
	// Remote key lists are fetched when the selection is resolved.
	if e.mode == Local && e.stateful {
		return &Request{Kind: RequestView, Epoch: e.epoch, Push: e.pushLocked()}
	}
	return nil
}

// IsSelectAll reports whether select-all is active.
func (e *Engine) IsSelectAll() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectAll
}

// IsSelected reports whether the row is selected.
func (e *Engine) IsSelected(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSelectedLocked(key)
}

func (e *Engine) isSelectedLocked(key string) bool {
	if e.selectAll {
		_, excluded := e.excluded[key]
		return !excluded
	}
	_, ok := e.selected[key]
	return ok
}

// ClearSelection drops every selection.
func (e *Engine) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selectAll = false
	e.selected = make(map[string]struct{})
	e.excluded = make(map[string]struct{})
}

// NeedsKeys reports whether resolving the selection requires the host's
// full key list for the current search.
func (e *Engine) NeedsKeys() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.needsKeysLocked()
}

// A remote select-all is resolved from the host's key list even when the
// buffer is complete; the buffer only silences view and page pushes.
func (e *Engine) needsKeysLocked() bool {
	return e.mode == Remote && e.selectAll && !(e.haveKeys && e.keysEpoch == e.epoch)
}

// KeysRequest builds the request for the full key list.
func (e *Engine) KeysRequest() Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pushLocked()
	p.IsSelectAll = true
	return Request{Kind: RequestKeys, Epoch: e.epoch, Push: p}
}

// ApplyAllKeys installs the host's key list. Keys for a superseded epoch
// are dropped.
func (e *Engine) ApplyAllKeys(epoch uint64, keys []string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return false
	}
	e.allKeys = keys
	e.keysEpoch = epoch
	e.haveKeys = true
	return true
}

// Count is the number of selected rows, or -1 when it cannot be known
// without fetching keys.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.selectAll {
		return len(e.selected)
	}
	if e.complete {
		n := 0
		for _, r := range filterRows(e.all, e.columns, e.query) {
			if _, ex := e.excluded[r.Key]; !ex {
				n++
			}
		}
		return n
	}
	if e.haveKeys && e.keysEpoch == e.epoch {
		n := 0
		for _, k := range e.allKeys {
			if _, ex := e.excluded[k]; !ex {
				n++
			}
		}
		return n
	}
	if e.total != nil {
		return max(0, *e.total-len(e.excluded))
	}
	return -1
}

// Selection resolves the selected rows. A pending remote select-all
// returns ErrKeysRequired until ApplyAllKeys has run for this epoch.
func (e *Engine) Selection() (Selection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == Local || (e.complete && !e.selectAll) {
		var candidates []Row
		if e.selectAll {
			candidates = filterRows(e.all, e.columns, e.query)
		} else {
			candidates = e.all
		}
		var sel Selection
		for _, r := range candidates {
			if e.isSelectedLocked(r.Key) {
				sel.Keys = append(sel.Keys, r.Key)
				sel.Rows = append(sel.Rows, r)
			}
		}
		return sel, nil
	}

	var keys []string
	if e.selectAll {
		if e.needsKeysLocked() {
			return Selection{}, ErrKeysRequired
		}
		for _, k := range e.allKeys {
			if _, ex := e.excluded[k]; !ex {
				keys = append(keys, k)
			}
		}
	} else {
		keys = make([]string, 0, len(e.selected))
		for k := range e.selected {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	sel := Selection{Keys: keys}
	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		r, ok := e.known[k]
		if !ok {
			return sel, nil
		}
		rows = append(rows, r)
	}
	sel.Rows = rows
	return sel, nil
}
