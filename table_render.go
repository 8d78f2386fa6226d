package hxtxn

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/pthm/hxtxn/lib/table"
)

// renderTable draws a table element with its search, sort, paging and
// selection controls. Every control posts to /table/{index} and swaps the
// whole element.
func renderTable(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		if rc.Table == nil {
			renderTo(ctx, b, renderPlaceholder(ctx, rc))
			return
		}
		v := rc.Table.View()
		selectable := inst.Kind == KindSelectTable && !rc.ReadOnly && !disabled(rc)
		live := !rc.ReadOnly && !disabled(rc)
		tc := tableControls{rc: rc}

		fmt.Fprintf(b, `<div class="hxtxn-field hxtxn-table"%s%s%s%s>`,
			attr("id", inst.ID()), attr("data-kind", inst.Tag), attr("data-mode", v.Mode.String()), flag("aria-busy", v.Loading))
		if inst.Label != "" {
			fmt.Fprintf(b, `<p class="hxtxn-label">%s</p>`, esc(inst.Label))
		}

		if live {
			b.WriteString(`<div class="hxtxn-table-tools">`)
			if !inst.BoolProp("disableSearch") {
				a := tc.attrs(TableSearch, "")
				a["hx-trigger"] = "input changed delay:300ms, search"
				fmt.Fprintf(b, `<input type="search" name="value" placeholder="Search…"%s%s>`, attr("value", v.QueryTerm), attrs(a))
			}
			if !inst.BoolProp("disableExport") {
				fmt.Fprintf(b, `<a class="hxtxn-export" download%s>Download CSV</a>`, attr("href", rc.BasePath+"/export/"+strconv.Itoa(inst.Index)))
			}
			b.WriteString(`</div>`)
		}

		b.WriteString(`<table><thead><tr>`)
		if selectable {
			fmt.Fprintf(b, `<th><input type="checkbox" aria-label="Select all"%s%s></th>`,
				flag("checked", v.SelectAll), attrs(tc.attrs(TableSelectAll, strconv.FormatBool(!v.SelectAll))))
		}
		for _, col := range v.Columns {
			label := esc(col.Label)
			if v.SortColumn == col.ID() {
				switch v.SortDirection {
				case table.SortAsc:
					label += ` <span aria-label="ascending">▲</span>`
				case table.SortDesc:
					label += ` <span aria-label="descending">▼</span>`
				}
			}
			if live {
				fmt.Fprintf(b, `<th><button type="button"%s>%s</button></th>`, attrs(tc.attrs(TableSort, col.ID())), label)
			} else {
				fmt.Fprintf(b, `<th>%s</th>`, label)
			}
		}
		b.WriteString(`</tr></thead><tbody>`)

		for _, row := range v.Rows {
			fmt.Fprintf(b, `<tr%s>`, attr("data-key", row.Key))
			if selectable {
				fmt.Fprintf(b, `<td><input type="checkbox" aria-label="Select row"%s%s></td>`,
					flag("checked", rc.Table.IsSelected(row.Key)), attrs(tc.attrs(TableToggle, row.Key)))
			}
			for _, col := range v.Columns {
				fmt.Fprintf(b, `<td>%s</td>`, esc(table.CellText(row.Data[col.ID()])))
			}
			b.WriteString(`</tr>`)
		}
		if len(v.Rows) == 0 && !v.Loading {
			span := len(v.Columns)
			if selectable {
				span++
			}
			fmt.Fprintf(b, `<tr><td class="hxtxn-empty"%s>No rows</td></tr>`, attr("colspan", strconv.Itoa(span)))
		}
		b.WriteString(`</tbody></table>`)

		if v.Err != nil {
			b.WriteString(`<p class="hxtxn-error" role="alert">Could not load rows.`)
			if live {
				fmt.Fprintf(b, ` <button type="button"%s>Retry</button>`, attrs(tc.attrs(TableRetry, "")))
			}
			b.WriteString(`</p>`)
		} else if v.Loading && live {
			fmt.Fprintf(b, `<p class="hxtxn-loading"%s>Loading…</p>`,
				attrs(Target(WireAttrs(rc.BasePath+"/element/"+strconv.Itoa(inst.Index), http.MethodGet, nil), "#"+inst.ID(), SwapOuter))+attr("hx-trigger", "load delay:300ms"))
		}

		b.WriteString(`<div class="hxtxn-pager">`)
		writeRange(b, v)
		if inst.Kind == KindSelectTable {
			if n := rc.Table.Count(); n > 0 {
				fmt.Fprintf(b, ` <span class="hxtxn-count">%d selected</span>`, n)
			} else if n < 0 {
				b.WriteString(` <span class="hxtxn-count">All matching rows selected</span>`)
			}
		}
		if live {
			fmt.Fprintf(b, `<button type="button"%s%s>Previous</button>`, flag("disabled", !v.HasPrev()), attrs(tc.attrs(TablePrev, "")))
			fmt.Fprintf(b, `<button type="button"%s%s>Next</button>`, flag("disabled", !v.HasNext()), attrs(tc.attrs(TableNext, "")))
		}
		b.WriteString(`</div>`)

		if rc.ViewToken != "" {
			fmt.Fprintf(b, `<input type="hidden" name="_view"%s>`, attr("value", rc.ViewToken))
		}
		if msg, ok := rc.ErrorMessage(); ok {
			fmt.Fprintf(b, `<p class="hxtxn-error" role="alert">%s</p>`, esc(msg))
		}
		b.WriteString(`</div>`)
	})
}

func writeRange(b *strings.Builder, v table.View) {
	if len(v.Rows) == 0 {
		return
	}
	first, last := v.Offset+1, v.Offset+len(v.Rows)
	if v.Total != nil {
		fmt.Fprintf(b, `<span>%d–%d of %d</span>`, first, last, *v.Total)
		return
	}
	fmt.Fprintf(b, `<span>%d–%d</span>`, first, last)
}

type tableControls struct {
	rc RenderContext
}

func (tc tableControls) path() string {
	return tc.rc.BasePath + "/table/" + strconv.Itoa(tc.rc.Instruction.Index)
}

func (tc tableControls) values(op, value string) map[string]string {
	vals := map[string]string{"op": op}
	if value != "" {
		vals["value"] = value
	}
	if tc.rc.ViewToken != "" {
		vals["_view"] = tc.rc.ViewToken
	}
	return vals
}

func (tc tableControls) attrs(op, value string) templ.Attributes {
	a := WireAttrs(tc.path(), http.MethodPost, tc.values(op, value))
	return Target(a, "#"+tc.rc.Instruction.ID(), SwapOuter)
}
