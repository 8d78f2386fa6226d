package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testColumns = []Column{
	{Label: "Name", AccessorKey: "name"},
	{Label: "Amount", AccessorKey: "amount"},
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			Key: fmt.Sprint(i + 1),
			Data: map[string]any{
				"name":   fmt.Sprintf("customer %02d", i+1),
				"amount": json.Number(fmt.Sprint((i * 7) % 10)),
			},
		}
	}
	return rows
}

func keysOf(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Key
	}
	return out
}

func intPtr(n int) *int { return &n }

func TestLocalSearchSortPage(t *testing.T) {
	e := New(Config{Mode: Local, Columns: testColumns, Rows: makeRows(25), PageSize: 10})

	v := e.View()
	require.NotNil(t, v.Total)
	assert.Equal(t, 25, *v.Total)
	assert.Len(t, v.Rows, 10)
	assert.True(t, v.HasNext())
	assert.False(t, v.HasPrev())

	assert.Nil(t, e.NextPage(), "non-stateful local tables push nothing")
	v = e.View()
	assert.Equal(t, 10, v.Offset)
	assert.Equal(t, "11", v.Rows[0].Key)

	assert.Nil(t, e.SetSearch("CUSTOMER 2"))
	v = e.View()
	assert.Equal(t, 0, v.Offset, "search resets the page")
	assert.Equal(t, []string{"20", "21", "22", "23", "24", "25"}, keysOf(v.Rows))

	e.SetSort("amount", SortDesc)
	v = e.View()
	// amounts: 20->3, 21->0, 22->7, 23->4, 24->1, 25->8
	assert.Equal(t, []string{"25", "22", "23", "20", "24", "21"}, keysOf(v.Rows))

	e.ToggleSort("amount")
	assert.Equal(t, SortNone, e.View().SortDirection, "desc toggles to unsorted")
}

func TestLocalStatefulReportsView(t *testing.T) {
	e := New(Config{Mode: Local, Columns: testColumns, Rows: makeRows(5), IsStateful: true})

	req := e.SetSearch("01")
	require.NotNil(t, req)
	assert.Equal(t, RequestView, req.Kind)
	assert.Equal(t, "01", req.Push.QueryTerm)
	assert.Equal(t, uint64(1), req.Epoch)

	assert.Nil(t, e.SetSearch("01"), "unchanged state pushes nothing")
}

func TestRemotePagePush(t *testing.T) {
	e := New(Config{Mode: Remote, Columns: testColumns, Rows: makeRows(10), TotalRecords: intPtr(40), PageSize: 10})
	assert.False(t, e.IsBufferComplete())

	req := e.NextPage()
	require.NotNil(t, req)
	assert.Equal(t, RequestPage, req.Kind)
	assert.Equal(t, 10, req.Push.Offset)
	assert.Equal(t, 10, req.Push.PageSize)
	assert.True(t, e.View().Loading)

	page := Page{Rows: makeRows(20)[10:], TotalRecords: intPtr(40)}
	assert.True(t, e.ApplyPage(req.Epoch, page))
	v := e.View()
	assert.False(t, v.Loading)
	assert.Equal(t, "11", v.Rows[0].Key)
}

func TestRemoteStaleResponseDropped(t *testing.T) {
	e := New(Config{Mode: Remote, Columns: testColumns, TotalRecords: intPtr(100)})

	q1 := e.SetSearch("a")
	q2 := e.SetSearch("ab")
	require.NotNil(t, q1)
	require.NotNil(t, q2)
	assert.Greater(t, q2.Epoch, q1.Epoch)

	r2 := Page{Rows: []Row{{Key: "ab"}}, TotalRecords: intPtr(1)}
	r1 := Page{Rows: []Row{{Key: "a1"}, {Key: "a2"}}, TotalRecords: intPtr(2)}

	assert.True(t, e.ApplyPage(q2.Epoch, r2))
	assert.False(t, e.ApplyPage(q1.Epoch, r1), "Q1 resolving after Q2 must be ignored")

	v := e.View()
	assert.Equal(t, []string{"ab"}, keysOf(v.Rows))
	assert.Equal(t, 1, *v.Total)
}

func TestRemoteFailureAndRetry(t *testing.T) {
	e := New(Config{Mode: Remote, TotalRecords: intPtr(50)})
	req := e.SetOffset(20)
	require.NotNil(t, req)

	boom := errors.New("host unavailable")
	assert.True(t, e.FailPage(req.Epoch, boom))
	assert.ErrorIs(t, e.View().Err, boom)

	retry := e.Retry()
	require.NotNil(t, retry)
	assert.Equal(t, 20, retry.Push.Offset)
	assert.Greater(t, retry.Epoch, req.Epoch)
	assert.NoError(t, e.View().Err)

	assert.Nil(t, e.Retry(), "nothing to retry without an error")
}

func TestRemoteBufferCompletes(t *testing.T) {
	rows := makeRows(15)
	e := New(Config{Mode: Remote, Columns: testColumns, Rows: rows[:10], TotalRecords: intPtr(15), PageSize: 10, IsStateful: true})

	req := e.NextPage()
	require.NotNil(t, req)
	require.True(t, e.ApplyPage(req.Epoch, Page{Rows: rows[10:], TotalRecords: intPtr(15)}))
	assert.True(t, e.IsBufferComplete())

	// Once complete, remote tables evaluate locally and stop pushing, even
	// when stateful.
	assert.Nil(t, e.SetSearch("customer 1"))
	v := e.View()
	assert.True(t, v.Complete)
	assert.Equal(t, 6, *v.Total) // customer 10 through 15
	assert.False(t, e.ApplyPage(e.Epoch(), Page{}), "pages are ignored after completion")
}

func TestFilteredPagesDoNotFillBuffer(t *testing.T) {
	e := New(Config{Mode: Remote, TotalRecords: intPtr(3)})
	req := e.SetSearch("x")
	require.True(t, e.ApplyPage(req.Epoch, Page{Rows: makeRows(3), TotalRecords: intPtr(3)}))
	assert.False(t, e.IsBufferComplete(), "filtered results say nothing about the full set")
}

func TestSelectAllExceptN(t *testing.T) {
	e := New(Config{Mode: Local, Columns: testColumns, Rows: makeRows(5)})

	e.SetSelectAll(true)
	e.ToggleRow("3")

	assert.True(t, e.IsSelectAll(), "deselecting under select-all keeps the flag")
	assert.False(t, e.IsSelected("3"))
	assert.True(t, e.IsSelected("4"))
	assert.Equal(t, 4, e.Count())

	sel, err := e.Selection()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "4", "5"}, sel.Keys)
	assert.Len(t, sel.Rows, 4)

	e.ToggleRow("3")
	assert.True(t, e.IsSelected("3"), "toggling again removes the exclusion")

	e.SetSelectAll(false)
	assert.Equal(t, 0, e.Count())
}

func TestSelectAllScopedToSearch(t *testing.T) {
	e := New(Config{Mode: Local, Columns: testColumns, Rows: makeRows(12)})
	e.SetSearch("customer 1")
	e.SetSelectAll(true)

	sel, err := e.Selection()
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11", "12"}, sel.Keys)
}

func TestRemoteSelectAllNeedsKeys(t *testing.T) {
	e := New(Config{Mode: Remote, Columns: testColumns, Rows: makeRows(10), TotalRecords: intPtr(40)})

	e.SetSelectAll(true)
	e.ToggleRow("3")
	assert.Equal(t, 39, e.Count(), "estimated from the total before keys arrive")
	assert.True(t, e.NeedsKeys())

	_, err := e.Selection()
	assert.ErrorIs(t, err, ErrKeysRequired)

	req := e.KeysRequest()
	assert.Equal(t, RequestKeys, req.Kind)
	assert.True(t, req.Push.IsSelectAll)

	all := make([]string, 40)
	for i := range all {
		all[i] = fmt.Sprint(i + 1)
	}
	require.True(t, e.ApplyAllKeys(req.Epoch, all))
	assert.False(t, e.NeedsKeys())

	sel, err := e.Selection()
	require.NoError(t, err)
	assert.Len(t, sel.Keys, 39)
	assert.NotContains(t, sel.Keys, "3")
	assert.Nil(t, sel.Rows, "rows beyond the materialized page are unknown")
}

func TestRemoteSelectAllNeedsKeysWhenBufferComplete(t *testing.T) {
	e := New(Config{Mode: Remote, Columns: testColumns, Rows: makeRows(5), TotalRecords: intPtr(5)})
	require.True(t, e.IsBufferComplete())

	e.SetSelectAll(true)
	e.ToggleRow("3")
	assert.Equal(t, 4, e.Count())
	assert.True(t, e.NeedsKeys(), "a remote select-all always asks the host")

	_, err := e.Selection()
	require.ErrorIs(t, err, ErrKeysRequired)

	req := e.KeysRequest()
	require.True(t, e.ApplyAllKeys(req.Epoch, []string{"1", "2", "3", "4", "5"}))

	sel, err := e.Selection()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "4", "5"}, sel.Keys)
	assert.Equal(t, []string{"1", "2", "4", "5"}, keysOf(sel.Rows))
}

func TestRemoteKeysStaleAfterSearch(t *testing.T) {
	e := New(Config{Mode: Remote, TotalRecords: intPtr(10)})
	e.SetSelectAll(true)
	req := e.KeysRequest()

	e.SetSearch("z")
	assert.False(t, e.ApplyAllKeys(req.Epoch, []string{"1"}))
	assert.True(t, e.NeedsKeys())
}

func TestRemoteExplicitSelection(t *testing.T) {
	e := New(Config{Mode: Remote, Rows: makeRows(5), TotalRecords: intPtr(100)})
	e.ToggleRow("4")
	e.ToggleRow("2")

	sel, err := e.Selection()
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4"}, sel.Keys)
	assert.Equal(t, []string{"2", "4"}, keysOf(sel.Rows))
}

func TestDefaultSelected(t *testing.T) {
	e := New(Config{Mode: Local, Rows: makeRows(3), DefaultSelected: []string{"2"}})
	assert.True(t, e.IsSelected("2"))
	assert.Equal(t, 1, e.Count())
}

func TestSnapshotRestore(t *testing.T) {
	e := New(Config{Mode: Local, Columns: testColumns, Rows: makeRows(30), PageSize: 5})
	e.SetSearch("customer")
	e.SetSort("name", SortDesc)
	e.SetOffset(5)
	e.ToggleRow("7")

	snap := e.Snapshot()

	other := New(Config{Mode: Local, Columns: testColumns, Rows: makeRows(30)})
	other.Restore(snap)
	assert.Equal(t, e.View().Rows, other.View().Rows)
	assert.True(t, other.IsSelected("7"))
}

func TestFillAndExport(t *testing.T) {
	rows := makeRows(7)
	e := New(Config{Mode: Remote, Columns: testColumns, Rows: rows[:3], PageSize: 3})

	_, err := e.ExportRows()
	assert.ErrorIs(t, err, ErrBufferIncomplete)

	for i := 0; !e.IsBufferComplete(); i++ {
		require.Less(t, i, 5, "fill did not converge")
		for _, p := range e.FillRequests(3) {
			end := min(p.Offset+p.PageSize, len(rows))
			e.ApplyBufferPage(p, Page{Rows: rows[p.Offset:end]})
		}
	}

	out, err := e.ExportRows()
	require.NoError(t, err)
	assert.Equal(t, keysOf(rows), keysOf(out))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, e.Columns(), out[:2]))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"Name,Amount", "customer 01,0", "customer 02,7"}, lines)
}

func TestFillRequestsKnownTotal(t *testing.T) {
	rows := makeRows(10)
	e := New(Config{Mode: Remote, Rows: rows[:4], TotalRecords: intPtr(10)})

	pushes := e.FillRequests(4)
	require.Len(t, pushes, 2)
	assert.Equal(t, 4, pushes[0].Offset)
	assert.Equal(t, 8, pushes[1].Offset)
	for _, p := range pushes {
		assert.Empty(t, p.QueryTerm, "buffer pages are unfiltered")
	}
}

func TestCellText(t *testing.T) {
	assert.Equal(t, "", CellText(nil))
	assert.Equal(t, "Yes", CellText(true))
	assert.Equal(t, "12", CellText(json.Number("12")))
	assert.Equal(t, "Paid", CellText(map[string]any{"label": "Paid", "value": 1}))
}

func TestRowsFromAny(t *testing.T) {
	rows := RowsFromAny([]any{
		map[string]any{"key": "a", "data": map[string]any{"x": 1}},
		"junk",
		map[string]any{"data": map[string]any{}},
	})
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Key)
	assert.Equal(t, map[string]any{"key": "a", "data": map[string]any{"x": 1}}, rows[0].WireValue())
}

func TestEvaluate(t *testing.T) {
	rows := makeRows(25)

	page, total := Evaluate(rows, testColumns, Push{QueryTerm: "customer 1", Offset: 5, PageSize: 5})
	assert.Equal(t, 10, total)
	assert.Equal(t, []string{"15", "16", "17", "18", "19"}, keysOf(page))

	page, total = Evaluate(rows, testColumns, Push{Offset: 40, PageSize: 10})
	assert.Equal(t, 25, total)
	assert.Empty(t, page)

	page, _ = Evaluate(rows, testColumns, Push{SortColumn: "name", SortDirection: SortDesc, PageSize: 2})
	assert.Equal(t, []string{"25", "24"}, keysOf(page))
}

func TestMatchingKeys(t *testing.T) {
	keys := MatchingKeys(makeRows(12), testColumns, "customer 1")
	assert.Equal(t, []string{"10", "11", "12"}, keys)
}
