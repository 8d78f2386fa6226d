package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/pthm/hxtxn"
	"github.com/pthm/hxtxn/lib/encoding"
	"github.com/pthm/hxtxn/lib/logging"
	"github.com/pthm/hxtxn/lib/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderColumns = []table.Column{{Label: "Name", AccessorKey: "name"}}

func orderRows(n int) []table.Row {
	rows := make([]table.Row, n)
	for i := range rows {
		rows[i] = table.Row{Key: fmt.Sprint(i + 1), Data: map[string]any{"name": fmt.Sprintf("order %d", i+1)}}
	}
	return rows
}

func envelope(t *testing.T, groupKey string, elements ...map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"groupKey": groupKey, "elements": elements})
	require.NoError(t, err)
	return raw
}

func remoteTable(total int) map[string]any {
	return map[string]any{
		"kind":  "selectTable",
		"label": "Orders",
		"properties": map[string]any{
			"columns":      []map[string]any{{"label": "Name", "accessorKey": "name"}},
			"totalRecords": total,
		},
	}
}

func textField(label string) map[string]any {
	return map[string]any{"kind": "text", "label": label, "properties": map[string]any{}}
}

func newSession(t *testing.T, lb *Loopback) *hxtxn.Session {
	t.Helper()
	sess := hxtxn.NewSession(hxtxn.SessionOptions{Host: lb, Logger: logging.Discard()})
	lb.Attach(sess)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestLoopbackRemoteSelectAllExcept(t *testing.T) {
	lb := NewLoopback()
	lb.SetRows("q1", 0, orderColumns, orderRows(5))
	sess := newSession(t, lb)

	require.NoError(t, lb.Push(envelope(t, "q1", remoteTable(5))))
	sess.Wait()

	require.Len(t, lb.PageRequests(), 1)
	e, err := sess.Table(0)
	require.NoError(t, err)
	assert.Len(t, e.View().Rows, 5)

	require.NoError(t, sess.TableAction(0, hxtxn.TableSelectAll, "true"))
	require.NoError(t, sess.TableAction(0, hxtxn.TableToggle, "3"))

	outcome, err := sess.Submit(context.Background(), "")
	require.NoError(t, err)
	require.True(t, outcome.OK)

	assert.Len(t, lb.KeyRequests(), 1, "keys are fetched before the response is sent")
	responses := lb.Responses()
	require.Len(t, responses, 1)
	resp, err := encoding.DecodeResponse(nil, responses[0])
	require.NoError(t, err)
	assert.Equal(t, "q1", resp.GroupKey)
	assert.Equal(t, []any{"1", "2", "4", "5"}, resp.Values[0])
	assert.Equal(t, hxtxn.StatusAwaitingNextBatch, sess.Status())
}

func TestLoopbackNextBatchFromResponse(t *testing.T) {
	lb := NewLoopback()
	sess := newSession(t, lb)
	lb.OnResponse = func([]byte) {
		_ = lb.Push(envelope(t, "q2", textField("Second")))
	}

	require.NoError(t, lb.Push(envelope(t, "q1", textField("First"))))
	require.NoError(t, sess.SetInput(0, []string{"Ada"}))

	outcome, err := sess.Submit(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, outcome.OK)

	require.NotNil(t, sess.Current())
	assert.Equal(t, "q2", sess.Current().GroupKey)
	assert.Equal(t, hxtxn.StatusInProgress, sess.Status())

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, []any{"Ada"}, history[0].Values)

	require.NoError(t, lb.End(hxtxn.StatusCompleted))
	assert.Equal(t, hxtxn.StatusCompleted, sess.Status())
}

func TestLoopbackFailure(t *testing.T) {
	lb := NewLoopback()
	sess := newSession(t, lb)

	require.NoError(t, lb.Push(envelope(t, "q1", textField("Name"))))
	require.NoError(t, sess.SetInput(0, []string{"Ada"}))

	lb.FailWith(errors.New("host offline"))
	_, err := sess.Submit(context.Background(), "")
	require.Error(t, err)
	assert.True(t, hxtxn.IsTransportError(err))
	assert.Equal(t, hxtxn.StatusInProgress, sess.Status())

	lb.FailWith(nil)
	outcome, err := sess.Submit(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, outcome.OK)
}

func TestLoopbackReject(t *testing.T) {
	lb := NewLoopback()
	sess := newSession(t, lb)

	require.NoError(t, lb.Push(envelope(t, "q1", textField("Name"))))
	require.NoError(t, sess.SetInput(0, []string{"Ada"}))
	_, err := sess.Submit(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, lb.Reject("Name already taken"))
	assert.Equal(t, hxtxn.StatusInProgress, sess.Status())
	assert.Contains(t, sess.TakeFlashes(), hxtxn.Flash{Level: hxtxn.FlashError, Message: "Name already taken"})
}

func TestLoopbackWithoutSink(t *testing.T) {
	lb := NewLoopback()
	assert.Error(t, lb.Push([]byte(`{}`)))
	assert.Error(t, lb.End(hxtxn.StatusCanceled))
}

func TestLoopbackUploadURLs(t *testing.T) {
	lb := NewLoopback()
	urls, err := lb.IssueUploadURLs(context.Background(), []string{"a/b.txt"})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "memory://uploads/a/b.txt", urls[0].DownloadURL)

	var up MemoryUploader
	require.NoError(t, up.Put(context.Background(), urls[0].UploadURL, hxtxn.UploadFile{Name: "b.txt", Data: []byte("hi")}))
	f, ok := up.Get(urls[0].UploadURL)
	require.True(t, ok)
	assert.Equal(t, "hi", string(f.Data))
}
