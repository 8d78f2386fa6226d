package hxtxn

import (
	"context"

	"github.com/pthm/hxtxn/lib/table"
)

// Host is the remote action process as seen from a session. Implementations
// carry messages over some duplex transport; see lib/transport.
type Host interface {
	// SendResponse delivers an encoded response envelope.
	SendResponse(ctx context.Context, payload []byte) error
	// FetchPage asks for the rows of a remote table's current view.
	FetchPage(ctx context.Context, req TableRequest) (table.Page, error)
	// ReportTableView tells the host the current view of a stateful table.
	ReportTableView(ctx context.Context, req TableRequest) error
	// FetchAllKeys asks for every row key matching the table's search.
	FetchAllKeys(ctx context.Context, req TableRequest) ([]string, error)
	// IssueUploadURLs returns one upload/download URL pair per object key.
	IssueUploadURLs(ctx context.Context, objectKeys []string) ([]UploadURL, error)
}

// TableRequest addresses a table state push to one element of one batch.
type TableRequest struct {
	GroupKey string     `json:"groupKey"`
	Element  int        `json:"element"`
	State    table.Push `json:"state"`
}

// UploadURL is one pair issued for an upload.
type UploadURL struct {
	UploadURL   string `json:"uploadUrl"`
	DownloadURL string `json:"downloadUrl"`
}
