package hxtxn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// UploadPhase is the state of an Upload.
type UploadPhase int

const (
	UploadIdle UploadPhase = iota
	UploadAwaitingURLs
	UploadUploading
	UploadDone
	UploadError
)

func (p UploadPhase) String() string {
	switch p {
	case UploadAwaitingURLs:
		return "awaiting_urls"
	case UploadUploading:
		return "uploading"
	case UploadDone:
		return "done"
	case UploadError:
		return "error"
	}
	return "idle"
}

// UploadFile is one file picked by the user.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadedFile is the value a file element resolves to.
type UploadedFile struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"type,omitempty"`
}

// WireValue is the response envelope shape of an uploaded file.
func (f UploadedFile) WireValue() any {
	m := map[string]any{"name": f.Name, "url": f.URL, "size": f.Size}
	if f.ContentType != "" {
		m["type"] = f.ContentType
	}
	return m
}

// Uploader performs the binary transfer to an issued upload URL.
type Uploader interface {
	Put(ctx context.Context, url string, f UploadFile) error
}

// HTTPUploader PUTs files with an http.Client.
type HTTPUploader struct {
	Client *http.Client
}

// Put uploads f to url.
func (u HTTPUploader) Put(ctx context.Context, url string, f UploadFile) error {
	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(f.Data))
	if err != nil {
		return err
	}
	if f.ContentType != "" {
		req.Header.Set("Content-Type", f.ContentType)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upload %s: status %d", f.Name, resp.StatusCode)
	}
	return nil
}

// maxParallelUploads bounds concurrent PUTs for one selection.
const maxParallelUploads = 4

// Upload drives one file element through
// idle → awaiting_urls → uploading → done | error.
// Picking new files resets it; callbacks from an earlier selection are
// discarded by epoch.
type Upload struct {
	mu       sync.Mutex
	phase    UploadPhase
	epoch    uint64
	err      error
	files    []UploadedFile
	deferred *Deferred
	cancel   context.CancelFunc
}

// Phase returns the current phase and, in UploadError, its cause.
func (u *Upload) Phase() (UploadPhase, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase, u.err
}

// Files returns the uploaded files once done.
func (u *Upload) Files() []UploadedFile {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.files
}

// Reset cancels any in-progress upload and returns to idle.
func (u *Upload) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resetLocked()
}

func (u *Upload) resetLocked() {
	u.epoch++
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	if u.deferred != nil {
		u.deferred.Reject(NewComponentError("Upload was replaced."))
		u.deferred = nil
	}
	u.phase = UploadIdle
	u.err = nil
	u.files = nil
}

// Start begins uploading files and returns the Deferred that settles with
// the element's value: a single UploadedFile, or a slice when multiple.
// The returned function runs the upload and must be called exactly once,
// typically on its own goroutine.
func (u *Upload) Start(ctx context.Context, files []UploadFile, multiple bool, host Host, up Uploader) (*Deferred, func()) {
	u.mu.Lock()
	u.resetLocked()
	epoch := u.epoch
	ctx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	d := NewDeferred()
	u.deferred = d
	u.phase = UploadAwaitingURLs
	u.mu.Unlock()

	run := func() {
		defer cancel()
		uploaded, err := u.run(ctx, epoch, files, host, up)
		u.finish(epoch, d, uploaded, multiple, err)
	}
	return d, run
}

func (u *Upload) run(ctx context.Context, epoch uint64, files []UploadFile, host Host, up Uploader) ([]UploadedFile, error) {
	if len(files) == 0 {
		return nil, errors.New("no files selected")
	}

	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = uuid.Must(uuid.NewV7()).String() + "/" + path.Base(f.Name)
	}
	urls, err := host.IssueUploadURLs(ctx, keys)
	if err != nil {
		return nil, &TransportError{Op: "issue upload urls", Err: err}
	}
	if len(urls) != len(files) {
		return nil, fmt.Errorf("host issued %d upload urls for %d files", len(urls), len(files))
	}

	if !u.advance(epoch, UploadUploading) {
		return nil, context.Canceled
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i := range files {
		g.Go(func() error {
			return up.Put(gctx, urls[i].UploadURL, files[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &TransportError{Op: "upload", Err: err}
	}

	out := make([]UploadedFile, len(files))
	for i, f := range files {
		out[i] = UploadedFile{
			Name:        f.Name,
			URL:         urls[i].DownloadURL,
			Size:        int64(len(f.Data)),
			ContentType: f.ContentType,
		}
	}
	return out, nil
}

func (u *Upload) advance(epoch uint64, phase UploadPhase) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if epoch != u.epoch {
		return false
	}
	u.phase = phase
	return true
}

func (u *Upload) finish(epoch uint64, d *Deferred, files []UploadedFile, multiple bool, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if epoch != u.epoch {
		return
	}
	u.cancel = nil
	u.deferred = nil

	if err != nil {
		u.phase = UploadError
		u.err = err
		d.Reject(NewComponentError("Upload failed. Please try again."))
		return
	}
	u.phase = UploadDone
	u.files = files
	if multiple {
		vals := make([]any, len(files))
		for i, f := range files {
			vals[i] = f
		}
		d.Resolve(vals)
		return
	}
	d.Resolve(files[0])
}
