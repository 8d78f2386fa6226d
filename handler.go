package hxtxn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/a-h/templ"
)

// maxUploadMemory bounds the multipart form held in memory per request.
const maxUploadMemory = 32 << 20

// Handler serves the session's HTML surface. Mount it under
// SessionOptions.BasePath with http.StripPrefix.
//
//	GET  /                 the session view
//	GET  /element/{index}  one element fragment
//	POST /submit           form values and optional _choice
//	POST /table/{index}    op and value of a table control
//	POST /upload/{index}   multipart "files"
//	GET  /export/{index}   CSV of a table
//
// Mutating requests must carry HX-Request: true.
func (s *Session) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.route(s.handlePage))
	mux.HandleFunc("GET /element/{index}", s.route(s.handleElement))
	mux.HandleFunc("POST /submit", s.route(s.handleSubmit))
	mux.HandleFunc("POST /table/{index}", s.route(s.handleTable))
	mux.HandleFunc("POST /upload/{index}", s.route(s.handleUpload))
	mux.HandleFunc("GET /export/{index}", s.handleExport)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead && !IsHTMX(r) {
			http.Error(w, "Forbidden: HTMX request required", http.StatusForbidden)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *Session) route(fn func(r *http.Request) Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeResult(w, r, fn(r))
	}
}

func (s *Session) writeResult(w http.ResponseWriter, r *http.Request, res Result) {
	if err := res.GetErr(); err != nil {
		s.writeError(w, r, err)
		return
	}
	for k, v := range res.GetHeaders() {
		w.Header().Set(k, v)
	}
	if t := BuildTriggerHeader(res.GetTrigger(), res.GetTriggerData()); t != "" {
		w.Header().Set("HX-Trigger", t)
	}
	if res.ShouldSkip() {
		return
	}

	flashes := append(res.GetFlashes(), s.TakeFlashes()...)
	var buf bytes.Buffer
	if body := res.GetBody(); body != nil {
		if err := body.Render(r.Context(), &buf); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if IsHTMX(r) {
		buf.WriteString(RenderFlashesOOB(flashes))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status := res.GetStatus(); status != 0 {
		w.WriteHeader(status)
	}
	_, _ = w.Write(buf.Bytes())
}

func (s *Session) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status,
			"trigger", TriggerName(r), "target", TargetID(r), "error", err)
	}
	http.Error(w, http.StatusText(status)+": "+err.Error(), status)
}

// errorStatus maps session errors to HTTP status codes.
func errorStatus(err error) int {
	var badInput *inputError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStaleBatch), errors.Is(err, ErrSubmitInFlight):
		return http.StatusConflict
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrConnectionDropped):
		return http.StatusGone
	case errors.Is(err, ErrNotInteractive), errors.Is(err, ErrInvalidChoice),
		IsDecryptionError(err), errors.Is(err, ErrInvalidFormat), errors.As(err, &badInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// inputError is a malformed request.
type inputError struct{ err error }

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &inputError{err: fmt.Errorf(format, args...)}
}

func (s *Session) handlePage(r *http.Request) Result {
	if IsHTMX(r) {
		return OK(s.View())
	}
	return OK(s.page())
}

// page is the full document for a direct browser request.
func (s *Session) page() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!doctype html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<title>Transaction</title><script src="https://unpkg.com/htmx.org@2.0.4"></script></head><body>`); err != nil {
			return err
		}
		if err := s.View().Render(ctx, w); err != nil {
			return err
		}
		if err := ToastContainer().Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func (s *Session) handleElement(r *http.Request) Result {
	idx, err := elementIndex(r)
	if err != nil {
		return Err(badRequest("element index: %v", err))
	}
	c, err := s.ElementView(idx)
	if err != nil {
		return Err(err)
	}
	return OK(c)
}

func (s *Session) handleSubmit(r *http.Request) Result {
	if err := r.ParseForm(); err != nil {
		return Err(badRequest("parse form: %v", err))
	}
	batch := s.Current()
	if batch == nil {
		return Err(ErrStaleBatch)
	}
	for i := range batch.Elements {
		inst := &batch.Elements[i]
		if !inst.IsInteractive() || inst.Kind.IsTable() || inst.Kind == KindFile {
			continue
		}
		if err := s.SetInput(i, r.PostForm[inst.ID()]); err != nil && !errors.Is(err, ErrStaleBatch) {
			return Err(err)
		}
	}

	outcome, err := s.Submit(r.Context(), r.PostForm.Get("_choice"))
	switch {
	case errors.Is(err, ErrSubmitInFlight), errors.Is(err, ErrTransport):
		return OK(s.View())
	case err != nil:
		return Err(err)
	case !outcome.OK:
		return OK(s.View()).Trigger("hxtxn:blocked", map[string]any{"count": len(outcome.Blocked)})
	}
	return OK(s.View()).Trigger("hxtxn:submitted", map[string]any{"groupKey": outcome.GroupKey})
}

func (s *Session) handleTable(r *http.Request) Result {
	idx, err := elementIndex(r)
	if err != nil {
		return Err(badRequest("element index: %v", err))
	}
	if err := r.ParseForm(); err != nil {
		return Err(badRequest("parse form: %v", err))
	}
	if tok := r.PostForm.Get("_view"); tok != "" {
		if err := s.RestoreTable(idx, tok); err != nil {
			return Err(err)
		}
	}
	if err := s.TableAction(idx, r.PostForm.Get("op"), r.PostForm.Get("value")); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleBatch) || errors.Is(err, ErrNotInteractive) ||
			errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrConnectionDropped) {
			return Err(err)
		}
		return Err(badRequest("%v", err))
	}
	return s.handleElement(r)
}

func (s *Session) handleUpload(r *http.Request) Result {
	idx, err := elementIndex(r)
	if err != nil {
		return Err(badRequest("element index: %v", err))
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return Err(badRequest("parse upload: %v", err))
	}
	batch := s.Current()
	if batch == nil || idx < 0 || idx >= len(batch.Elements) {
		return Err(ErrNotFound)
	}
	inst := &batch.Elements[idx]

	var limit int64
	if n, ok := inst.NumberProp("maxSize"); ok {
		limit = int64(n)
	}
	var files []UploadFile
	for _, fh := range r.MultipartForm.File["files"] {
		if limit > 0 && fh.Size > limit {
			return s.handleElement(r).Flash(FlashError, fmt.Sprintf("%s is larger than %s bytes.", fh.Filename, strconv.FormatInt(limit, 10)))
		}
		f, err := fh.Open()
		if err != nil {
			return Err(err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return Err(err)
		}
		files = append(files, UploadFile{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data})
	}
	if len(files) == 0 {
		return Err(badRequest("no files in upload"))
	}
	if !inst.IsMultiple && len(files) > 1 {
		files = files[:1]
	}

	if err := s.StartUpload(idx, files); err != nil {
		return Err(err)
	}
	return s.handleElement(r)
}

func (s *Session) handleExport(w http.ResponseWriter, r *http.Request) {
	idx, err := elementIndex(r)
	if err != nil {
		s.writeError(w, r, badRequest("element index: %v", err))
		return
	}
	var buf bytes.Buffer
	if err := s.ExportTable(r.Context(), idx, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="table-%d.csv"`, idx))
	_, _ = w.Write(buf.Bytes())
}
