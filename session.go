package hxtxn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pthm/hxtxn/lib/encoding"
	"github.com/pthm/hxtxn/lib/logging"
	"github.com/pthm/hxtxn/lib/schema"
	"github.com/pthm/hxtxn/lib/table"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusAwaitingFirstBatch Status = "awaiting_first_batch"
	StatusInProgress         Status = "in_progress"
	StatusAwaitingNextBatch  Status = "awaiting_next_batch"
	StatusCompleted          Status = "completed"
	StatusCanceled           Status = "canceled"
	StatusConnectionDropped  Status = "connection_dropped"
)

// IsTerminal reports whether no further batches are accepted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusConnectionDropped:
		return true
	}
	return false
}

// ParseStatus maps a wire status name to a Status.
func ParseStatus(name string) (Status, bool) {
	switch st := Status(name); st {
	case StatusAwaitingFirstBatch, StatusInProgress, StatusAwaitingNextBatch,
		StatusCompleted, StatusCanceled, StatusConnectionDropped:
		return st, true
	}
	return "", false
}

// SessionOptions configures a Session. Host is required; other zero
// values select defaults.
type SessionOptions struct {
	Host      Host
	Registry  *Registry
	Validator *schema.Validator
	TypeTags  *encoding.TypeTags
	// Sealer signs view-state tokens of stateful tables. Nil disables them.
	Sealer *Sealer
	// EncryptViewTokens also encrypts view-state tokens.
	EncryptViewTokens bool
	Uploader          Uploader
	Logger            *slog.Logger
	// Debounce delays table state pushes. Zero sends them immediately.
	Debounce time.Duration
	PageSize int
	// BasePath is where the session handler is mounted.
	BasePath string
	// BackURL is offered once the session has ended.
	BackURL     string
	Preferences Preferences
}

// HistoryEntry is a batch that is no longer current, with what was sent.
type HistoryEntry struct {
	Batch  *InstructionBatch
	Values []any
	Choice string
}

// batchState is everything owned by one batch. Its context is canceled
// when the batch leaves the session, which stops table pushes and uploads.
type batchState struct {
	batch   *InstructionBatch
	states  []*InputState
	tables  map[int]*tableDriver
	uploads map[int]*Upload

	ctx    context.Context
	cancel context.CancelFunc

	values []any
	choice string
}

// submitView is what a submit reads, taken under the session lock.
type submitView struct {
	batch  *InstructionBatch
	states []*InputState
	tables map[int]*tableDriver
}

func (bs *batchState) freeze(v bool) {
	for _, st := range bs.states {
		if st != nil {
			st.setFrozen(v)
		}
	}
}

// rebindStates points states kept across a refresh at the instructions of
// the current rendition.
func (bs *batchState) rebindStates() {
	for i, st := range bs.states {
		if st != nil && i < len(bs.batch.Elements) && st.Instruction() != &bs.batch.Elements[i] {
			bs.states[i] = st.rebind(&bs.batch.Elements[i])
		}
	}
}

func (bs *batchState) stop() {
	bs.cancel()
	for _, d := range bs.tables {
		d.stop()
	}
	for _, u := range bs.uploads {
		u.Reset()
	}
	bs.freeze(true)
}

// Session drives one transaction: it receives instruction batches from the
// host, holds each element's input state, and submits responses.
//
//	sess := hxtxn.NewSession(hxtxn.SessionOptions{Host: host})
//	_ = sess.Receive(envelope)
//	_ = sess.SetInput(0, []string{"Ada"})
//	outcome, err := sess.Submit(ctx, "")
type Session struct {
	id     string
	opts   SessionOptions
	logger *slog.Logger

	mu         sync.Mutex
	status     Status
	current    *batchState
	history    []*batchState
	decodeErr  error
	submitting bool
	flashes    []Flash

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a session awaiting its first batch.
func NewSession(opts SessionOptions) *Session {
	if opts.Host == nil {
		panic("hxtxn: session requires a Host")
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.TypeTags == nil {
		opts.TypeTags = encoding.DefaultTypeTags()
	}
	if opts.Uploader == nil {
		opts.Uploader = HTTPUploader{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = table.DefaultPageSize
	}

	id := uuid.Must(uuid.NewV7()).String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		opts:   opts,
		logger: opts.Logger.With("session", id),
		status: StatusAwaitingFirstBatch,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Current returns the current batch, or nil.
func (s *Session) Current() *InstructionBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.batch
}

// DecodeError returns the error of the last undecodable batch, cleared by
// the next good one.
func (s *Session) DecodeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeErr
}

// History returns past batches, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	for i, bs := range s.history {
		out[i] = HistoryEntry{Batch: bs.batch, Values: bs.values, Choice: bs.choice}
	}
	return out
}

// TakeFlashes returns and clears pending notifications.
func (s *Session) TakeFlashes() []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.flashes
	s.flashes = nil
	return out
}

func (s *Session) flash(level, message string) {
	s.flashes = append(s.flashes, Flash{Level: level, Message: message})
}

// Receive applies an instruction envelope from the host.
//
// A batch with the current groupKey refreshes it in place, keeping input
// state. A groupKey seen earlier in the session is ignored. Any other
// groupKey replaces the current batch, which moves to history.
func (s *Session) Receive(raw []byte) error {
	batch, err := DecodeBatch(raw, DecodeOptions{
		Validator: s.opts.Validator,
		TypeTags:  s.opts.TypeTags,
		Logger:    s.logger,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return ErrSessionClosed
	}
	if err != nil {
		s.logger.Error("undecodable instruction batch", "error", err)
		s.decodeErr = err
		s.submitting = false
		if s.status == StatusAwaitingNextBatch || s.status == StatusAwaitingFirstBatch {
			s.status = StatusInProgress
		}
		return err
	}
	s.decodeErr = nil

	logger := s.logger.With("groupKey", batch.GroupKey)
	if s.current != nil && s.current.batch.GroupKey == batch.GroupKey {
		s.refresh(batch)
		if batch.ValidationErrorMessage != "" && s.status == StatusAwaitingNextBatch {
			s.current.freeze(false)
			s.submitting = false
			s.status = StatusInProgress
			s.flash(FlashError, batch.ValidationErrorMessage)
		}
		logger.Debug("refreshed batch", "status", s.status)
		return nil
	}
	for _, h := range s.history {
		if h.batch.GroupKey == batch.GroupKey {
			logger.Warn("ignored replayed batch")
			return nil
		}
	}

	if s.current != nil {
		s.current.stop()
		s.history = append(s.history, s.current)
	}
	s.current = s.newBatchState(batch)
	s.submitting = false
	s.status = StatusInProgress
	logger.Info("received batch", "elements", len(batch.Elements))

	for _, d := range s.current.tables {
		d.schedule(d.engine.Load())
	}
	return nil
}

func (s *Session) newBatchState(batch *InstructionBatch) *batchState {
	ctx, cancel := context.WithCancel(s.ctx)
	bs := &batchState{
		batch:   batch,
		states:  make([]*InputState, len(batch.Elements)),
		tables:  make(map[int]*tableDriver),
		uploads: make(map[int]*Upload),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range batch.Elements {
		inst := &batch.Elements[i]
		if inst.ValidationError != nil {
			continue
		}
		if inst.Kind.IsTable() {
			bs.tables[i] = s.newTableDriver(bs, inst, table.New(tableConfig(inst, s.opts.PageSize)))
		}
		if !inst.IsInteractive() {
			continue
		}
		st := NewInputState(inst)
		seedDefault(st)
		bs.states[i] = st
		if inst.Kind == KindFile {
			bs.uploads[i] = &Upload{}
		}
		if d, ok := bs.tables[i]; ok {
			syncSelection(st, d)
		}
	}
	return bs
}

func (s *Session) newTableDriver(bs *batchState, inst *RenderInstruction, e *table.Engine) *tableDriver {
	return &tableDriver{
		engine:   e,
		index:    inst.Index,
		groupKey: bs.batch.GroupKey,
		host:     s.opts.Host,
		debounce: s.opts.Debounce,
		logger:   s.logger.With("kind", inst.Tag),
		wg:       &s.wg,
		ctx:      bs.ctx,
	}
}

// refresh swaps in a new rendition of the current batch. Elements whose
// kind is unchanged keep their input state; tables keep their view state,
// and a remote table takes the refreshed rows as its current page. While a
// submit is running, kept states are the same pointers the submit holds.
func (s *Session) refresh(batch *InstructionBatch) {
	bs := s.current
	old := bs.batch
	bs.batch = batch
	states := make([]*InputState, len(batch.Elements))
	tables := make(map[int]*tableDriver)

	for i := range batch.Elements {
		inst := &batch.Elements[i]
		same := i < len(old.Elements) && old.Elements[i].Kind == inst.Kind && inst.ValidationError == nil

		if inst.Kind.IsTable() && inst.ValidationError == nil {
			cfg := tableConfig(inst, s.opts.PageSize)
			prev, kept := bs.tables[i]
			switch {
			case kept && same && prev.engine.Mode() == table.Remote && cfg.Mode == table.Remote:
				if len(cfg.Rows) > 0 {
					prev.engine.ApplyPage(prev.engine.Epoch(), table.Page{Rows: cfg.Rows, TotalRecords: cfg.TotalRecords})
				}
				tables[i] = prev
			case kept && same:
				prev.stop()
				e := table.New(cfg)
				e.Restore(prev.engine.Snapshot())
				tables[i] = s.newTableDriver(bs, inst, e)
			default:
				if kept {
					prev.stop()
				}
				tables[i] = s.newTableDriver(bs, inst, table.New(cfg))
			}
		}

		if !inst.IsInteractive() {
			continue
		}
		switch {
		case same && i < len(bs.states) && bs.states[i] != nil && s.submitting:
			states[i] = bs.states[i]
		case same && i < len(bs.states) && bs.states[i] != nil:
			states[i] = bs.states[i].rebind(inst)
		default:
			states[i] = NewInputState(inst)
			seedDefault(states[i])
		}
		if inst.Kind == KindFile {
			if _, ok := bs.uploads[i]; !ok {
				bs.uploads[i] = &Upload{}
			}
		}
		if d, ok := tables[i]; ok {
			syncSelection(states[i], d)
		}
	}
	for i, d := range bs.tables {
		if tables[i] != d {
			d.stop()
		}
	}
	bs.states = states
	bs.tables = tables
	if s.status == StatusAwaitingNextBatch {
		bs.freeze(true)
	}
	for _, d := range tables {
		d.schedule(d.engine.Load())
	}
}

// seedDefault applies an element's defaultValue property as initial input.
func seedDefault(st *InputState) {
	inst := st.Instruction()
	def, ok := inst.Properties["defaultValue"]
	if !ok || def == nil {
		return
	}
	var raw []string
	switch v := def.(type) {
	case []any:
		for _, item := range v {
			raw = append(raw, fmt.Sprint(item))
		}
	case bool:
		raw = []string{strconv.FormatBool(v)}
	default:
		if f, ok := schema.Number(v); ok {
			raw = []string{schema.FormatNumber(f)}
		} else {
			raw = []string{fmt.Sprint(v)}
		}
	}
	_ = st.SetInput(raw)
}

// syncSelection mirrors a table's selection into its input state when it
// can be resolved without asking the host.
func syncSelection(st *InputState, d *tableDriver) {
	if d.engine.NeedsKeys() {
		return
	}
	sel, err := d.engine.Selection()
	if err != nil {
		return
	}
	_ = st.SetPendingValue(SelectionValue(st.Instruction(), d.engine.Mode(), sel))
}

// acceptingInput returns the current batch if it can take user input.
func (s *Session) acceptingInput() (*batchState, error) {
	switch {
	case s.status == StatusConnectionDropped:
		return nil, ErrConnectionDropped
	case s.status.IsTerminal():
		return nil, ErrSessionClosed
	case s.current == nil:
		return nil, ErrStaleBatch
	}
	return s.current, nil
}

// element returns the current batch and validates index.
func (s *Session) element(index int) (*batchState, *RenderInstruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, err := s.acceptingInput()
	if err != nil {
		return nil, nil, err
	}
	if index < 0 || index >= len(bs.batch.Elements) {
		return nil, nil, fmt.Errorf("element %d: %w", index, ErrNotFound)
	}
	return bs, &bs.batch.Elements[index], nil
}

// SetInput records raw form input for an element.
func (s *Session) SetInput(index int, raw []string) error {
	bs, inst, err := s.element(index)
	if err != nil {
		return err
	}
	st := bs.states[index]
	if st == nil || inst.Kind.IsTable() || inst.Kind == KindFile {
		return ErrNotInteractive
	}
	return st.SetInput(raw)
}

// TableAction applies a table operation and schedules the resulting host
// push.
func (s *Session) TableAction(index int, op, value string) error {
	bs, inst, err := s.element(index)
	if err != nil {
		return err
	}
	d, ok := bs.tables[index]
	if !ok {
		return fmt.Errorf("element %d is not a table: %w", index, ErrNotInteractive)
	}
	if st := bs.states[index]; st != nil && st.Frozen() {
		return ErrStaleBatch
	}

	req, err := d.apply(op, value)
	if err != nil {
		return err
	}
	d.schedule(req)
	if st := bs.states[index]; st != nil {
		syncSelection(st, d)
	}
	s.logger.Debug("table action", "groupKey", bs.batch.GroupKey, "element", index, "kind", inst.Tag, "op", op)
	return nil
}

// Table returns the engine of a table element in the current batch.
func (s *Session) Table(index int) (*table.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrStaleBatch
	}
	d, ok := s.current.tables[index]
	if !ok {
		return nil, fmt.Errorf("table %d: %w", index, ErrNotFound)
	}
	return d.engine, nil
}

// TableToken seals a stateful table's view so a re-rendered page can
// restore it. It returns "" when no Sealer is configured.
func (s *Session) TableToken(index int) (string, error) {
	if s.opts.Sealer == nil {
		return "", nil
	}
	e, err := s.Table(index)
	if err != nil {
		return "", err
	}
	tok, err := s.opts.Sealer.Seal(e.Snapshot(), s.opts.EncryptViewTokens)
	return tok, wrapEncodingError(err)
}

// RestoreTable reinstates a sealed view on a table that has not been
// touched since it was built.
func (s *Session) RestoreTable(index int, token string) error {
	if s.opts.Sealer == nil || token == "" {
		return nil
	}
	bs, _, err := s.element(index)
	if err != nil {
		return err
	}
	d, ok := bs.tables[index]
	if !ok {
		return fmt.Errorf("table %d: %w", index, ErrNotFound)
	}
	if d.engine.Epoch() != 0 {
		return nil
	}
	var state table.State
	if err := s.opts.Sealer.Open(token, s.opts.EncryptViewTokens, &state); err != nil {
		return wrapEncodingError(err)
	}
	d.schedule(d.engine.Restore(state))
	if st := bs.states[index]; st != nil {
		syncSelection(st, d)
	}
	return nil
}

// ExportTable writes every row of a table matching its current search as
// CSV, first fetching any rows of a remote table not yet held.
func (s *Session) ExportTable(ctx context.Context, index int, w io.Writer) error {
	s.mu.Lock()
	bs := s.current
	s.mu.Unlock()
	if bs == nil {
		return ErrStaleBatch
	}
	d, ok := bs.tables[index]
	if !ok {
		return fmt.Errorf("table %d: %w", index, ErrNotFound)
	}
	return d.export(ctx, w)
}

// Upload returns the upload machine of a file element.
func (s *Session) Upload(index int) (*Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrStaleBatch
	}
	u, ok := s.current.uploads[index]
	if !ok {
		return nil, fmt.Errorf("upload %d: %w", index, ErrNotFound)
	}
	return u, nil
}

// StartUpload begins uploading files for a file element. The element's
// value stays pending until the upload settles; it runs until done or the
// batch is replaced.
func (s *Session) StartUpload(index int, files []UploadFile) error {
	bs, inst, err := s.element(index)
	if err != nil {
		return err
	}
	u, ok := bs.uploads[index]
	if !ok {
		return ErrNotInteractive
	}
	st := bs.states[index]
	if st.Frozen() {
		return ErrStaleBatch
	}

	d, run := u.Start(bs.ctx, files, inst.IsMultiple, s.opts.Host, s.opts.Uploader)
	if err := st.SetPendingValue(DeferredValue(d)); err != nil {
		u.Reset()
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run()
		if phase, err := u.Phase(); phase == UploadError {
			s.logger.Warn("upload failed", "groupKey", bs.batch.GroupKey, "element", index, "error", err)
		}
	}()
	return nil
}

// Submit attempts to send the current batch's response with an optional
// choice. A blocked outcome is returned with a nil error. A second call
// before the first resolves returns ErrSubmitInFlight.
func (s *Session) Submit(ctx context.Context, choice string) (SubmitOutcome, error) {
	s.mu.Lock()
	bs, err := s.acceptingInput()
	switch {
	case err != nil:
	case s.decodeErr != nil:
		err = s.decodeErr
	case s.submitting || s.status == StatusAwaitingNextBatch:
		err = ErrSubmitInFlight
	case choice != "" && !bs.batch.hasChoice(choice):
		err = fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	case choice == "" && len(bs.batch.Choices()) > 0 && !bs.batch.ShowsContinue():
		err = fmt.Errorf("%w: a choice is required", ErrInvalidChoice)
	}
	if err != nil {
		s.mu.Unlock()
		return SubmitOutcome{}, err
	}
	s.submitting = true
	view := submitView{
		batch:  bs.batch,
		states: slices.Clone(bs.states),
		tables: maps.Clone(bs.tables),
	}
	s.mu.Unlock()

	logger := s.logger.With("groupKey", view.batch.GroupKey)
	outcome, err := s.submit(ctx, view, choice)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != bs {
		// The host answered with the next batch before this call returned.
		if err == nil && outcome.OK {
			bs.values = outcome.Values
			bs.choice = choice
			return outcome, nil
		}
		return outcome, ErrStaleBatch
	}
	s.submitting = false
	if bs.batch != view.batch {
		bs.rebindStates()
	}
	if err != nil {
		logger.Warn("submit failed", "error", err)
		if errors.Is(err, ErrTransport) {
			s.flash(FlashError, "Could not reach the host. Please try again.")
		}
		return outcome, err
	}
	if !outcome.OK {
		logger.Debug("submit blocked", "blocked", len(outcome.Blocked))
		return outcome, nil
	}
	bs.values = outcome.Values
	bs.choice = choice
	if s.status.IsTerminal() {
		// The host ended the transaction before this call returned.
		return outcome, nil
	}
	bs.freeze(true)
	s.status = StatusAwaitingNextBatch
	logger.Info("submitted response", "choice", choice)
	return outcome, nil
}

func (s *Session) submit(ctx context.Context, v submitView, choice string) (SubmitOutcome, error) {
	for i, d := range v.tables {
		st := v.states[i]
		if st == nil {
			continue
		}
		p, err := d.resolveSelection(ctx, st.Instruction())
		if err != nil {
			return SubmitOutcome{}, err
		}
		if err := st.SetPendingValue(p); err != nil {
			return SubmitOutcome{}, err
		}
	}

	outcome := TrySubmit(v.batch, v.states)
	if !outcome.OK {
		return outcome, nil
	}
	payload, err := encoding.EncodeResponse(s.opts.TypeTags, v.batch.GroupKey, outcome.Values, choice)
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("encode response: %w", err)
	}
	if err := s.opts.Host.SendResponse(ctx, payload); err != nil {
		return SubmitOutcome{}, &TransportError{Op: "send response", Err: err}
	}
	return outcome, nil
}

// ReportStatus applies a status reported by the host or the transport.
// Terminal statuses freeze the current batch. Reports after the session
// ended are ignored.
func (s *Session) ReportStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() || !st.IsTerminal() {
		return
	}
	s.status = st
	if s.current != nil {
		s.current.stop()
	}
	s.cancel()
	s.logger.Info("session ended", "status", st)
}

// HostError surfaces an error reported by the host. A submitted batch
// becomes editable again so the user can retry.
func (s *Session) HostError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Warn("host error", "message", message)
	s.flash(FlashError, message)
	if s.status == StatusAwaitingNextBatch && s.current != nil {
		s.current.freeze(false)
		s.submitting = false
		s.status = StatusInProgress
	}
}

// Close cancels the session and waits for background work to stop.
func (s *Session) Close() error {
	s.ReportStatus(StatusCanceled)
	s.cancel()
	s.wg.Wait()
	return nil
}

// Wait blocks until pending table pushes and uploads have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}
