package hxtxn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/pthm/hxtxn/lib/table"
)

// SessionContainerID is the id of the element wrapping a session's view.
const SessionContainerID = "hxtxn-session"

// batchView is a point-in-time snapshot of one batch for rendering.
type batchView struct {
	batch    *InstructionBatch
	states   []*InputState
	tables   map[int]*table.Engine
	uploads  map[int]*Upload
	tokens   map[int]string
	values   []any
	choice   string
	readOnly bool
}

func (bv batchView) context(i int, base string, prefs Preferences) RenderContext {
	rc := RenderContext{
		Instruction: &bv.batch.Elements[i],
		ReadOnly:    bv.readOnly,
		BasePath:    base,
		ViewToken:   bv.tokens[i],
		Preferences: prefs,
		Table:       bv.tables[i],
		Upload:      bv.uploads[i],
	}
	if i < len(bv.states) {
		rc.State = bv.states[i]
	}
	if i < len(bv.values) {
		rc.Submitted = bv.values[i]
	}
	if !bv.readOnly {
		if first, ok := bv.batch.IndexOfFirstInteractiveElement(); ok && first == i {
			rc.Autofocus = true
		}
	}
	return rc
}

// renderElement draws one element, substituting the issue list for
// schema-invalid elements.
func renderElement(ctx context.Context, reg *Registry, rc RenderContext) templ.Component {
	if rc.Instruction.ValidationError != nil {
		return renderIssues(rc.Instruction)
	}
	return reg.RendererFor(rc.Instruction.Kind).Render(ctx, rc)
}

// renderElements writes every element of a batch.
func renderElements(ctx context.Context, b *strings.Builder, reg *Registry, bv batchView, base string, prefs Preferences) {
	for i := range bv.batch.Elements {
		renderTo(ctx, b, renderElement(ctx, reg, bv.context(i, base, prefs)))
	}
}

// renderSubmitControls writes the choice buttons or the continue button.
func renderSubmitControls(b *strings.Builder, batch *InstructionBatch, enabled bool) {
	b.WriteString(`<div class="hxtxn-actions">`)
	for _, c := range batch.Choices() {
		theme := c.Theme
		if theme == "" {
			theme = "default"
		}
		fmt.Fprintf(b, `<button type="submit" name="_choice"%s%s%s>%s</button>`,
			attr("value", c.Value), attr("class", "hxtxn-btn hxtxn-"+theme), flag("disabled", !enabled), esc(c.Label))
	}
	if batch.ShowsContinue() {
		fmt.Fprintf(b, `<button type="submit" class="hxtxn-btn hxtxn-primary"%s>%s</button>`, flag("disabled", !enabled), esc(batch.ContinueLabel()))
	}
	b.WriteString(`</div>`)
}

// RenderBatch renders a batch as a standalone, unconnected form: inputs
// show their defaults and tables show the rows the batch carries.
func RenderBatch(batch *InstructionBatch, reg *Registry, prefs Preferences) templ.Component {
	if reg == nil {
		reg = DefaultRegistry()
	}
	bv := batchView{
		batch:   batch,
		states:  make([]*InputState, len(batch.Elements)),
		tables:  make(map[int]*table.Engine),
		uploads: make(map[int]*Upload),
	}
	for i := range batch.Elements {
		inst := &batch.Elements[i]
		if inst.ValidationError != nil {
			continue
		}
		if inst.Kind.IsTable() {
			bv.tables[i] = table.New(tableConfig(inst, table.DefaultPageSize))
		}
		if inst.IsInteractive() {
			bv.states[i] = NewInputState(inst)
			seedDefault(bv.states[i])
		}
	}
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return fragment(func(b *strings.Builder) {
			fmt.Fprintf(b, `<form class="hxtxn-batch"%s>`, attr("data-group-key", batch.GroupKey))
			renderElements(ctx, b, reg, bv, "", prefs)
			renderSubmitControls(b, batch, false)
			b.WriteString(`</form>`)
		}).Render(ctx, w)
	})
}

// snapshot captures the current and past batches for rendering.
func (s *Session) snapshot() (current *batchView, history []batchView, status Status, decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status = s.status
	decodeErr = s.decodeErr
	for _, bs := range s.history {
		history = append(history, s.viewOf(bs, true))
	}
	if s.current != nil {
		bv := s.viewOf(s.current, status.IsTerminal())
		current = &bv
	}
	return current, history, status, decodeErr
}

// viewOf copies bs for rendering. Callers hold s.mu.
func (s *Session) viewOf(bs *batchState, readOnly bool) batchView {
	bv := batchView{
		batch:    bs.batch,
		states:   bs.states,
		tables:   make(map[int]*table.Engine, len(bs.tables)),
		uploads:  bs.uploads,
		tokens:   make(map[int]string),
		values:   bs.values,
		choice:   bs.choice,
		readOnly: readOnly,
	}
	for i, d := range bs.tables {
		bv.tables[i] = d.engine
		if s.opts.Sealer != nil && d.engine.IsStateful() && !readOnly {
			if tok, err := s.opts.Sealer.Seal(d.engine.Snapshot(), s.opts.EncryptViewTokens); err == nil {
				bv.tokens[i] = tok
			}
		}
	}
	return bv
}

// View renders the whole session: history, status, and the current batch.
func (s *Session) View() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		current, history, status, decodeErr := s.snapshot()
		base := s.opts.BasePath
		prefs := s.opts.Preferences

		return fragment(func(b *strings.Builder) {
			class := "hxtxn theme-" + themeOr(prefs.Theme)
			if prefs.Compact {
				class += " compact"
			}
			fmt.Fprintf(b, `<main%s%s%s>`, attr("id", SessionContainerID), attr("class", class), attr("data-status", string(status)))

			if len(history) > 0 {
				b.WriteString(`<section class="hxtxn-history">`)
				for _, hv := range history {
					fmt.Fprintf(b, `<article class="hxtxn-batch hxtxn-past"%s>`, attr("data-group-key", hv.batch.GroupKey))
					renderElements(ctx, b, s.opts.Registry, hv, base, prefs)
					if hv.choice != "" {
						fmt.Fprintf(b, `<p class="hxtxn-choice">Chose: %s</p>`, esc(choiceLabel(hv.batch, hv.choice)))
					}
					b.WriteString(`</article>`)
				}
				b.WriteString(`</section>`)
			}

			writeStatusBanner(b, status, base, s.opts.BackURL)

			switch {
			case decodeErr != nil:
				fmt.Fprintf(b, `<div class="hxtxn-error-state" role="alert"><p>This step could not be displayed.</p><pre>%s</pre></div>`, esc(decodeErr.Error()))
			case current != nil:
				s.writeCurrent(ctx, b, *current, status)
			}

			b.WriteString(`</main>`)
		}).Render(ctx, w)
	})
}

func (s *Session) writeCurrent(ctx context.Context, b *strings.Builder, bv batchView, status Status) {
	base := s.opts.BasePath
	a := Target(WireAttrs(base+"/submit", http.MethodPost, nil), "#"+SessionContainerID, SwapOuter)
	fmt.Fprintf(b, `<form class="hxtxn-batch"%s%s>`, attr("data-group-key", bv.batch.GroupKey), attrs(a))
	if msg := bv.batch.ValidationErrorMessage; msg != "" && status == StatusInProgress {
		fmt.Fprintf(b, `<div class="hxtxn-validation" role="alert">%s</div>`, esc(msg))
	}
	renderElements(ctx, b, s.opts.Registry, bv, base, s.opts.Preferences)
	if !bv.readOnly {
		renderSubmitControls(b, bv.batch, status == StatusInProgress)
	}
	b.WriteString(`</form>`)
}

// ElementView renders one element of the current batch, for fragment swaps.
func (s *Session) ElementView(index int) (templ.Component, error) {
	current, _, status, _ := s.snapshot()
	if current == nil {
		return nil, ErrStaleBatch
	}
	if index < 0 || index >= len(current.batch.Elements) {
		return nil, fmt.Errorf("element %d: %w", index, ErrNotFound)
	}
	bv := *current
	bv.readOnly = bv.readOnly || status.IsTerminal()
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return renderElement(ctx, s.opts.Registry, bv.context(index, s.opts.BasePath, s.opts.Preferences)).Render(ctx, w)
	}), nil
}

func writeStatusBanner(b *strings.Builder, status Status, base, backURL string) {
	var msg string
	switch status {
	case StatusAwaitingFirstBatch:
		msg = "Starting…"
	case StatusAwaitingNextBatch:
		msg = "Submitted. Waiting for the next step…"
	case StatusCompleted:
		msg = "This transaction is complete."
	case StatusCanceled:
		msg = "This transaction was canceled."
	case StatusConnectionDropped:
		msg = "The connection to the host was lost. Your last step is shown below."
	default:
		return
	}
	fmt.Fprintf(b, `<div class="hxtxn-status"%s role="status"><p>%s</p>`, attr("data-status", string(status)), esc(msg))
	if status.IsTerminal() && backURL != "" {
		fmt.Fprintf(b, `<a%s>Back</a>`, attr("href", backURL))
	}
	if status == StatusAwaitingNextBatch || status == StatusAwaitingFirstBatch {
		a := Target(WireAttrs(base+"/", http.MethodGet, nil), "#"+SessionContainerID, SwapOuter)
		a["hx-trigger"] = "every 1s"
		a["hx-select"] = "#" + SessionContainerID
		fmt.Fprintf(b, `<span class="hxtxn-poll"%s></span>`, attrs(a))
	}
	b.WriteString(`</div>`)
}

func choiceLabel(batch *InstructionBatch, value string) string {
	for _, c := range batch.Choices() {
		if c.Value == value {
			return c.Label
		}
	}
	return value
}

func themeOr(theme string) string {
	if theme == "" {
		return "system"
	}
	return theme
}

// elementIndex parses a route's element index.
func elementIndex(r *http.Request) (int, error) {
	return strconv.Atoi(r.PathValue("index"))
}
