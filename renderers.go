package hxtxn

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/pthm/hxtxn/lib/table"
	"github.com/yuin/goldmark"
)

func registerBuiltins(reg *Registry) {
	reg.Register(KindText, RendererFunc(renderTextInput))
	reg.Register(KindEmail, RendererFunc(renderTextInput))
	reg.Register(KindURL, RendererFunc(renderTextInput))
	reg.Register(KindRichText, RendererFunc(renderRichText))
	reg.Register(KindNumber, RendererFunc(renderNumber))
	reg.Register(KindBoolean, RendererFunc(renderBoolean))
	reg.Register(KindDate, RendererFunc(renderDate))
	reg.Register(KindDateTime, RendererFunc(renderDate))
	reg.Register(KindFile, RendererFunc(renderFile))
	reg.Register(KindSelectSingle, RendererFunc(renderSelectSingle))
	reg.Register(KindSelectMultiple, RendererFunc(renderSelectMultiple))
	reg.Register(KindSelectTable, RendererFunc(renderTable))
	reg.Register(KindDisplayTable, RendererFunc(renderTable))

	reg.Register(KindHeading, RendererFunc(renderHeading))
	reg.Register(KindMarkdown, RendererFunc(renderMarkdown))
	reg.Register(KindLink, RendererFunc(renderLink))
	reg.Register(KindImage, RendererFunc(renderImage))
	reg.Register(KindObject, RendererFunc(renderObject))
	reg.Register(KindMetadata, RendererFunc(renderMetadata))
	reg.Register(KindCode, RendererFunc(renderCode))
	reg.Register(KindProgress, RendererFunc(renderProgress))
}

// field wraps an input with its label, help text and visible error.
func field(b *strings.Builder, rc RenderContext, body func()) {
	inst := rc.Instruction
	fmt.Fprintf(b, `<div class="hxtxn-field"%s%s>`, attr("id", inst.ID()), attr("data-kind", inst.Tag))
	if inst.Label != "" {
		fmt.Fprintf(b, `<label class="hxtxn-label"%s>%s`, attr("for", inst.ID()+"-input"), esc(inst.Label))
		if inst.IsOptional {
			b.WriteString(` <span class="hxtxn-optional">(optional)</span>`)
		}
		b.WriteString(`</label>`)
	}
	if help := inst.StringProp("helpText"); help != "" {
		fmt.Fprintf(b, `<p class="hxtxn-help">%s</p>`, esc(help))
	}
	body()
	if msg, ok := rc.ErrorMessage(); ok {
		fmt.Fprintf(b, `<p class="hxtxn-error" role="alert">%s</p>`, esc(msg))
	}
	b.WriteString(`</div>`)
}

// inputAttrs are the attributes shared by every form control.
func inputAttrs(rc RenderContext) string {
	inst := rc.Instruction
	_, invalid := rc.ErrorMessage()
	return attr("name", inst.ID()) +
		flag("required", !inst.IsOptional) +
		flag("disabled", disabled(rc)) +
		flag("autofocus", rc.Autofocus) +
		flag("aria-invalid", invalid)
}

func disabled(rc RenderContext) bool {
	if rc.ReadOnly || rc.Instruction.BoolProp("disabled") {
		return true
	}
	return rc.State != nil && rc.State.Frozen()
}

// currentValues is what the control shows: the submitted value for
// read-only renders, otherwise the raw input.
func currentValues(rc RenderContext) []string {
	if rc.ReadOnly && rc.Submitted != nil {
		return displayStrings(rc.Instruction.Kind, rc.Submitted)
	}
	if rc.State != nil {
		return rc.State.Raw()
	}
	return nil
}

func renderTextInput(ctx context.Context, rc RenderContext) templ.Component {
	typ := "text"
	switch rc.Instruction.Kind {
	case KindEmail:
		typ = "email"
	case KindURL:
		typ = "url"
	}
	return fragment(func(b *strings.Builder) {
		field(b, rc, func() {
			inst := rc.Instruction
			extra := attr("placeholder", inst.StringProp("placeholder"))
			if n, ok := inst.NumberProp("minLength"); ok {
				extra += attr("minlength", strconv.Itoa(int(n)))
			}
			if n, ok := inst.NumberProp("maxLength"); ok {
				extra += attr("maxlength", strconv.Itoa(int(n)))
			}
			writeRepeated(b, rc, func(i int, v string) {
				fmt.Fprintf(b, `<input%s%s%s%s%s>`, attr("type", typ), idAttr(rc, i), attr("value", v), inputAttrs(rc), extra)
			})
		})
	})
}

// writeRepeated renders one control per value. isMultiple elements get a
// trailing empty control for the next value.
func writeRepeated(b *strings.Builder, rc RenderContext, control func(i int, v string)) {
	values := currentValues(rc)
	if len(values) == 0 || (rc.Instruction.IsMultiple && !rc.ReadOnly) {
		values = append(values, "")
	}
	if rc.Instruction.IsMultiple {
		b.WriteString(`<div class="hxtxn-multiple">`)
	}
	for i, v := range values {
		control(i, v)
	}
	if rc.Instruction.IsMultiple {
		b.WriteString(`</div>`)
	}
}

func idAttr(rc RenderContext, i int) string {
	if i > 0 {
		return ""
	}
	return attr("id", rc.Instruction.ID()+"-input")
}

func renderRichText(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		field(b, rc, func() {
			var v string
			if vals := currentValues(rc); len(vals) > 0 {
				v = vals[len(vals)-1]
			}
			fmt.Fprintf(b, `<textarea rows="6"%s%s%s>%s</textarea>`,
				idAttr(rc, 0), inputAttrs(rc), attr("placeholder", rc.Instruction.StringProp("placeholder")), esc(v))
		})
	})
}

func renderNumber(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		field(b, rc, func() {
			inst := rc.Instruction
			extra := attr("step", "any")
			if d, ok := inst.NumberProp("decimals"); ok {
				extra = attr("step", strconv.FormatFloat(math.Pow10(-int(d)), 'f', -1, 64))
			}
			if lo, ok := inst.NumberProp("min"); ok {
				extra += attr("min", strconv.FormatFloat(lo, 'f', -1, 64))
			}
			if hi, ok := inst.NumberProp("max"); ok {
				extra += attr("max", strconv.FormatFloat(hi, 'f', -1, 64))
			}
			if cur := inst.StringProp("currency"); cur != "" {
				fmt.Fprintf(b, `<span class="hxtxn-currency">%s</span>`, esc(cur))
			}
			writeRepeated(b, rc, func(i int, v string) {
				fmt.Fprintf(b, `<input type="number" inputmode="decimal"%s%s%s%s>`, idAttr(rc, i), attr("value", v), inputAttrs(rc), extra)
			})
		})
	})
}

func renderBoolean(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		field(b, rc, func() {
			vals := currentValues(rc)
			checked := len(vals) > 0 && parseBool(vals[len(vals)-1])
			inst := rc.Instruction
			fmt.Fprintf(b, `<input type="hidden" value="false"%s>`, attr("name", inst.ID()))
			fmt.Fprintf(b, `<input type="checkbox" value="true"%s%s%s%s%s>`,
				idAttr(rc, 0), attr("name", inst.ID()), flag("checked", checked),
				flag("disabled", disabled(rc)), flag("autofocus", rc.Autofocus))
		})
	})
}

func renderDate(ctx context.Context, rc RenderContext) templ.Component {
	typ := "date"
	if rc.Instruction.Kind == KindDateTime {
		typ = "datetime-local"
	}
	return fragment(func(b *strings.Builder) {
		field(b, rc, func() {
			inst := rc.Instruction
			extra := ""
			if lo := inst.StringProp("min"); lo != "" {
				extra += attr("min", lo)
			}
			if hi := inst.StringProp("max"); hi != "" {
				extra += attr("max", hi)
			}
			writeRepeated(b, rc, func(i int, v string) {
				fmt.Fprintf(b, `<input%s%s%s%s%s>`, attr("type", typ), idAttr(rc, i), attr("value", v), inputAttrs(rc), extra)
			})
		})
	})
}

func renderSelectSingle(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		field(b, rc, func() {
			var cur string
			if vals := currentValues(rc); len(vals) > 0 {
				cur = vals[len(vals)-1]
			}
			fmt.Fprintf(b, `<select%s%s>`, idAttr(rc, 0), inputAttrs(rc))
			b.WriteString(`<option value="">Select…</option>`)
			for _, o := range rc.Instruction.Options() {
				fmt.Fprintf(b, `<option%s%s>%s</option>`, attr("value", o.Value), flag("selected", o.Value == cur), esc(o.Label))
			}
			b.WriteString(`</select>`)
		})
	})
}

func renderSelectMultiple(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		field(b, rc, func() {
			chosen := make(map[string]bool)
			for _, v := range currentValues(rc) {
				chosen[v] = true
			}
			inst := rc.Instruction
			b.WriteString(`<fieldset class="hxtxn-options">`)
			for i, o := range inst.Options() {
				fmt.Fprintf(b, `<label><input type="checkbox"%s%s%s%s%s> %s</label>`,
					idAttr(rc, i), attr("name", inst.ID()), attr("value", o.Value),
					flag("checked", chosen[o.Value]), flag("disabled", disabled(rc)), esc(o.Label))
			}
			b.WriteString(`</fieldset>`)
		})
	})
}

func renderFile(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		field(b, rc, func() {
			inst := rc.Instruction
			if rc.ReadOnly {
				for _, name := range currentValues(rc) {
					fmt.Fprintf(b, `<p class="hxtxn-file">%s</p>`, esc(name))
				}
				return
			}

			var accept []string
			if exts, ok := inst.Prop("allowedExtensions").([]any); ok {
				for _, e := range exts {
					if s, ok := e.(string); ok {
						accept = append(accept, s)
					}
				}
			}
			a := WireAttrs(rc.BasePath+"/upload/"+strconv.Itoa(inst.Index), "POST", nil)
			a["hx-encoding"] = "multipart/form-data"
			a["hx-trigger"] = "change"
			Target(a, "#"+inst.ID(), SwapOuter)
			fmt.Fprintf(b, `<input type="file" name="files"%s%s%s%s%s>`,
				idAttr(rc, 0), flag("multiple", inst.IsMultiple), attr("accept", strings.Join(accept, ",")),
				flag("disabled", disabled(rc)), attrs(a))

			if rc.Upload == nil {
				return
			}
			phase, _ := rc.Upload.Phase()
			switch phase {
			case UploadAwaitingURLs, UploadUploading:
				fmt.Fprintf(b, `<p class="hxtxn-upload" aria-busy="true"%s>Uploading…</p>`,
					attrs(Target(WireAttrs(rc.BasePath+"/element/"+strconv.Itoa(inst.Index), "GET", nil), "#"+inst.ID(), SwapOuter))+attr("hx-trigger", "every 1s"))
			case UploadDone:
				b.WriteString(`<ul class="hxtxn-upload">`)
				for _, f := range rc.Upload.Files() {
					fmt.Fprintf(b, `<li><a%s>%s</a></li>`, attr("href", f.URL), esc(f.Name))
				}
				b.WriteString(`</ul>`)
			}
		})
	})
}

func renderHeading(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		level := 2
		if n, ok := inst.NumberProp("level"); ok && n >= 2 && n <= 4 {
			level = int(n)
		}
		fmt.Fprintf(b, `<div class="hxtxn-display"%s><h%d>%s</h%d>`, attr("id", inst.ID()), level, esc(inst.Label), level)
		if d := inst.StringProp("description"); d != "" {
			fmt.Fprintf(b, `<p>%s</p>`, esc(d))
		}
		b.WriteString(`</div>`)
	})
}

// renderMarkdown converts the label as CommonMark. Raw HTML in the source
// is not passed through.
func renderMarkdown(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		var out bytes.Buffer
		if err := goldmark.Convert([]byte(rc.Instruction.Label), &out); err != nil {
			out.Reset()
			out.WriteString("<p>" + esc(rc.Instruction.Label) + "</p>")
		}
		fmt.Fprintf(b, `<div class="hxtxn-display hxtxn-markdown"%s>%s</div>`, attr("id", rc.Instruction.ID()), out.String())
	})
}

func renderLink(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		theme := inst.StringProp("theme")
		if theme == "" {
			theme = "default"
		}
		fmt.Fprintf(b, `<div class="hxtxn-display"%s><a%s%s>%s</a></div>`,
			attr("id", inst.ID()), attr("href", inst.StringProp("href")), attr("class", "hxtxn-link hxtxn-"+theme), esc(inst.Label))
	})
}

func renderImage(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		alt := inst.StringProp("alt")
		if alt == "" {
			alt = inst.Label
		}
		class := "hxtxn-image"
		if w := inst.StringProp("width"); w != "" {
			class += " w-" + w
		}
		if h := inst.StringProp("height"); h != "" {
			class += " h-" + h
		}
		fmt.Fprintf(b, `<figure class="hxtxn-display"%s><img%s%s%s>`, attr("id", inst.ID()), attr("src", inst.StringProp("url")), attr("alt", alt), attr("class", class))
		if inst.Label != "" {
			fmt.Fprintf(b, `<figcaption>%s</figcaption>`, esc(inst.Label))
		}
		b.WriteString(`</figure>`)
	})
}

func renderObject(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		fmt.Fprintf(b, `<div class="hxtxn-display"%s>`, attr("id", inst.ID()))
		if inst.Label != "" {
			fmt.Fprintf(b, `<p class="hxtxn-label">%s</p>`, esc(inst.Label))
		}
		writeObject(b, inst.Prop("data"), 0)
		b.WriteString(`</div>`)
	})
}

// writeObject renders nested data as definition lists, capped in depth.
func writeObject(b *strings.Builder, v any, depth int) {
	if depth > 6 {
		b.WriteString(`<span>…</span>`)
		return
	}
	switch v := v.(type) {
	case map[string]any:
		b.WriteString(`<dl class="hxtxn-object">`)
		for _, k := range sortedStrings(v) {
			fmt.Fprintf(b, `<dt>%s</dt><dd>`, esc(k))
			writeObject(b, v[k], depth+1)
			b.WriteString(`</dd>`)
		}
		b.WriteString(`</dl>`)
	case []any:
		b.WriteString(`<ol class="hxtxn-object">`)
		for _, item := range v {
			b.WriteString(`<li>`)
			writeObject(b, item, depth+1)
			b.WriteString(`</li>`)
		}
		b.WriteString(`</ol>`)
	default:
		b.WriteString(esc(table.CellText(v)))
	}
}

func renderMetadata(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		layout := inst.StringProp("layout")
		if layout == "" {
			layout = "grid"
		}
		fmt.Fprintf(b, `<div class="hxtxn-display"%s>`, attr("id", inst.ID()))
		if inst.Label != "" {
			fmt.Fprintf(b, `<p class="hxtxn-label">%s</p>`, esc(inst.Label))
		}
		fmt.Fprintf(b, `<dl%s>`, attr("class", "hxtxn-metadata hxtxn-"+layout))
		items, _ := inst.Prop("data").([]any)
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			label, _ := m["label"].(string)
			value := esc(table.CellText(m["value"]))
			if u, ok := m["url"].(string); ok && u != "" {
				value = `<a` + attr("href", u) + `>` + value + `</a>`
			}
			fmt.Fprintf(b, `<div><dt>%s</dt><dd>%s</dd></div>`, esc(label), value)
		}
		b.WriteString(`</dl></div>`)
	})
}

func renderCode(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		fmt.Fprintf(b, `<div class="hxtxn-display"%s>`, attr("id", inst.ID()))
		if inst.Label != "" {
			fmt.Fprintf(b, `<p class="hxtxn-label">%s</p>`, esc(inst.Label))
		}
		class := ""
		if lang := inst.StringProp("language"); lang != "" {
			class = attr("class", "language-"+lang)
		}
		fmt.Fprintf(b, `<pre><code%s>%s</code></pre></div>`, class, esc(inst.StringProp("code")))
	})
}

func renderProgress(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		fmt.Fprintf(b, `<div class="hxtxn-display"%s>`, attr("id", inst.ID()))
		if inst.Label != "" {
			fmt.Fprintf(b, `<p class="hxtxn-label">%s</p>`, esc(inst.Label))
		}
		completed, okC := inst.NumberProp("completed")
		total, okT := inst.NumberProp("total")
		switch {
		case okC && okT && total > 0:
			fmt.Fprintf(b, `<progress%s%s></progress><span>%s / %s</span>`,
				attr("value", strconv.Itoa(int(completed))), attr("max", strconv.Itoa(int(total))),
				strconv.Itoa(int(completed)), strconv.Itoa(int(total)))
		default:
			if v, ok := inst.NumberProp("value"); ok {
				fmt.Fprintf(b, `<progress max="1"%s></progress>`, attr("value", strconv.FormatFloat(v, 'f', -1, 64)))
			} else {
				b.WriteString(`<progress></progress>`)
			}
		}
		if d := inst.StringProp("description"); d != "" {
			fmt.Fprintf(b, `<p>%s</p>`, esc(d))
		}
		b.WriteString(`</div>`)
	})
}

// renderIssues replaces an element whose properties failed validation.
func renderIssues(inst *RenderInstruction) templ.Component {
	return fragment(func(b *strings.Builder) {
		fmt.Fprintf(b, `<div class="hxtxn-field hxtxn-invalid"%s%s>`, attr("id", inst.ID()), attr("data-kind", inst.Tag))
		if inst.Label != "" {
			fmt.Fprintf(b, `<p class="hxtxn-label">%s</p>`, esc(inst.Label))
		}
		fmt.Fprintf(b, `<p>This %s element could not be displayed.</p><ul class="hxtxn-issues">`, esc(inst.Tag))
		for _, is := range inst.ValidationError.Issues {
			if is.Path != "" {
				fmt.Fprintf(b, `<li><code>%s</code> %s</li>`, esc(is.Path), esc(is.Message))
			} else {
				fmt.Fprintf(b, `<li>%s</li>`, esc(is.Message))
			}
		}
		b.WriteString(`</ul></div>`)
	})
}

func renderPlaceholder(ctx context.Context, rc RenderContext) templ.Component {
	return fragment(func(b *strings.Builder) {
		inst := rc.Instruction
		fmt.Fprintf(b, `<div class="hxtxn-field hxtxn-unsupported"%s%s>`, attr("id", inst.ID()), attr("data-kind", inst.Tag))
		if inst.Label != "" {
			fmt.Fprintf(b, `<p class="hxtxn-label">%s</p>`, esc(inst.Label))
		}
		fmt.Fprintf(b, `<p>The <code>%s</code> component is not supported here.</p></div>`, esc(inst.Tag))
	})
}
