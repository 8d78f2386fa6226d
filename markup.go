package hxtxn

import (
	"context"
	"fmt"
	"html"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/pthm/hxtxn/lib/table"
)

// fragment turns a string-building function into a component.
func fragment(build func(b *strings.Builder)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		build(&b)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// renderTo writes c into b. Renderer errors are written as a comment so
// one failing element does not break the batch.
func renderTo(ctx context.Context, b *strings.Builder, c templ.Component) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		fmt.Fprintf(b, "<!-- render error: %s -->", esc(err.Error()))
		return
	}
	b.WriteString(sb.String())
}

func esc(s string) string { return html.EscapeString(s) }

// attr renders ` name="value"`.
func attr(name, value string) string {
	return " " + name + `="` + esc(value) + `"`
}

// flag renders a boolean attribute when on.
func flag(name string, on bool) string {
	if !on {
		return ""
	}
	return " " + name
}

// attrs renders templ attributes in a stable order.
func attrs(a templ.Attributes) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(a)) {
		switch v := a[k].(type) {
		case bool:
			b.WriteString(flag(k, v))
		case string:
			b.WriteString(attr(k, v))
		default:
			b.WriteString(attr(k, fmt.Sprint(v)))
		}
	}
	return b.String()
}

// displayStrings formats a submitted value the way it was entered.
func displayStrings(kind Kind, v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, displayStrings(kind, item)...)
		}
		return out
	case time.Time:
		if kind == KindDateTime {
			return []string{v.Format(dateTimeLayout)}
		}
		return []string{v.Format(dateLayout)}
	case bool:
		return []string{strconv.FormatBool(v)}
	case table.Row:
		return []string{v.Key}
	case UploadedFile:
		return []string{v.Name}
	}
	return []string{table.CellText(v)}
}

func sortedStrings(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
