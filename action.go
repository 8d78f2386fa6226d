package hxtxn

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/a-h/templ"
)

// WireAttrs builds the HTMX attributes for a control that calls back into
// the session handler.
//
// For GET, vals are appended to the URL query string. For other methods
// they travel in hx-vals. Targeting and swapping are left to the caller.
//
//	attrs := hxtxn.WireAttrs(base+"/table/2", http.MethodPost, map[string]string{"op": "next"})
func WireAttrs(path, method string, vals map[string]string) templ.Attributes {
	attrs := templ.Attributes{}

	if method == http.MethodGet || method == "" {
		target := path
		if len(vals) > 0 {
			q := make([]string, 0, len(vals))
			for _, k := range slices.Sorted(maps.Keys(vals)) {
				q = append(q, url.QueryEscape(k)+"="+url.QueryEscape(vals[k]))
			}
			target = path + "?" + strings.Join(q, "&")
		}
		attrs["hx-get"] = target
		return attrs
	}

	switch method {
	case http.MethodPost:
		attrs["hx-post"] = path
	case http.MethodPut:
		attrs["hx-put"] = path
	case http.MethodPatch:
		attrs["hx-patch"] = path
	case http.MethodDelete:
		attrs["hx-delete"] = path
	}
	if len(vals) > 0 {
		data, _ := json.Marshal(vals)
		attrs["hx-vals"] = string(data)
	}
	return attrs
}

// Target adds hx-target and hx-swap to attrs.
func Target(attrs templ.Attributes, selector string, swap SwapMode) templ.Attributes {
	attrs["hx-target"] = selector
	attrs["hx-swap"] = string(swap)
	return attrs
}
