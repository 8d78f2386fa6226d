// Package hxtxnecho mounts hxtxn sessions on the Echo framework.
//
// Mount a session on an Echo instance:
//
//	e := echo.New()
//	sess := hxtxnecho.Mount(e, hxtxn.SessionOptions{Host: host})
//
// Or on a group with middleware:
//
//	g := e.Group("/app", authMiddleware)
//	sess := hxtxnecho.MountGroup(g, hxtxn.SessionOptions{Host: host, BasePath: "/app/txn"})
package hxtxnecho

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/pthm/hxtxn"
)

// Option configures Mount and MountGroup.
type Option func(*options)

type options struct {
	key  []byte
	path string
}

// WithKey sets the key that signs table view tokens.
// If not provided, a random key is generated, so tokens do not survive a
// restart.
func WithKey(key []byte) Option {
	return func(o *options) {
		o.key = key
	}
}

// WithPath sets the route prefix. Defaults to "/txn/".
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// Mount creates a session and serves it on an Echo instance.
//
//	sess := hxtxnecho.Mount(e, hxtxn.SessionOptions{Host: host}, hxtxnecho.WithPath("/checkout/"))
func Mount(e *echo.Echo, sessOpts hxtxn.SessionOptions, opts ...Option) *hxtxn.Session {
	o := collect(opts)
	if sessOpts.BasePath == "" {
		sessOpts.BasePath = strings.TrimSuffix(o.path, "/")
	}
	sess := newSession(sessOpts, o)
	e.Any(o.path+"*", Handler(sess))
	return sess
}

// MountGroup creates a session and serves it on an Echo group, sharing the
// group's middleware. Set SessionOptions.BasePath to the full mounted path
// (group prefix plus route prefix) so rendered links resolve.
func MountGroup(g *echo.Group, sessOpts hxtxn.SessionOptions, opts ...Option) *hxtxn.Session {
	o := collect(opts)
	if sessOpts.BasePath == "" {
		sessOpts.BasePath = strings.TrimSuffix(o.path, "/")
	}
	sess := newSession(sessOpts, o)
	g.Any(o.path+"*", Handler(sess))
	return sess
}

// Handler adapts a session's handler to a wildcard Echo route. The
// wildcard remainder becomes the session-relative path.
func Handler(sess *hxtxn.Session) echo.HandlerFunc {
	h := sess.Handler()
	return func(c echo.Context) error {
		r := c.Request().Clone(c.Request().Context())
		r.URL.Path = "/" + c.Param("*")
		r.URL.RawPath = ""
		h.ServeHTTP(c.Response(), r)
		return nil
	}
}

func collect(opts []Option) *options {
	o := &options{path: "/txn/"}
	for _, opt := range opts {
		opt(o)
	}
	if !strings.HasSuffix(o.path, "/") {
		o.path += "/"
	}
	return o
}

func newSession(sessOpts hxtxn.SessionOptions, o *options) *hxtxn.Session {
	if sessOpts.Sealer == nil {
		key := o.key
		if key == nil {
			key = make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				panic(fmt.Sprintf("hxtxnecho: failed to generate random key: %v", err))
			}
		}
		sealer, err := hxtxn.NewSealer(key)
		if err != nil {
			panic(fmt.Sprintf("hxtxnecho: %v", err))
		}
		sessOpts.Sealer = sealer
	}
	return hxtxn.NewSession(sessOpts)
}

// Render writes a templ component to the Echo response.
//
//	func handler(c echo.Context) error {
//	    return hxtxnecho.Render(c, hxtxn.ToastContainer())
//	}
func Render(c echo.Context, component templ.Component) error {
	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(c.Request().Context(), c.Response())
}
