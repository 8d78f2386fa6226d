package hxtxn

import "github.com/a-h/templ"

// Result is returned by the session's route handlers to describe the
// response: a body fragment plus flashes, events, headers and status.
// The handler applies it after the route returns.
//
//	return OK(fragment).Flash(FlashError, "Could not load rows.")
//	return OK(page).Trigger("hxtxn:batch", map[string]any{"groupKey": key})
type Result struct {
	body        templ.Component
	err         error
	flashes     []Flash
	trigger     string
	triggerData map[string]any
	headers     map[string]string
	status      int
	skip        bool
}

// OK creates a result that renders body.
func OK(body templ.Component) Result {
	return Result{body: body}
}

// Err creates a result that is answered by the handler's error path.
func Err(err error) Result {
	return Result{err: err}
}

// Skip creates a result for a route that wrote its own response, such as
// a CSV download.
func Skip() Result {
	return Result{skip: true}
}

// Flash adds a toast notification.
func (r Result) Flash(level, message string) Result {
	r.flashes = append(r.flashes, Flash{Level: level, Message: message})
	return r
}

// Trigger emits an event via the HX-Trigger header.
func (r Result) Trigger(event string, data ...map[string]any) Result {
	r.trigger = event
	if len(data) > 0 {
		r.triggerData = data[0]
	}
	return r
}

// Header sets a response header.
func (r Result) Header(key, value string) Result {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

// Status sets the HTTP status code.
func (r Result) Status(code int) Result {
	r.status = code
	return r
}

// GetBody returns the body fragment.
func (r Result) GetBody() templ.Component { return r.body }

// GetErr returns the error.
func (r Result) GetErr() error { return r.err }

// GetFlashes returns the flash messages.
func (r Result) GetFlashes() []Flash { return r.flashes }

// GetTrigger returns the trigger event name.
func (r Result) GetTrigger() string { return r.trigger }

// GetTriggerData returns the trigger event data.
func (r Result) GetTriggerData() map[string]any { return r.triggerData }

// GetHeaders returns the response headers.
func (r Result) GetHeaders() map[string]string { return r.headers }

// GetStatus returns the HTTP status code, 0 meaning the default 200.
func (r Result) GetStatus() int { return r.status }

// ShouldSkip reports whether the route wrote its own response.
func (r Result) ShouldSkip() bool { return r.skip }
