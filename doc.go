// Package hxtxn renders transactions driven by a remote host as
// server-rendered HTMX pages.
//
// A host (usually an action script running elsewhere) sends batches of
// render instructions over a duplex connection. Each batch is a list of
// components: display components such as headings, markdown and tables,
// and input components such as text fields, selects, file pickers and
// selectable tables. The session renders the batch, collects a value per
// interactive element, and sends one response back keyed by the batch's
// group key. The host answers with the next batch, or ends the transaction.
//
// # Core Concepts
//
// A Session owns one transaction. Batches arrive through Receive as the
// raw envelope bytes the host sent:
//
//	sess := hxtxn.NewSession(hxtxn.SessionOptions{Host: host})
//	if err := sess.Receive(raw); err != nil { ... }
//
// Every element is checked against its kind's property schema when the
// batch is decoded. A malformed element renders as an issue list instead
// of failing the batch; only an undecodable envelope is fatal.
//
// Each interactive element has an InputState holding its pending value,
// which is either a value or a ComponentError. TrySubmit aggregates the
// states of a batch: submission is blocked while any required value is
// missing or any value is an error, and the first blocking element can be
// focused.
//
// # Tables
//
// Table elements are backed by lib/table. A table whose data is complete
// on the client pages, sorts and searches locally. A remote table asks the
// host for each page; every request carries an epoch so that pages for a
// superseded view are dropped. Selecting every row of a remote table is
// recorded as "all except", and the matching keys are fetched from the
// host at submit time.
//
// # HTTP Surface
//
// Handler serves the session view, per-element fragments, submission,
// table controls, uploads and CSV export:
//
//	http.Handle("/txn/", http.StripPrefix("/txn", sess.Handler()))
//
// Mutating methods require the HX-Request: true header that HTMX sends,
// which blocks cross-origin form posts without additional tokens.
// Flash messages are delivered as out-of-band toasts.
//
// # Renderers
//
// A Registry maps each Kind to a Renderer returning a templ.Component.
// DefaultRegistry covers every built-in kind; Replace swaps one out, and
// kinds without a renderer fall back to a placeholder.
//
//	reg := hxtxn.DefaultRegistry()
//	reg.Replace(hxtxn.KindMarkdown, myMarkdown)
//
// # Transports
//
// lib/transport carries the host protocol: a socket.io client for real
// hosts and an in-memory Loopback for tests and local rendering.
package hxtxn
