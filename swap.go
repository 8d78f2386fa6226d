package hxtxn

// SwapMode is an hx-swap strategy.
//
// See https://htmx.org/attributes/hx-swap/.
type SwapMode string

// SwapOuter replaces the target element itself. Element fragments and the
// session container use it.
const SwapOuter SwapMode = "outerHTML"
