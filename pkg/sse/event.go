// Package sse provides the Server-Sent Events framing shared by both legs of
// the relay: parsing upstream provider streams, writing normalized frames to
// downstream clients, and parsing those frames again on the client side.
//
// Only the subset of the SSE format that LLM providers actually emit is
// handled: "data", "event" and "id" fields, comments, and blank-line event
// terminators. "retry" is ignored.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single parsed SSE event, delimited by a blank line
// in the byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n" (per the SSE spec, multiple data fields are joined
	// with a single newline).
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string
}
