package sse

import (
	"errors"
	"io"
	"strings"
)

const (
	readChunkSize = 4 * 1024

	// maxLineSize bounds a single buffered line. Provider frames are small;
	// anything larger indicates a broken or hostile upstream.
	maxLineSize = 1024 * 1024
)

// ErrLineTooLong is returned by Reader.Next when a single line exceeds the
// maximum buffered line size.
var ErrLineTooLong = errors.New("sse: line too long")

// Reader parses SSE events from a source io.Reader. Bytes are pulled from the
// source in chunks and routed through a LineBuffer, so events split across
// arbitrary read boundaries are reassembled before parsing.
//
// ┌──────────────────┐   ┌────────────┐   ┌───────────────┐
// │ source io.Reader │──▶│ LineBuffer │──▶│ Reader.Next() │──▶ Event
// └──────────────────┘   └────────────┘   └───────────────┘
type Reader struct {
	src   io.Reader
	lines LineBuffer
	chunk []byte
	eof   bool

	// current accumulates fields for the event being built.
	current *Event
	hasData bool

	// dataField is set once the current event has a data line, even an
	// empty one, so later lines are joined with a newline.
	dataField bool
}

// NewReader returns a Reader that parses SSE events from src.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:     src,
		chunk:   make([]byte, readChunkSize),
		current: &Event{},
	}
}

// Next returns the next parsed SSE event. It blocks until a complete event is
// available (terminated by a blank line in the stream).
// Next returns nil, nil when the source is exhausted.
func (r *Reader) Next() (*Event, error) {
	for {
		if line, ok := r.lines.Next(); ok {
			if ev := r.processLine(line); ev != nil {
				return ev, nil
			}
			continue
		}

		if r.eof {
			// Source exhausted. A final line without a terminator and an
			// in-progress event without a trailing blank line are both
			// yielded rather than dropped.
			if tail, ok := r.lines.Flush(); ok {
				if ev := r.processLine(tail); ev != nil {
					return ev, nil
				}
			}
			if r.hasData {
				ev := r.current
				r.reset()
				return ev, nil
			}
			return nil, nil
		}

		if r.lines.Len() > maxLineSize {
			return nil, ErrLineTooLong
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.lines.Push(r.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.eof = true
				continue
			}
			return nil, err
		}
	}
}

// processLine handles a single line and returns a completed event when the
// line is the blank terminator of an event with fields.
func (r *Reader) processLine(raw string) *Event {
	// A blank line signals the end of the current event.
	if raw == "" {
		if !r.hasData {
			// Leading blank lines or keep-alive newlines.
			return nil
		}
		ev := r.current
		r.reset()
		return ev
	}

	// Lines starting with ':' are comments.
	if strings.HasPrefix(raw, ":") {
		return nil
	}

	r.parseLine(raw)
	return nil
}

// parseLine processes a single non-empty, non-comment SSE line and
// accumulates the field into the current event.
//
// Per the SSE spec, a line has the form "field:value" where the first
// space after the colon is optional and stripped if present.
func (r *Reader) parseLine(line string) {
	var field, value string

	if before, after, ok := strings.Cut(line, ":"); ok {
		field = before
		value = strings.TrimPrefix(after, " ")
	} else {
		// Line with no colon: the entire line is the field name with
		// an empty value.
		field = line
	}

	switch field {
	case "data":
		if r.dataField {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.dataField = true
		r.hasData = true
	case "event":
		r.current.Type = value
		r.hasData = true
	case "id":
		r.current.ID = value
		r.hasData = true
	default:
		// "retry" and unknown fields are ignored.
	}
}

// reset clears the accumulated event state for the next event.
func (r *Reader) reset() {
	r.current = &Event{}
	r.hasData = false
	r.dataField = false
}
