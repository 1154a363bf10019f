package llm

import "fmt"

// StreamEvent is a single element of a normalized response stream: zero or
// more TextDelta values followed by exactly one terminal StreamError or
// StreamDone. Nothing follows a terminal event.
type StreamEvent interface {
	isStreamEvent()
}

// TextDelta is an incremental fragment of assistant text.
type TextDelta struct {
	Text string
}

// StreamError terminates a stream with a failure. Code is the upstream error
// code when one was reported, 0 otherwise.
type StreamError struct {
	Message string
	Code    int
}

// StreamDone terminates a stream successfully.
type StreamDone struct{}

func (TextDelta) isStreamEvent()   {}
func (StreamError) isStreamEvent() {}
func (StreamDone) isStreamEvent()  {}

func (e StreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("stream error %d: %s", e.Code, e.Message)
	}
	return "stream error: " + e.Message
}

// IsTerminal reports whether ev ends a stream.
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case StreamError, *StreamError, StreamDone, *StreamDone:
		return true
	default:
		return false
	}
}
