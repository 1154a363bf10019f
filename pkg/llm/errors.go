package llm

import (
	"errors"
	"fmt"
)

// ErrorResponse is the JSON body returned by the relay for request-level
// failures (validation, configuration, rate limiting).
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// UpstreamHTTPError reports a non-2xx status from the LLM provider before any
// delta was produced.
type UpstreamHTTPError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// ErrIdleTimeout is returned when a stream produced no bytes for longer than
// its configured idle timeout.
var ErrIdleTimeout = errors.New("stream idle timeout")
