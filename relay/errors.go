package relay

import (
	"errors"
	"net/http"

	"github.com/papercomputeco/chatrelay/pkg/llm"
)

// Client-facing messages for upstream failures.
const (
	msgInvalidRequest  = "Invalid request. Please check your message and try again."
	msgAuthFailed      = "Authentication failed. Please check API configuration."
	msgRateLimited     = "Rate limit exceeded. Please wait a moment before trying again."
	msgOverloaded      = "AI service is temporarily overloaded. Please try again in a few moments."
	msgUnavailable     = "AI service is temporarily unavailable. Please try again later."
	msgTimedOut        = "AI service stopped responding. Please try again."
	msgStreamInterrupt = "Stream processing error"
)

// Request rejection messages.
const (
	msgServerConfig   = "Server configuration error"
	msgInvalidFormat  = "Invalid request format"
	msgNoUserMessage  = "No user message found"
	msgInvalidMessage = "Invalid message format. Each message must have role and content."
	msgEmptyResponse  = "Empty response from AI service"
	msgInternalError  = "Internal server error"
)

// Error codes reported by the non-streaming /chat endpoint.
const (
	CodeServiceOverloaded  = "SERVICE_OVERLOADED"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// UpstreamErrorMessage maps an upstream HTTP status to the message shown to
// the user.
func UpstreamErrorMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return msgInvalidRequest
	case http.StatusUnauthorized:
		return msgAuthFailed
	case http.StatusTooManyRequests:
		return msgRateLimited
	case http.StatusServiceUnavailable:
		return msgOverloaded
	default:
		return msgUnavailable
	}
}

// streamErrorFor converts any failure observed while relaying a stream into
// the single error frame sent to the client.
func streamErrorFor(err error) llm.StreamError {
	var httpErr *llm.UpstreamHTTPError
	var streamErr llm.StreamError

	switch {
	case errors.As(err, &httpErr):
		return llm.StreamError{Message: UpstreamErrorMessage(httpErr.StatusCode), Code: httpErr.StatusCode}
	case errors.As(err, &streamErr):
		return streamErr
	case errors.Is(err, llm.ErrIdleTimeout):
		return llm.StreamError{Message: msgTimedOut, Code: http.StatusGatewayTimeout}
	default:
		return llm.StreamError{Message: msgStreamInterrupt}
	}
}

// chatErrorFor maps a failure on the non-streaming endpoint to an HTTP status,
// error code, and message.
func chatErrorFor(err error) (status int, code string, message string) {
	var httpErr *llm.UpstreamHTTPError
	if !errors.As(err, &httpErr) {
		return http.StatusInternalServerError, CodeServiceUnavailable, msgUnavailable
	}

	switch httpErr.StatusCode {
	case http.StatusServiceUnavailable:
		return http.StatusServiceUnavailable, CodeServiceOverloaded, msgOverloaded
	case http.StatusTooManyRequests:
		return http.StatusTooManyRequests, CodeRateLimitExceeded, msgRateLimited
	case http.StatusBadRequest:
		return http.StatusBadRequest, CodeInvalidRequest, msgInvalidRequest
	default:
		return http.StatusInternalServerError, CodeServiceUnavailable, msgUnavailable
	}
}
