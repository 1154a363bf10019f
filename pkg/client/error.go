package client

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed exchange with the relay.
type ErrorKind string

const (
	// KindNetwork: the relay could not be reached or the connection dropped.
	KindNetwork ErrorKind = "network"

	// KindHTTP: the relay rejected the request before streaming.
	KindHTTP ErrorKind = "http"

	// KindProvider: the stream ended with an error frame.
	KindProvider ErrorKind = "provider"

	// KindTimeout: no bytes arrived within the idle timeout.
	KindTimeout ErrorKind = "timeout"

	// KindProtocol: the stream ended without a terminal frame.
	KindProtocol ErrorKind = "protocol"
)

// Error is every failure reported by a Consumer. The same value is passed to
// Handlers.OnError and returned from Send.
type Error struct {
	Kind    ErrorKind
	Message string

	// Status is the relay's HTTP status for KindHTTP.
	Status int

	// Code is the provider error code carried by an error frame, or the
	// errorCode string of a /chat response.
	Code      int
	ErrorCode string

	// Partial is the text received before the failure.
	Partial string

	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s error (%d): %s", e.Kind, e.Status, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("%s error (code %d): %s", e.Kind, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether sending the same message again may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindProtocol:
		return true
	case KindHTTP:
		return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
	case KindProvider:
		return e.Code == 0 || e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
	default:
		return false
	}
}
