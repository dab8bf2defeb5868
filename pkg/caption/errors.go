package caption

import (
	"errors"
	"fmt"
)

// ErrNoEndpoint is returned when the client is built without a base URL.
var ErrNoEndpoint = errors.New("caption: endpoint required")

// TransportKind classifies a failed exchange with the service.
type TransportKind int

const (
	// HTTPStatus means the service answered with a non-2xx status.
	HTTPStatus TransportKind = iota
	// NetworkFailure means no response was received.
	NetworkFailure
	// MalformedResponse means a 2xx body could not be decoded.
	MalformedResponse
)

// String returns the kind name.
func (k TransportKind) String() string {
	switch k {
	case HTTPStatus:
		return "http_status"
	case NetworkFailure:
		return "network_failure"
	case MalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// TransportError represents a failed caption request.
type TransportError struct {
	Kind TransportKind

	// StatusCode is set for HTTPStatus errors.
	StatusCode int

	// Message is the service's error field, or a fallback.
	Message string

	// Err is the underlying cause for network and decode failures.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch e.Kind {
	case HTTPStatus:
		return fmt.Sprintf("caption: HTTP %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("caption [%s]: %s", e.Kind, e.Reason())
	}
}

// Reason is the short explanation shown to users.
func (e *TransportError) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsServerError returns true for 5xx responses.
func (e *TransportError) IsServerError() bool {
	return e.Kind == HTTPStatus && e.StatusCode >= 500 && e.StatusCode < 600
}
