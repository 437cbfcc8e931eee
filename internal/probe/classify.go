package probe

import (
	"errors"
	"net/http"
	"syscall"

	"webstream/internal/transport"
)

// FailureKind classifies why an attempt failed. It only affects reporting;
// every kind is retried the same way.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTimeout
	FailureEndpointNotFound
	FailureConnectionRefused
	FailureTransport
)

// String returns the label used in logs and metrics
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureEndpointNotFound:
		return "endpoint_not_found"
	case FailureConnectionRefused:
		return "connection_refused"
	case FailureTransport:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Classify maps a transport error callback to a FailureKind.
func Classify(info transport.ErrorInfo) FailureKind {
	switch {
	case info.Status == http.StatusNotFound:
		return FailureEndpointNotFound
	case info.Status == 0 && errors.Is(info.Err, syscall.ECONNREFUSED):
		return FailureConnectionRefused
	default:
		return FailureTransport
	}
}

// describe renders the diagnostic line for a failed attempt
func describe(kind FailureKind, info transport.ErrorInfo) string {
	switch kind {
	case FailureEndpointNotFound:
		return "Error: 404 - Endpoint not found"
	case FailureConnectionRefused:
		return "Error: Connection refused"
	}
	if info.Message != "" {
		return "Error: " + info.String()
	}
	return "Error: Connection failed"
}
