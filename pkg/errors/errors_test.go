package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"testing"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		name      string
		errorType ErrorType
		message   string
	}{
		{"not found error", ErrorTypeNotFound, "stream endpoint not found"},
		{"unavailable error", ErrorTypeUnavailable, "stream server unavailable"},
		{"timeout error", ErrorTypeTimeout, "no event within window"},
		{"bad request error", ErrorTypeBadRequest, "invalid stream url"},
		{"refused error", ErrorTypeRefused, "connection refused"},
		{"internal error", ErrorTypeInternal, "reader closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(tt.errorType, tt.message)

			if err.Type != tt.errorType {
				t.Errorf("NewError() type = %v, want %v", err.Type, tt.errorType)
			}
			if err.Message != tt.message {
				t.Errorf("NewError() message = %v, want %v", err.Message, tt.message)
			}
			if err.Details == nil {
				t.Error("NewError() details should be initialized")
			}
		})
	}
}

func TestErrorWithDetails(t *testing.T) {
	err := NewError(ErrorTypeUnavailable, "stream returned status 503").
		WithDetail("status", 503).
		WithDetail("url", "http://localhost:8000/stream")

	if err.Details["status"] != 503 {
		t.Errorf("WithDetail() status = %v, want 503", err.Details["status"])
	}
	if err.Details["url"] != "http://localhost:8000/stream" {
		t.Errorf("WithDetail() url = %v", err.Details["url"])
	}
}

func TestErrorString(t *testing.T) {
	err := NewError(ErrorTypeNotFound, "stream endpoint not found")
	if got, want := err.Error(), "not_found: stream endpoint not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err2 := NewError(ErrorTypeRefused, "failed to connect").WithCause(fmt.Errorf("dial tcp: refused"))
	if got, want := err2.Error(), "refused: failed to connect: dial tcp: refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err3 := NewError(ErrorTypeInternal, "test").WithCause(nil)
	if strings.HasSuffix(err3.Error(), ": <nil>") {
		t.Errorf("Error() should not include nil cause, got %q", err3.Error())
	}
}

func TestErrorIsAndUnwrap(t *testing.T) {
	err := fmt.Errorf("attempt 2: %w",
		NewError(ErrorTypeRefused, "failed to connect").WithCause(syscall.ECONNREFUSED))

	if !errors.Is(err, NewError(ErrorTypeRefused, "")) {
		t.Error("errors.Is should match on error type")
	}
	if errors.Is(err, NewError(ErrorTypeTimeout, "")) {
		t.Error("errors.Is should not match a different type")
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Error("errors.Is should reach the wrapped errno")
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"structured", NewError(ErrorTypeNotFound, "x"), ErrorTypeNotFound},
		{"wrapped", Wrap(NewError(ErrorTypeTimeout, "x"), "probe"), ErrorTypeTimeout},
		{"plain", fmt.Errorf("boom"), ErrorTypeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeOf(tt.err); got != tt.want {
				t.Errorf("TypeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    int
	}{
		{ErrorTypeNotFound, http.StatusNotFound},
		{ErrorTypeBadRequest, http.StatusBadRequest},
		{ErrorTypeTimeout, http.StatusRequestTimeout},
		{ErrorTypeUnavailable, http.StatusServiceUnavailable},
		{ErrorTypeRefused, http.StatusServiceUnavailable},
		{ErrorTypeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := NewError(tt.errType, "x").HTTPStatusCode(); got != tt.want {
			t.Errorf("%s: HTTPStatusCode() = %d, want %d", tt.errType, got, tt.want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
