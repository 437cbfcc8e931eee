// Package transport opens server-sent event streams and reports their
// lifecycle through callbacks, reconnecting on its own schedule.
package transport

import (
	"context"
	"fmt"
)

// Handler receives stream callbacks. Calls for one stream are made from a
// single goroutine, never concurrently.
type Handler interface {
	// OnOpen is called each time the stream (re)connects.
	OnOpen()
	// OnMessage is called with the data of every dispatched event.
	OnMessage(data string)
	// OnError is called when a connect attempt fails or a live stream drops.
	OnError(info ErrorInfo)
}

// Stream is one open stream instance.
type Stream interface {
	// Close stops the stream. Calling it more than once is a no-op.
	Close() error
}

// Transport opens streams.
type Transport interface {
	// Open starts connecting to url and returns immediately. An error is
	// returned only when the stream cannot be constructed at all.
	Open(ctx context.Context, url string, h Handler) (Stream, error)
}

// ErrorInfo describes a stream failure.
type ErrorInfo struct {
	// Status is the HTTP status of the response, 0 when the server never
	// answered.
	Status int
	// Message is a human readable summary.
	Message string
	// Err is the underlying error, if any.
	Err error
}

func (i ErrorInfo) String() string {
	switch {
	case i.Status != 0 && i.Message != "":
		return fmt.Sprintf("status %d: %s", i.Status, i.Message)
	case i.Status != 0:
		return fmt.Sprintf("status %d", i.Status)
	case i.Message != "":
		return i.Message
	default:
		return "connection failed"
	}
}

// Permanent reports whether the transport has given up on the stream
// after this failure. Failures without an error are treated as retryable.
func (i ErrorInfo) Permanent() bool {
	return i.Err != nil && !Retryable(i.Err)
}
