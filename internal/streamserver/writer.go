package streamserver

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"webstream/pkg/errors"
)

// Event is one server-sent event
type Event struct {
	ID    string
	Type  string
	Data  string
	Retry int // milliseconds
}

// writer frames events onto a text/event-stream response
type writer struct {
	flusher http.Flusher
	buf     *bufio.Writer
}

func newWriter(w io.Writer) *writer {
	flusher, _ := w.(http.Flusher)
	return &writer{
		flusher: flusher,
		buf:     bufio.NewWriter(w),
	}
}

// WriteEvent writes and flushes one event
func (w *writer) WriteEvent(event Event) error {
	if event.ID != "" {
		if _, err := fmt.Fprintf(w.buf, "id: %s\n", event.ID); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "failed to write event ID").WithCause(err)
		}
	}

	if event.Type != "" {
		if _, err := fmt.Fprintf(w.buf, "event: %s\n", event.Type); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "failed to write event type").WithCause(err)
		}
	}

	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w.buf, "retry: %d\n", event.Retry); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "failed to write retry").WithCause(err)
		}
	}

	// A bare CR or LF inside data would end the field early, so each line
	// gets its own data field.
	data := strings.ReplaceAll(event.Data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w.buf, "data: %s\n", line); err != nil {
			return errors.NewError(errors.ErrorTypeInternal, "failed to write event data").WithCause(err)
		}
	}

	if _, err := w.buf.WriteString("\n"); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "failed to write event terminator").WithCause(err)
	}

	return w.Flush()
}

// WriteComment writes a comment line, used as keepalive
func (w *writer) WriteComment(comment string) error {
	if _, err := fmt.Fprintf(w.buf, ": %s\n\n", comment); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "failed to write comment").WithCause(err)
	}
	return w.Flush()
}

// Flush flushes buffered frames to the client
func (w *writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "failed to flush stream").WithCause(err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
