// Package listener consumes an SSE stream for the lifetime of the process,
// logging every event and relying on the transport to reconnect.
package listener

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"webstream/internal/transport"
	"webstream/pkg/metrics"
)

// Config holds listener configuration
type Config struct {
	// SummaryInterval logs running statistics periodically; zero disables.
	SummaryInterval time.Duration
	// Output, when set, receives one line per event: sequence number,
	// timestamp and payload.
	Output io.Writer
}

// Summary reports what a listener session saw
type Summary struct {
	Events    int
	Connected bool
	Duration  time.Duration
}

// Listener runs listener sessions against a transport
type Listener struct {
	config    Config
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a new listener. m may be nil.
func New(config Config, t transport.Transport, logger *slog.Logger, m *metrics.Metrics) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		config:    config,
		transport: t,
		logger:    logger.With("component", "listener"),
		metrics:   m,
		tracer:    otel.Tracer("webstream/listener"),
		now:       time.Now,
	}
}

// Run opens one stream to url and reports its events until ctx is done,
// then closes the stream and returns the session summary. An error is
// returned only if the stream cannot be constructed.
func (l *Listener) Run(ctx context.Context, url string) (Summary, error) {
	ctx, span := l.tracer.Start(ctx, "listener.session", trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	s := &session{
		listener: l,
		started:  l.now(),
		events:   make(chan event),
		done:     make(chan struct{}),
		span:     span,
	}

	l.logger.Info("WebStream client starting", "url", url)

	stream, err := l.transport.Open(ctx, url, &handler{events: s.events, done: s.done})
	if err != nil {
		span.RecordError(err)
		return Summary{}, fmt.Errorf("open stream: %w", err)
	}
	s.stream = stream

	l.logger.Info("Press Ctrl+C to stop listening")

	var tick <-chan time.Time
	if l.config.SummaryInterval > 0 {
		ticker := time.NewTicker(l.config.SummaryInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(), nil
		case ev := <-s.events:
			s.handle(ev)
		case <-tick:
			l.logger.Info("Listener statistics", "events", s.eventCount, "connected", s.connected,
				"uptime", l.now().Sub(s.started).Round(time.Second))
		}
	}
}

type eventKind int

const (
	evOpen eventKind = iota
	evMessage
	evError
)

type event struct {
	kind eventKind
	data string
	info transport.ErrorInfo
}

// session owns the state of one Run. Only the Run loop touches it.
type session struct {
	listener *Listener
	stream   transport.Stream
	started  time.Time
	span     trace.Span

	eventCount int
	connected  bool

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) handle(ev event) {
	l := s.listener

	switch ev.kind {
	case evOpen:
		s.connected = true
		l.metrics.SetListenerConnected(true)
		s.span.AddEvent("open")
		l.logger.Info("Connected to webstream, waiting for messages")

	case evMessage:
		s.eventCount++
		l.metrics.RecordListenerEvent()
		ts := l.now()
		l.logger.Info("Event received",
			"seq", s.eventCount,
			"time", ts.Format(time.TimeOnly),
			"data", ev.data,
		)
		if l.config.Output != nil {
			fmt.Fprintf(l.config.Output, "#%d %s %s\n", s.eventCount, ts.Format(time.RFC3339), ev.data)
		}

	case evError:
		if s.connected {
			s.connected = false
			l.metrics.SetListenerConnected(false)
			l.metrics.RecordListenerError("lost")
			s.span.AddEvent("lost")
			l.logger.Error("Connection lost", "error", ev.info.String())
		} else {
			l.metrics.RecordListenerError("connect")
			l.logger.Error("Failed to connect to stream", "error", ev.info.String())
		}
		if ev.info.Permanent() {
			l.logger.Warn("Stream failed permanently, transport will not reconnect")
		} else {
			l.logger.Info("Transport will attempt to reconnect")
		}
	}
}

// shutdown closes the stream once and reports the final summary
func (s *session) shutdown() Summary {
	l := s.listener

	l.logger.Info("Shutting down client")
	s.closeOnce.Do(func() {
		if s.stream != nil {
			s.stream.Close()
		}
		close(s.done)
	})
	l.metrics.SetListenerConnected(false)

	summary := Summary{
		Events:    s.eventCount,
		Connected: s.connected,
		Duration:  l.now().Sub(s.started),
	}
	s.span.SetAttributes(attribute.Int("events", summary.Events))
	l.logger.Info("Disconnected from webstream", "total_events", summary.Events)

	return summary
}

// handler forwards transport callbacks to the session loop
type handler struct {
	events chan<- event
	done   <-chan struct{}
}

func (h *handler) send(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *handler) OnOpen()                          { h.send(event{kind: evOpen}) }
func (h *handler) OnMessage(data string)            { h.send(event{kind: evMessage, data: data}) }
func (h *handler) OnError(info transport.ErrorInfo) { h.send(event{kind: evError, info: info}) }
