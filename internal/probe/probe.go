// Package probe checks that an SSE stream is reachable by making a bounded
// number of connection attempts, each waiting for the first event.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"webstream/internal/retry"
	"webstream/internal/transport"
	"webstream/pkg/metrics"
)

// Config holds probe configuration
type Config struct {
	MaxAttempts int
	Timeout     time.Duration
	RetryDelay  time.Duration
}

// DefaultConfig returns the default probe configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Timeout:     5 * time.Second,
		RetryDelay:  2 * time.Second,
	}
}

// Status is the terminal state of a probe run
type Status int

const (
	StatusSucceeded Status = iota + 1
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome is the result of a probe run
type Outcome struct {
	Status Status
	// Payload is the data of the first event, set on success.
	Payload string
	// Attempts is the number of attempts made.
	Attempts int
	// LastFailure classifies the last failed attempt.
	LastFailure FailureKind
}

// ExitCode maps the outcome to a process exit code
func (o Outcome) ExitCode() int {
	if o.Status == StatusSucceeded {
		return 0
	}
	return 1
}

// Probe runs connection attempts against a transport
type Probe struct {
	config    Config
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	duration  metric.Float64Histogram

	wait     func(ctx context.Context, d time.Duration) error
	newTimer func(d time.Duration) *timer
}

// New creates a new probe. m may be nil.
func New(config Config, t transport.Transport, logger *slog.Logger, m *metrics.Metrics) *Probe {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Probe{
		config:    config,
		transport: t,
		logger:    logger.With("component", "probe"),
		metrics:   m,
		tracer:    otel.Tracer("webstream/probe"),
		wait:      retry.Wait,
		newTimer:  newTimer,
	}

	duration, err := otel.Meter("webstream/probe").Float64Histogram(
		"webstream.probe.attempt.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of probe attempts"),
	)
	if err != nil {
		p.logger.Warn("Failed to create attempt duration histogram", "error", err)
	} else {
		p.duration = duration
	}

	return p
}

// Run probes url until an attempt receives an event or the attempt budget
// is spent. The returned error is non-nil only when ctx ends the run.
func (p *Probe) Run(ctx context.Context, url string) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "probe.run",
		trace.WithAttributes(
			attribute.String("url", url),
			attribute.Int("max_attempts", p.config.MaxAttempts),
		),
	)
	defer span.End()

	p.logger.Info("WebStream connection test", "url", url,
		"max_attempts", p.config.MaxAttempts,
		"timeout", p.config.Timeout,
		"retry_delay", p.config.RetryDelay,
	)

	var last FailureKind
	for n := 1; ; n++ {
		res, err := p.runAttempt(ctx, url, n)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "probe cancelled")
			return Outcome{Attempts: n, LastFailure: last}, err
		}

		if res.succeeded {
			p.metrics.RecordProbeRun(StatusSucceeded.String())
			span.SetStatus(codes.Ok, "")
			span.SetAttributes(attribute.Int("attempts", n))
			p.logger.Info("TEST PASSED: webstream is working", "attempts", n)
			return Outcome{Status: StatusSucceeded, Payload: res.payload, Attempts: n}, nil
		}

		last = res.failure
		if n >= p.config.MaxAttempts {
			p.metrics.RecordProbeRun(StatusExhausted.String())
			span.SetStatus(codes.Error, "attempts exhausted")
			span.SetAttributes(attribute.Int("attempts", n))
			p.reportExhausted(n, last)
			return Outcome{Status: StatusExhausted, Attempts: n, LastFailure: last}, nil
		}

		p.logger.Info("Retrying", "delay", p.config.RetryDelay, "next_attempt", n+1)
		if err := p.wait(ctx, p.config.RetryDelay); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "probe cancelled")
			return Outcome{Attempts: n, LastFailure: last}, err
		}
	}
}

// runAttempt opens one stream and waits for its first terminal event.
func (p *Probe) runAttempt(ctx context.Context, url string, n int) (attemptResult, error) {
	ctx, span := p.tracer.Start(ctx, "probe.attempt", trace.WithAttributes(attribute.Int("attempt", n)))
	defer span.End()

	start := time.Now()
	logger := p.logger.With("attempt", fmt.Sprintf("%d/%d", n, p.config.MaxAttempts))
	logger.Info("Connecting", "url", url)

	a := newAttempt(n, p.newTimer(p.config.Timeout))
	h := &handler{events: a.events, done: a.done}

	stream, err := p.transport.Open(ctx, url, h)
	if err != nil {
		// A stream that cannot even be constructed fails the attempt like
		// an error callback would.
		res, _ := a.handle(event{kind: evError, info: transport.ErrorInfo{Message: err.Error(), Err: err}})
		p.record(ctx, span, logger, res, start)
		return res, nil
	}
	a.stream = &onceStream{Stream: stream}

	for {
		var ev event
		select {
		case <-ctx.Done():
			a.finish()
			return attemptResult{}, ctx.Err()
		case <-a.timer.C():
			ev = event{kind: evTimeout}
		case ev = <-a.events:
		}

		if ev.kind == evOpen {
			logger.Info("Connection successful, waiting for initial message")
			span.AddEvent("open")
			continue
		}

		if res, terminal := a.handle(ev); terminal {
			p.record(ctx, span, logger, res, start)
			return res, nil
		}
	}
}

// record logs and measures a finished attempt
func (p *Probe) record(ctx context.Context, span trace.Span, logger *slog.Logger, res attemptResult, start time.Time) {
	result := "success"
	if res.succeeded {
		logger.Info("Received data", "data", res.payload)
		span.SetStatus(codes.Ok, "")
	} else {
		result = res.failure.String()
		if res.failure == FailureTimeout {
			logger.Warn(fmt.Sprintf("Connection timeout (%s)", p.config.Timeout))
		} else {
			logger.Warn(describe(res.failure, res.info), "kind", result)
		}
		span.SetStatus(codes.Error, result)
	}

	span.SetAttributes(attribute.String("result", result))
	p.metrics.RecordProbeAttempt(result)
	if p.duration != nil {
		p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("result", result)))
	}
}

// failureHints are troubleshooting suggestions keyed by the last failure
var failureHints = map[FailureKind][]string{
	FailureConnectionRefused: {
		"the stream server is not running",
		"the port is blocked or used by another service",
		"start a development server with: webstream serve",
	},
	FailureEndpointNotFound: {
		"the server is up but the stream path is wrong",
		"check the URL path, the development server streams on /stream",
	},
	FailureTimeout: {
		"the server accepted the connection but sent no event in time",
		"push a message while probing, e.g. POST /api/push",
		"raise --timeout if the producer is slow",
	},
	FailureTransport: {
		"the server answered with an unexpected response",
		"check the server logs",
	},
}

func (p *Probe) reportExhausted(attempts int, last FailureKind) {
	p.logger.Error("TEST FAILED: could not connect to webstream",
		"attempts", attempts,
		"last_failure", last.String(),
	)
	for _, hint := range failureHints[last] {
		p.logger.Info("Possible reason", "hint", hint)
	}
}
