package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	sse "github.com/tmaxmax/go-sse"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	gwerrors "webstream/pkg/errors"
)

// Config represents SSE transport configuration
type Config struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	ReconnectDelay        time.Duration
	MaxReconnectDelay     time.Duration
	Headers               http.Header
	// TLS applies to https URLs; nil uses the system defaults
	TLS *tls.Config
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:           10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ReconnectDelay:        3 * time.Second,
		MaxReconnectDelay:     30 * time.Second,
	}
}

// SSE opens text/event-stream connections over HTTP. A stream reconnects
// after network failures and server errors, honoring the server's retry
// field, and gives up on responses that tell the client to go away.
type SSE struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

var _ Transport = (*SSE)(nil)

// NewSSE creates a new SSE transport
func NewSSE(config *Config, client *http.Client, logger *slog.Logger) *SSE {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if client == nil {
		// No overall client timeout: streams are long-lived.
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: config.DialTimeout,
				}).DialContext,
				ResponseHeaderTimeout: config.ResponseHeaderTimeout,
				TLSClientConfig:       config.TLS,
			},
		}
	}

	wrapped := *client
	next := wrapped.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	wrapped.Transport = &roundTripper{next: next}

	return &SSE{
		config: config,
		client: &wrapped,
		logger: logger.With("component", "sse-transport"),
	}
}

// Open validates rawURL and starts the stream in the background.
func (t *SSE) Open(ctx context.Context, rawURL string, h Handler) (Stream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, gwerrors.NewError(gwerrors.ErrorTypeBadRequest, "invalid stream URL").WithCause(err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, gwerrors.NewError(gwerrors.ErrorTypeBadRequest,
			fmt.Sprintf("invalid stream URL %q: want http(s)://host/path", rawURL))
	}
	if h == nil {
		return nil, gwerrors.NewError(gwerrors.ErrorTypeBadRequest, "nil stream handler")
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, gwerrors.NewError(gwerrors.ErrorTypeBadRequest, "failed to create SSE request").WithCause(err)
	}
	if t.config.Headers != nil {
		req.Header = t.config.Headers.Clone()
	}
	req.Header.Set("Cache-Control", "no-cache")

	s := &stream{
		ctx:     ctx,
		logger:  t.logger.With("url", u.String()),
		handler: h,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	client := &sse.Client{
		HTTPClient:        t.client,
		ResponseValidator: s.validate,
		OnRetry:           s.retrying,
		Backoff: sse.Backoff{
			InitialInterval: t.config.ReconnectDelay,
			Multiplier:      2,
			Jitter:          0.25,
			MaxInterval:     t.config.MaxReconnectDelay,
		},
	}
	s.conn = client.NewConnection(req)
	s.conn.SubscribeToAll(s.dispatch)

	go s.run()

	return s, nil
}

// stream is one open SSE stream. Every callback below runs on the
// goroutine started by Open.
type stream struct {
	ctx     context.Context
	conn    *sse.Connection
	logger  *slog.Logger
	handler Handler

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}

	// open is set between a validated response and the next failure
	open bool
}

// Close stops the stream. It does not wait for the reader goroutine, so it
// is safe to call from inside a handler callback.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing SSE stream")
		s.cancel()
	})
	return nil
}

// run blocks in Connect until the stream is closed or fails permanently.
// Retryable failures are reported from retrying.
func (s *stream) run() {
	defer close(s.done)

	err := s.conn.Connect()
	if s.ctx.Err() != nil {
		return
	}

	err = s.classify(err)
	s.logger.Debug("SSE stream failed permanently", "error", err)
	s.handler.OnError(errorInfo(err))
}

// validate accepts a 200 text/event-stream response. Errors returned here
// end the stream.
func (s *stream) validate(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/event-stream" {
		return gwerrors.NewError(gwerrors.ErrorTypeBadRequest,
			fmt.Sprintf("invalid content type: %q", resp.Header.Get("Content-Type"))).
			WithDetail("status", resp.StatusCode)
	}

	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	s.open = true
	s.logger.Debug("SSE stream open")
	s.handler.OnOpen()
	return nil
}

// retrying reports a failure the connection is about to recover from
func (s *stream) retrying(err error, delay time.Duration) {
	if s.ctx.Err() != nil {
		return
	}

	err = s.classify(err)
	s.logger.Debug("Reconnecting SSE stream", "delay", delay, "error", err)
	s.handler.OnError(errorInfo(err))
}

// dispatch forwards events that carry data
func (s *stream) dispatch(ev sse.Event) {
	if ev.Data == "" || s.ctx.Err() != nil {
		return
	}
	s.handler.OnMessage(ev.Data)
}

// classify turns a connection error into a typed error and marks the
// stream closed.
func (s *stream) classify(err error) error {
	wasOpen := s.open
	s.open = false

	var connErr *sse.ConnectionError
	if errors.As(err, &connErr) && connErr.Err != nil {
		err = connErr.Err
	}

	var typed *gwerrors.Error
	switch {
	case errors.As(err, &typed):
		return err
	case wasOpen && (err == nil || errors.Is(err, io.EOF)):
		return gwerrors.NewError(gwerrors.ErrorTypeUnavailable, "stream closed by server")
	case wasOpen:
		return gwerrors.NewError(gwerrors.ErrorTypeUnavailable, "stream interrupted").WithCause(err)
	default:
		return dialError(err)
	}
}

// roundTripper adds trace context to every connect attempt and turns
// retryable status codes into transport errors so the connection backs off
// and tries again.
type roundTripper struct {
	next http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && !permanent(statusError(resp.StatusCode)) {
		resp.Body.Close()
		return nil, statusError(resp.StatusCode)
	}
	return resp, nil
}

// dialError classifies a failed request
func dialError(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return gwerrors.NewError(gwerrors.ErrorTypeRefused, "connection refused").WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gwerrors.NewError(gwerrors.ErrorTypeTimeout, "connection timed out").WithCause(err)
	}
	return gwerrors.NewError(gwerrors.ErrorTypeUnavailable, "failed to connect to stream").WithCause(err)
}

// statusError maps a non-200 response to an error type; not_found and
// bad_request are permanent.
func statusError(code int) error {
	var errType gwerrors.ErrorType
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		errType = gwerrors.ErrorTypeNotFound
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		errType = gwerrors.ErrorTypeUnavailable
	default:
		// 204 and the remaining 4xx ask the client to stop.
		errType = gwerrors.ErrorTypeBadRequest
	}

	return gwerrors.NewError(errType, fmt.Sprintf("stream returned status %d", code)).
		WithDetail("status", code)
}

func permanent(err error) bool {
	switch gwerrors.TypeOf(err) {
	case gwerrors.ErrorTypeNotFound, gwerrors.ErrorTypeBadRequest:
		return true
	}
	return false
}

// Retryable reports whether the transport keeps reconnecting after err
func Retryable(err error) bool {
	return err != nil && !permanent(err)
}

// errorInfo flattens err into the callback payload
func errorInfo(err error) ErrorInfo {
	info := ErrorInfo{Err: err}

	var e *gwerrors.Error
	if errors.As(err, &e) {
		info.Message = e.Message
		if status, ok := e.Details["status"].(int); ok {
			info.Status = status
		}
	} else if err != nil {
		info.Message = err.Error()
	}

	return info
}
