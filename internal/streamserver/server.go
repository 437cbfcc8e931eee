package streamserver

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"webstream/internal/health"
	"webstream/pkg/errors"
	"webstream/pkg/metrics"
)

const maxPushBytes = 1 << 20

// Config represents stream server configuration
type Config struct {
	KeepaliveInterval time.Duration
	ClientBuffer      int
	Version           string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		KeepaliveInterval: 15 * time.Second,
		ClientBuffer:      64,
	}
}

// Option configures a Server
type Option func(*Server)

// WithMiddleware wraps every route of the server
func WithMiddleware(wrap func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.handler = wrap(s.handler)
	}
}

// Server is a development event producer: clients subscribe on /stream
// and messages posted to /api/push are broadcast to all of them.
type Server struct {
	config  Config
	hub     *Hub
	checker *health.Checker
	logger  *slog.Logger
	handler http.Handler
	now     func() time.Time
}

// New creates a stream server
func New(config Config, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Server {
	defaults := DefaultConfig()
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = defaults.KeepaliveInterval
	}
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = defaults.ClientBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  config,
		hub:     NewHub(config.ClientBuffer, m, logger),
		checker: health.NewChecker(),
		logger:  logger.With("component", "stream-server"),
		now:     time.Now,
	}

	s.checker.Register("hub", health.CustomCheck(func() error {
		if s.hub.Closed() {
			return errors.NewError(errors.ErrorTypeUnavailable, "hub closed")
		}
		return nil
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("POST /api/push", s.handlePush)
	mux.HandleFunc("GET /api/clients", s.handleClients)
	health.NewHandler(s.checker, config.Version).Register(mux)
	s.handler = mux

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the subscriber hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Checker returns the health checker so callers can add checks
func (s *Server) Checker() *health.Checker {
	return s.checker
}

// ListenAndServe serves on addr until ctx is done, then disconnects the
// subscribers and shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewError(errors.ErrorTypeUnavailable, "failed to listen").
			WithCause(err).
			WithDetail("address", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	s.logger.Info("Stream server listening",
		"address", ln.Addr().String(),
		"stream", "/stream",
		"push", "/api/push",
	)

	select {
	case err := <-errCh:
		s.hub.Close()
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down stream server", "clients", s.hub.Count())
	// Streams never finish on their own; closing the hub ends them.
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "stream server shutdown failed").WithCause(err)
	}
	return nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, errors.NewError(errors.ErrorTypeInternal, "streaming not supported"))
		return
	}

	sub, err := s.hub.Subscribe(r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := newWriter(w)

	// Greet new clients so a probe sees data without waiting for a push.
	welcome, _ := json.Marshal(map[string]any{
		"message":   "connected",
		"client_id": sub.ID,
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
	if err := sw.WriteEvent(Event{Type: "connected", Data: string(welcome)}); err != nil {
		s.logger.Debug("Failed to greet client", "client_id", sub.ID, "error", err)
		return
	}

	keepalive := time.NewTicker(s.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sw.WriteEvent(ev); err != nil {
				s.logger.Debug("Failed to write event", "client_id", sub.ID, "error", err)
				return
			}

		case <-keepalive.C:
			if err := sw.WriteComment("keepalive"); err != nil {
				return
			}
		}
	}
}

type pushRequest struct {
	Message string `json:"message"`
}

type pushResponse struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
	EventID         string `json:"event_id"`
	ClientsNotified int    `json:"clients_notified"`
	TotalClients    int    `json:"total_clients"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBytes)).Decode(&req); err != nil {
		writeError(w, errors.NewError(errors.ErrorTypeBadRequest, "invalid JSON body").WithCause(err))
		return
	}
	if req.Message == "" {
		writeError(w, errors.NewError(errors.ErrorTypeBadRequest, "Message is required"))
		return
	}

	timestamp := s.now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(map[string]string{
		"message":   req.Message,
		"timestamp": timestamp,
	})
	if err != nil {
		writeError(w, errors.NewError(errors.ErrorTypeInternal, "failed to encode event").WithCause(err))
		return
	}

	ev, delivered := s.hub.Publish("message", string(data))
	s.logger.Info("Message pushed", "event_id", ev.ID, "clients_notified", delivered)

	writeJSON(w, http.StatusOK, pushResponse{
		Status:          "success",
		Message:         req.Message,
		Timestamp:       timestamp,
		EventID:         ev.ID,
		ClientsNotified: delivered,
		TotalClients:    s.hub.Count(),
	})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := s.hub.Clients()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(clients),
		"clients": clients,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	var e *errors.Error
	if stderrors.As(err, &e) {
		status = e.HTTPStatusCode()
		body = map[string]any{"error": e.Message, "type": e.Type}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
