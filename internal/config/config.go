package config

import (
	"fmt"
	"net/http"
	"time"

	"webstream/internal/listener"
	"webstream/internal/probe"
	"webstream/internal/streamserver"
	"webstream/internal/telemetry"
	"webstream/internal/transport"
	tlsconfig "webstream/pkg/tls"
)

// Config holds webstream configuration
type Config struct {
	Stream    Stream           `yaml:"stream"`
	Probe     Probe            `yaml:"probe"`
	Listener  Listener         `yaml:"listener"`
	Server    Server           `yaml:"server"`
	Metrics   Metrics          `yaml:"metrics"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Stream describes the event stream the probe and listener connect to
type Stream struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// Millisecond timeouts and delays
	DialTimeout           int `yaml:"dialTimeout"`
	ResponseHeaderTimeout int `yaml:"responseHeaderTimeout"`
	ReconnectDelay        int `yaml:"reconnectDelay"`
	MaxReconnectDelay     int `yaml:"maxReconnectDelay"`

	TLS tlsconfig.ClientConfig `yaml:"tls"`
}

// Probe configuration
type Probe struct {
	MaxAttempts  int `yaml:"maxAttempts"`
	TimeoutMs    int `yaml:"timeoutMs"`
	RetryDelayMs int `yaml:"retryDelayMs"`
}

// Listener configuration
type Listener struct {
	SummaryInterval int `yaml:"summaryInterval"` // seconds, 0 disables
}

// Server configures the development stream producer
type Server struct {
	Address           string `yaml:"address"`
	KeepaliveInterval int    `yaml:"keepaliveInterval"` // seconds
	ClientBuffer      int    `yaml:"clientBuffer"`
}

// Metrics configures the Prometheus endpoint
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// TransportConfig converts to transport.Config. It fails when the TLS
// files cannot be loaded.
func (s *Stream) TransportConfig() (*transport.Config, error) {
	cfg := transport.DefaultConfig()
	if s.DialTimeout > 0 {
		cfg.DialTimeout = time.Duration(s.DialTimeout) * time.Millisecond
	}
	if s.ResponseHeaderTimeout > 0 {
		cfg.ResponseHeaderTimeout = time.Duration(s.ResponseHeaderTimeout) * time.Millisecond
	}
	if s.ReconnectDelay > 0 {
		cfg.ReconnectDelay = time.Duration(s.ReconnectDelay) * time.Millisecond
	}
	if s.MaxReconnectDelay > 0 {
		cfg.MaxReconnectDelay = time.Duration(s.MaxReconnectDelay) * time.Millisecond
	}
	if len(s.Headers) > 0 {
		cfg.Headers = make(http.Header, len(s.Headers))
		for k, v := range s.Headers {
			cfg.Headers.Set(k, v)
		}
	}

	tlsCfg, err := s.TLS.Build()
	if err != nil {
		return nil, fmt.Errorf("stream tls: %w", err)
	}
	cfg.TLS = tlsCfg
	return cfg, nil
}

// ProbeConfig converts to probe.Config
func (p *Probe) ProbeConfig() probe.Config {
	return probe.Config{
		MaxAttempts: p.MaxAttempts,
		Timeout:     time.Duration(p.TimeoutMs) * time.Millisecond,
		RetryDelay:  time.Duration(p.RetryDelayMs) * time.Millisecond,
	}
}

// ListenerConfig converts to listener.Config
func (l *Listener) ListenerConfig() listener.Config {
	return listener.Config{
		SummaryInterval: time.Duration(l.SummaryInterval) * time.Second,
	}
}

// ServerConfig converts to streamserver.Config
func (s *Server) ServerConfig() streamserver.Config {
	return streamserver.Config{
		KeepaliveInterval: time.Duration(s.KeepaliveInterval) * time.Second,
		ClientBuffer:      s.ClientBuffer,
	}
}
