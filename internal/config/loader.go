package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"webstream/pkg/errors"
)

// Loader loads configuration from the embedded defaults, an optional file
// and the environment, in that order
type Loader struct {
	path       string
	envEnabled bool
}

// NewLoader creates a config loader. An empty path loads only the defaults
// and the environment.
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true,
	}
}

// WithEnvVars enables or disables environment variable loading
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// Load loads the configuration
func (l *Loader) Load() (*Config, error) {
	cfg, err := LoadDefault()
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse default config").WithCause(err)
	}

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeBadRequest, "failed to read config file").
				WithCause(err).
				WithDetail("path", l.path)
		}
		// Fields absent from the file keep their defaults.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeBadRequest, "failed to parse config").
				WithCause(err).
				WithDetail("path", l.path)
		}
	}

	if l.envEnabled {
		if err := LoadEnv(cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeBadRequest, "failed to load env vars").WithCause(err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load loads the configuration at path with environment overrides
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Validate checks the configuration. Callers that apply flag overrides
// validate again afterwards.
func Validate(cfg *Config) error {
	if err := validate(cfg); err != nil {
		return errors.NewError(errors.ErrorTypeBadRequest, "invalid configuration").WithCause(err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Stream.URL == "" {
		return fmt.Errorf("stream URL is required")
	}
	u, err := url.Parse(cfg.Stream.URL)
	if err != nil {
		return fmt.Errorf("stream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("stream URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("stream URL has no host")
	}

	if cfg.Stream.DialTimeout < 0 || cfg.Stream.ResponseHeaderTimeout < 0 {
		return fmt.Errorf("stream timeouts must not be negative")
	}
	if cfg.Stream.ReconnectDelay < 0 || cfg.Stream.MaxReconnectDelay < 0 {
		return fmt.Errorf("stream reconnect delays must not be negative")
	}
	if cfg.Stream.MaxReconnectDelay > 0 && cfg.Stream.ReconnectDelay > cfg.Stream.MaxReconnectDelay {
		return fmt.Errorf("stream reconnectDelay %d exceeds maxReconnectDelay %d",
			cfg.Stream.ReconnectDelay, cfg.Stream.MaxReconnectDelay)
	}

	if err := cfg.Stream.TLS.Validate(); err != nil {
		return fmt.Errorf("stream tls: %w", err)
	}

	if cfg.Probe.MaxAttempts < 1 {
		return fmt.Errorf("probe maxAttempts must be at least 1, got %d", cfg.Probe.MaxAttempts)
	}
	if cfg.Probe.TimeoutMs <= 0 {
		return fmt.Errorf("probe timeoutMs must be positive, got %d", cfg.Probe.TimeoutMs)
	}
	if cfg.Probe.RetryDelayMs < 0 {
		return fmt.Errorf("probe retryDelayMs must not be negative, got %d", cfg.Probe.RetryDelayMs)
	}

	if cfg.Listener.SummaryInterval < 0 {
		return fmt.Errorf("listener summaryInterval must not be negative")
	}

	if cfg.Server.KeepaliveInterval < 0 || cfg.Server.ClientBuffer < 0 {
		return fmt.Errorf("server keepaliveInterval and clientBuffer must not be negative")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Address == "" {
			return fmt.Errorf("metrics address is required when metrics are enabled")
		}
		if cfg.Metrics.Path == "" || cfg.Metrics.Path[0] != '/' {
			return fmt.Errorf("metrics path must start with /, got %q", cfg.Metrics.Path)
		}
	}

	if r := cfg.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		return fmt.Errorf("telemetry sampleRate must be within [0, 1], got %v", r)
	}

	return nil
}
