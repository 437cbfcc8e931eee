package main

import (
	"context"
	"log/slog"
	"time"

	"webstream/internal/config"
	internalmetrics "webstream/internal/metrics"
	"webstream/internal/telemetry"
	"webstream/internal/transport"
	"webstream/pkg/metrics"
)

// observability holds the process-wide telemetry and metrics
type observability struct {
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// startObservability starts telemetry and, when enabled, the metrics
// endpoint, which stops with ctx
func startObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability, error) {
	telemetryConfig := cfg.Telemetry
	if telemetryConfig.Version == "" || telemetryConfig.Version == "dev" {
		telemetryConfig.Version = version
	}
	tel, err := telemetry.New(ctx, telemetryConfig)
	if err != nil {
		return nil, err
	}

	o := &observability{telemetry: tel, logger: logger}

	if cfg.Metrics.Enabled {
		o.metrics = metrics.New()
		go func() {
			if err := internalmetrics.Serve(ctx, cfg.Metrics.Address, cfg.Metrics.Path, logger); err != nil {
				logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	return o, nil
}

func (o *observability) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.telemetry.Shutdown(ctx); err != nil {
		o.logger.Warn("Telemetry shutdown failed", "error", err)
	}
}

func newTransport(cfg *config.Config, logger *slog.Logger) (*transport.SSE, error) {
	tc, err := cfg.Stream.TransportConfig()
	if err != nil {
		return nil, configError(err)
	}
	return transport.NewSSE(tc, nil, logger), nil
}
