package main

import (
	"context"
	"time"

	"github.com/spf13/pflag"

	"webstream/internal/config"
	"webstream/internal/probe"
)

const probeUsage = `Check that a stream delivers at least one event.

Each attempt opens the stream and waits up to --timeout for the first
event. Failed attempts are retried after --retry-delay, up to
--max-attempts in total.

Exit status: 0 when an event arrived, 1 when every attempt failed,
2 on a configuration error.

Usage:
  webstream probe [flags]

Flags:
`

func runProbe(ctx context.Context, args []string) error {
	var (
		common      commonFlags
		maxAttempts int
		timeout     time.Duration
		retryDelay  time.Duration
	)

	fs := pflag.NewFlagSet("probe", pflag.ContinueOnError)
	common.add(fs)
	fs.IntVarP(&maxAttempts, "max-attempts", "n", 3, "maximum number of attempts")
	fs.DurationVarP(&timeout, "timeout", "t", 5*time.Second, "time to wait for the first event per attempt")
	fs.DurationVar(&retryDelay, "retry-delay", 2*time.Second, "delay between attempts")

	if done, err := parse(fs, args, probeUsage); done {
		return err
	}

	logger, err := setupLogging(stderr, common.logLevel, common.logFormat)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	cfg, err := loadConfig(common.configPath, func(cfg *config.Config) {
		common.apply(fs, cfg)
		if fs.Changed("max-attempts") {
			cfg.Probe.MaxAttempts = maxAttempts
		}
		if fs.Changed("timeout") {
			cfg.Probe.TimeoutMs = durationMs(timeout)
		}
		if fs.Changed("retry-delay") {
			cfg.Probe.RetryDelayMs = durationMs(retryDelay)
		}
	})
	if err != nil {
		return configError(err)
	}

	tr, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}

	obs, err := startObservability(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer obs.shutdown()

	p := probe.New(cfg.Probe.ProbeConfig(), tr, logger, obs.metrics)
	outcome, err := p.Run(ctx, cfg.Stream.URL)
	if err != nil {
		return err
	}

	if code := outcome.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
