package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"webstream/internal/config"
	"webstream/internal/listener"
)

const listenUsage = `Consume a stream and log every event until interrupted.

The stream reconnects on its own after network failures. With --config,
edits to the stream settings in the file reopen the stream.

Usage:
  webstream listen [flags]

Flags:
`

type sessionResult struct {
	summary listener.Summary
	err     error
}

func runListen(ctx context.Context, args []string) error {
	var (
		common          commonFlags
		summaryInterval time.Duration
		raw             bool
		watch           bool
	)

	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	common.add(fs)
	fs.DurationVar(&summaryInterval, "summary-interval", 0, "log statistics at this interval (0 disables)")
	fs.BoolVar(&raw, "raw", false, "also print each event to stdout as '#seq timestamp data'")
	fs.BoolVar(&watch, "watch", true, "reopen the stream when the config file's stream settings change")

	if done, err := parse(fs, args, listenUsage); done {
		return err
	}

	summarySeconds, err := wholeSeconds("summary-interval", summaryInterval)
	if err != nil {
		return configError(err)
	}

	logger, err := setupLogging(stderr, common.logLevel, common.logFormat)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	override := func(cfg *config.Config) {
		common.apply(fs, cfg)
		if fs.Changed("summary-interval") {
			cfg.Listener.SummaryInterval = summarySeconds
		}
	}

	cfg, err := loadConfig(common.configPath, override)
	if err != nil {
		return configError(err)
	}

	obs, err := startObservability(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer obs.shutdown()

	reloads := make(chan *config.Config, 1)
	if watch && common.configPath != "" {
		w, err := watchStreamConfig(common.configPath, cfg, override, reloads, logger)
		if err != nil {
			logger.Warn("Config hot reload disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	return superviseListener(ctx, cfg, reloads, func(ctx context.Context, cfg *config.Config) (listener.Summary, error) {
		lc := cfg.Listener.ListenerConfig()
		if raw {
			lc.Output = os.Stdout
		}
		tr, err := newTransport(cfg, logger)
		if err != nil {
			return listener.Summary{}, err
		}
		l := listener.New(lc, tr, logger, obs.metrics)
		return l.Run(ctx, cfg.Stream.URL)
	}, logger)
}

// superviseListener runs one listener session at a time, replacing it when
// a reload with new stream settings arrives
func superviseListener(
	ctx context.Context,
	cfg *config.Config,
	reloads <-chan *config.Config,
	runSession func(ctx context.Context, cfg *config.Config) (listener.Summary, error),
	logger *slog.Logger,
) error {
	for {
		sessionCtx, cancel := context.WithCancel(ctx)
		results := make(chan sessionResult, 1)
		go func(cfg *config.Config) {
			summary, err := runSession(sessionCtx, cfg)
			results <- sessionResult{summary, err}
		}(cfg)

		select {
		case res := <-results:
			cancel()
			return res.err

		case <-ctx.Done():
			res := <-results
			cancel()
			return res.err

		case next := <-reloads:
			cancel()
			res := <-results
			if res.err != nil {
				return res.err
			}
			logger.Info("Stream settings changed, reconnecting",
				"url", next.Stream.URL,
				"events_before_reload", res.summary.Events,
			)
			cfg = next
		}
	}
}

// watchStreamConfig forwards reloaded configurations whose stream settings
// differ from the running ones. Only the latest pending reload is kept.
func watchStreamConfig(
	path string,
	current *config.Config,
	override func(cfg *config.Config),
	reloads chan *config.Config,
	logger *slog.Logger,
) (*config.Watcher, error) {
	w, err := config.NewWatcher(path, config.WatchOptions{
		Debounce: 500 * time.Millisecond,
		OnChange: func(next *config.Config) error {
			override(next)
			if err := config.Validate(next); err != nil {
				return err
			}
			if !config.StreamChanged(current, next) {
				return nil
			}
			current = next

			select {
			case <-reloads:
			default:
			}
			reloads <- next
			return nil
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	w.Start()
	return w, nil
}
