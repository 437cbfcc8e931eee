package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"webstream/internal/config"
	gwerrors "webstream/pkg/errors"
)

var stderr io.Writer = os.Stderr

// commonFlags are shared by every subcommand
type commonFlags struct {
	configPath  string
	url         string
	headers     map[string]string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVarP(&c.url, "url", "u", "", "stream URL (default from config: http://localhost:8000/stream)")
	fs.StringToStringVarP(&c.headers, "header", "H", nil, "request header as name=value (repeatable)")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (enables metrics)")
	fs.BoolP("help", "h", false, "show help")
}

// apply copies explicitly set flags over cfg
func (c *commonFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("url") {
		cfg.Stream.URL = c.url
	}
	if fs.Changed("header") {
		if cfg.Stream.Headers == nil {
			cfg.Stream.Headers = make(map[string]string, len(c.headers))
		}
		for k, v := range c.headers {
			cfg.Stream.Headers[k] = v
		}
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Enabled = c.metricsAddr != ""
		cfg.Metrics.Address = c.metricsAddr
	}
}

// parse parses args, handling --help. It returns done=true when the command
// should exit without running.
func parse(fs *pflag.FlagSet, args []string, usage string) (bool, error) {
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return true, &exitError{code: 2, err: err}
	}
	if help, _ := fs.GetBool("help"); help {
		fs.Usage()
		return true, nil
	}
	if fs.NArg() > 0 {
		return true, &exitError{code: 2, err: fmt.Errorf("unexpected argument: %s", fs.Arg(0))}
	}
	return false, nil
}

// loadConfig loads file and environment settings, applies the flag
// overrides and validates the result
func loadConfig(path string, override func(cfg *config.Config)) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	override(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configError turns a load failure into exit status 2
func configError(err error) error {
	return &exitError{code: 2, err: gwerrors.Wrap(err, "configuration")}
}

// wholeSeconds converts a duration flag for a config field kept in seconds.
// Fractional and negative values are rejected rather than truncated.
func wholeSeconds(flag string, d time.Duration) (int, error) {
	if d < 0 || d%time.Second != 0 {
		return 0, gwerrors.NewError(gwerrors.ErrorTypeBadRequest,
			fmt.Sprintf("--%s must be a whole number of seconds, got %s", flag, d))
	}
	return int(d / time.Second), nil
}

func durationMs(d time.Duration) int {
	return int(d / time.Millisecond)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func setupLogging(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
