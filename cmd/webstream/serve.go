package main

import (
	"context"
	"net"
	"time"

	"github.com/spf13/pflag"

	"webstream/internal/config"
	"webstream/internal/health"
	"webstream/internal/middleware"
	"webstream/internal/streamserver"
	"webstream/internal/telemetry"
)

const serveUsage = `Run a development stream server.

Endpoints:
  GET  /stream       text/event-stream of pushed messages
  POST /api/push     broadcast {"message": "..."} to every subscriber
  GET  /api/clients  connected subscribers
  GET  /health, /ready, /live

Usage:
  webstream serve [flags]

Flags:
`

func runServe(ctx context.Context, args []string) error {
	var (
		common    commonFlags
		addr      string
		keepalive time.Duration
	)

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	common.add(fs)
	fs.StringVarP(&addr, "addr", "a", ":8000", "listen address")
	fs.DurationVar(&keepalive, "keepalive", 15*time.Second, "interval between keepalive comments")

	if done, err := parse(fs, args, serveUsage); done {
		return err
	}

	keepaliveSeconds, err := wholeSeconds("keepalive", keepalive)
	if err != nil {
		return configError(err)
	}

	logger, err := setupLogging(stderr, common.logLevel, common.logFormat)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	cfg, err := loadConfig(common.configPath, func(cfg *config.Config) {
		common.apply(fs, cfg)
		if fs.Changed("addr") {
			cfg.Server.Address = addr
		}
		if fs.Changed("keepalive") {
			cfg.Server.KeepaliveInterval = keepaliveSeconds
		}
	})
	if err != nil {
		return configError(err)
	}

	obs, err := startObservability(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer obs.shutdown()

	mw, err := telemetry.NewMiddleware(obs.telemetry)
	if err != nil {
		return err
	}

	serverConfig := cfg.Server.ServerConfig()
	serverConfig.Version = version
	chain := middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logging(logger),
		mw.WrapHTTP,
	)
	server := streamserver.New(serverConfig, obs.metrics, logger, streamserver.WithMiddleware(chain))
	server.Checker().Register("stream", health.StreamCheck(selfURL(cfg.Server.Address)+"/stream", 2*time.Second))

	return server.ListenAndServe(ctx, cfg.Server.Address)
}

// selfURL returns a loopback base URL for a listen address
func selfURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
