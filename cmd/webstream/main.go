// Command webstream probes, listens to and serves server-sent event streams.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

// exitError carries a process exit code out of a subcommand
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) ExitCode() int { return e.code }

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	cancel()

	if err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			if e, ok := err.(*exitError); !ok || e.err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return &exitError{code: 2}
	}

	switch args[0] {
	case "listen":
		return runListen(ctx, args[1:])
	case "probe":
		return runProbe(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	case "version", "--version":
		fmt.Println("webstream", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return &exitError{code: 2, err: fmt.Errorf("unknown command %q", args[0])}
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `webstream: diagnostics for server-sent event streams.

Usage:
  webstream <command> [flags]

Commands:
  listen   Consume a stream and log every event until interrupted
  probe    Check that a stream delivers an event; exits 0 on success, 1 on failure
  serve    Run a development stream server with a push API
  version  Print the version

Run "webstream <command> --help" for the flags of a command.
Every setting can also come from a YAML file (--config) or from
WEBSTREAM_* environment variables.
`)
}
