package config

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// WatchOptions control how a Watcher reacts to edits
type WatchOptions struct {
	// Debounce is how long the file must stay quiet before it is reloaded
	Debounce time.Duration
	// OnChange receives every configuration that loaded and validated
	OnChange func(cfg *Config) error
	// OnError receives reload failures. The running configuration stays.
	OnError func(err error)
}

// Watcher reloads a configuration file when it changes on disk. It watches
// the parent directory, so files replaced by rename are picked up too.
type Watcher struct {
	path   string
	opts   WatchOptions
	fs     *fsnotify.Watcher
	load   func(path string) (*Config, error)
	logger *slog.Logger

	started  atomic.Bool
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWatcher prepares a watcher for path. The file must exist.
func NewWatcher(path string, opts WatchOptions, logger *slog.Logger) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:    abs,
		opts:    opts,
		fs:      fsw,
		load:    Load,
		logger:  logger.With("component", "config-watcher"),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Start runs the watch loop in the background
func (w *Watcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
	w.logger.Info("Watching configuration", "file", w.path)
}

// Stop ends the watch loop and drops any pending reload. It may be called
// more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		if w.started.Load() {
			<-w.stopped
		}
		err = w.fs.Close()
	})
	return err
}

// Path returns the absolute path of the watched file
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) run() {
	defer close(w.stopped)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.touches(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			pending = timer.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.fail(fmt.Errorf("file watcher: %w", err))

		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

// touches reports whether ev may have changed the watched file's content
func (w *Watcher) touches(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.logger.Warn("Configuration file moved away, waiting for it to return", "file", w.path)
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

func (w *Watcher) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		w.fail(err)
		return
	}
	if w.opts.OnChange != nil {
		if err := w.opts.OnChange(cfg); err != nil {
			w.fail(err)
			return
		}
	}
	w.logger.Info("Configuration reloaded", "file", w.path)
}

func (w *Watcher) fail(err error) {
	w.logger.Error("Configuration reload failed", "file", w.path, "error", err)
	if w.opts.OnError != nil {
		w.opts.OnError(err)
	}
}

// StreamChanged reports whether a reload changed the stream connection
// settings, which requires reopening the stream.
func StreamChanged(old, updated *Config) bool {
	if old == nil || updated == nil {
		return old != updated
	}
	a, b := old.Stream, updated.Stream
	return a.URL != b.URL ||
		a.DialTimeout != b.DialTimeout ||
		a.ResponseHeaderTimeout != b.ResponseHeaderTimeout ||
		a.ReconnectDelay != b.ReconnectDelay ||
		a.MaxReconnectDelay != b.MaxReconnectDelay ||
		a.TLS != b.TLS ||
		!maps.Equal(a.Headers, b.Headers)
}
