package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"webstream/internal/transport"
	"webstream/pkg/metrics"
)

type fakeStream struct {
	closes atomic.Int32
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeTransport runs script for every Open; script may call the handler
// synchronously or return an error to fail construction.
type fakeTransport struct {
	mu      sync.Mutex
	opens   int
	streams []*fakeStream
	script  func(n int, h transport.Handler) error
}

func (f *fakeTransport) Open(ctx context.Context, url string, h transport.Handler) (transport.Stream, error) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	f.mu.Unlock()

	if f.script != nil {
		if err := f.script(n, h); err != nil {
			return nil, err
		}
	}

	s := &fakeStream{}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeTransport) assertClosedOnce(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.streams {
		if got := s.closes.Load(); got != 1 {
			t.Errorf("stream %d closed %d times, want 1", i+1, got)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProbe returns a probe whose retry waits are recorded, not slept
func newTestProbe(config Config, tr transport.Transport, m *metrics.Metrics) (*Probe, *[]time.Duration) {
	p := New(config, tr, discardLogger(), m)
	var waits []time.Duration
	p.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return p, &waits
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.MaxAttempts != 3 || c.Timeout != 5*time.Second || c.RetryDelay != 2*time.Second {
		t.Errorf("DefaultConfig() = %+v", c)
	}
}

func TestProbe_AllAttemptsTimeOut(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("max_attempts=%d", n), func(t *testing.T) {
			tr := &fakeTransport{}
			p, waits := newTestProbe(Config{MaxAttempts: n, Timeout: 10 * time.Millisecond, RetryDelay: 2 * time.Second}, tr, nil)

			outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if outcome.Status != StatusExhausted {
				t.Errorf("Status = %v, want exhausted", outcome.Status)
			}
			if outcome.ExitCode() != 1 {
				t.Errorf("ExitCode() = %d, want 1", outcome.ExitCode())
			}
			if outcome.Attempts != n || tr.opens != n {
				t.Errorf("attempts = %d, opens = %d, want %d", outcome.Attempts, tr.opens, n)
			}
			if outcome.LastFailure != FailureTimeout {
				t.Errorf("LastFailure = %v, want timeout", outcome.LastFailure)
			}
			if len(*waits) != n-1 {
				t.Fatalf("waited %d times, want %d", len(*waits), n-1)
			}
			for _, w := range *waits {
				if w != 2*time.Second {
					t.Errorf("retry delay = %v, want 2s", w)
				}
			}
			tr.assertClosedOnce(t)
		})
	}
}

func TestProbe_SucceedsOnAttemptK(t *testing.T) {
	for k := 1; k <= 3; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			tr := &fakeTransport{script: func(n int, h transport.Handler) error {
				if n == k {
					h.OnOpen()
					h.OnMessage(fmt.Sprintf("payload-%d", n))
				}
				return nil
			}}
			p, waits := newTestProbe(Config{MaxAttempts: 3, Timeout: 10 * time.Millisecond, RetryDelay: time.Second}, tr, nil)

			outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if outcome.Status != StatusSucceeded || outcome.ExitCode() != 0 {
				t.Fatalf("outcome = %+v, want success", outcome)
			}
			if outcome.Payload != fmt.Sprintf("payload-%d", k) {
				t.Errorf("Payload = %q", outcome.Payload)
			}
			if tr.opens != k {
				t.Errorf("opens = %d, want %d", tr.opens, k)
			}
			if len(*waits) != k-1 {
				t.Errorf("waits = %d, want %d", len(*waits), k-1)
			}
			tr.assertClosedOnce(t)
		})
	}
}

// Three attempts that never open: three timeouts, two 2s delays, exit 1.
func TestProbe_ScenarioA(t *testing.T) {
	tr := &fakeTransport{}
	p, waits := newTestProbe(Config{MaxAttempts: 3, Timeout: 20 * time.Millisecond, RetryDelay: 2000 * time.Millisecond}, tr, nil)

	outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.ExitCode() != 1 || outcome.Attempts != 3 {
		t.Errorf("outcome = %+v, want 3 attempts and exit 1", outcome)
	}
	if len(*waits) != 2 || (*waits)[0] != 2*time.Second || (*waits)[1] != 2*time.Second {
		t.Errorf("waits = %v, want [2s 2s]", *waits)
	}
}

// Attempt 1 times out, attempt 2 gets "hello".
func TestProbe_ScenarioB(t *testing.T) {
	tr := &fakeTransport{script: func(n int, h transport.Handler) error {
		if n == 2 {
			h.OnMessage("hello")
		}
		return nil
	}}
	p, _ := newTestProbe(Config{MaxAttempts: 3, Timeout: 20 * time.Millisecond, RetryDelay: time.Second}, tr, nil)

	outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.ExitCode() != 0 || outcome.Payload != "hello" || outcome.Attempts != 2 {
		t.Errorf("outcome = %+v, want success with hello after 2 attempts", outcome)
	}
	if tr.opens != 2 {
		t.Errorf("opens = %d, want 2", tr.opens)
	}
}

// A 404 on attempt 1 is classified and retried after the delay.
func TestProbe_ScenarioD(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)

	tr := &fakeTransport{script: func(n int, h transport.Handler) error {
		if n == 1 {
			h.OnError(transport.ErrorInfo{Status: 404, Message: "stream returned status 404"})
		}
		return nil
	}}
	p, waits := newTestProbe(Config{MaxAttempts: 3, Timeout: 20 * time.Millisecond, RetryDelay: 2 * time.Second}, tr, m)

	outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if tr.opens != 3 {
		t.Errorf("opens = %d, want 3", tr.opens)
	}
	if len(*waits) < 1 || (*waits)[0] != 2*time.Second {
		t.Errorf("waits = %v, want retry after 2s", *waits)
	}
	if got := testutil.ToFloat64(m.ProbeAttemptsTotal.WithLabelValues("endpoint_not_found")); got != 1 {
		t.Errorf("endpoint_not_found attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProbeAttemptsTotal.WithLabelValues("timeout")); got != 2 {
		t.Errorf("timeout attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ProbeRunsTotal.WithLabelValues("exhausted")); got != 1 {
		t.Errorf("exhausted runs = %v, want 1", got)
	}
	if outcome.LastFailure != FailureTimeout {
		t.Errorf("LastFailure = %v, want timeout", outcome.LastFailure)
	}
	tr.assertClosedOnce(t)
}

func TestProbe_ErrorsAreRetriedLikeTimeouts(t *testing.T) {
	tr := &fakeTransport{script: func(n int, h transport.Handler) error {
		h.OnError(transport.ErrorInfo{Err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED)})
		return nil
	}}
	p, waits := newTestProbe(Config{MaxAttempts: 3, Timeout: time.Hour, RetryDelay: time.Second}, tr, nil)

	outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.Status != StatusExhausted || outcome.Attempts != 3 {
		t.Errorf("outcome = %+v", outcome)
	}
	if outcome.LastFailure != FailureConnectionRefused {
		t.Errorf("LastFailure = %v, want connection_refused", outcome.LastFailure)
	}
	if len(*waits) != 2 {
		t.Errorf("waits = %d, want 2", len(*waits))
	}
	tr.assertClosedOnce(t)
}

func TestProbe_ConstructionFailureCountsAsError(t *testing.T) {
	tr := &fakeTransport{script: func(n int, h transport.Handler) error {
		if n == 1 {
			return errors.New("bad url")
		}
		h.OnMessage("ok")
		return nil
	}}
	p, waits := newTestProbe(Config{MaxAttempts: 2, Timeout: time.Hour, RetryDelay: time.Second}, tr, nil)

	outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Status != StatusSucceeded || outcome.Attempts != 2 {
		t.Errorf("outcome = %+v, want success on attempt 2", outcome)
	}
	if len(*waits) != 1 {
		t.Errorf("waits = %d, want 1", len(*waits))
	}
}

func TestProbe_OnlyFirstTerminalEventCounts(t *testing.T) {
	tests := []struct {
		name        string
		script      func(h transport.Handler)
		wantStatus  Status
		wantPayload string
	}{
		{
			name: "second message ignored",
			script: func(h transport.Handler) {
				h.OnMessage("first")
				h.OnMessage("second")
			},
			wantStatus:  StatusSucceeded,
			wantPayload: "first",
		},
		{
			name: "error after message ignored",
			script: func(h transport.Handler) {
				h.OnMessage("data")
				h.OnError(transport.ErrorInfo{Message: "dropped"})
			},
			wantStatus:  StatusSucceeded,
			wantPayload: "data",
		},
		{
			name: "message after error ignored",
			script: func(h transport.Handler) {
				h.OnError(transport.ErrorInfo{Message: "dropped"})
				h.OnMessage("late")
			},
			wantStatus: StatusExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{script: func(n int, h transport.Handler) error {
				tt.script(h)
				return nil
			}}
			p, _ := newTestProbe(Config{MaxAttempts: 1, Timeout: time.Hour}, tr, nil)

			outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if outcome.Status != tt.wantStatus || outcome.Payload != tt.wantPayload {
				t.Errorf("outcome = %+v", outcome)
			}
			tr.assertClosedOnce(t)
		})
	}
}

// A deadline that expires while a message is already queued must still
// produce exactly one terminal action.
func TestProbe_TimeoutAndMessageSameTick(t *testing.T) {
	for i := 0; i < 50; i++ {
		var logs bytes.Buffer
		tr := &fakeTransport{script: func(n int, h transport.Handler) error {
			h.OnMessage("racy")
			return nil
		}}
		p := New(Config{MaxAttempts: 1, Timeout: time.Nanosecond}, tr, slog.New(slog.NewTextHandler(&logs, nil)), nil)
		// Make sure the deadline has fired before the loop looks at it.
		p.newTimer = func(d time.Duration) *timer {
			tm := newTimer(d)
			time.Sleep(time.Millisecond)
			return tm
		}

		outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		terminal := strings.Count(logs.String(), "Received data") + strings.Count(logs.String(), "Connection timeout")
		if terminal != 1 {
			t.Fatalf("iteration %d: %d terminal log lines, want 1\n%s", i, terminal, logs.String())
		}
		if outcome.Status == StatusSucceeded && outcome.Payload != "racy" {
			t.Fatalf("Payload = %q", outcome.Payload)
		}
		tr.assertClosedOnce(t)
	}
}

func TestProbe_EachTimerStoppedOnce(t *testing.T) {
	tests := []struct {
		name   string
		script func(n int, h transport.Handler) error
	}{
		{"timeouts", nil},
		{"errors", func(n int, h transport.Handler) error {
			h.OnError(transport.ErrorInfo{Status: 503})
			h.OnError(transport.ErrorInfo{Status: 503})
			return nil
		}},
		{"success on last attempt", func(n int, h transport.Handler) error {
			if n == 3 {
				h.OnOpen()
				h.OnMessage("ok")
			}
			return nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{script: tt.script}
			p, _ := newTestProbe(Config{MaxAttempts: 3, Timeout: 10 * time.Millisecond}, tr, nil)

			var stops []*int
			p.newTimer = func(d time.Duration) *timer {
				n := new(int)
				stops = append(stops, n)
				return countingTimer(d, n)
			}

			if _, err := p.Run(context.Background(), "http://localhost:8000/stream"); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(stops) != 3 {
				t.Fatalf("timers = %d, want 3", len(stops))
			}
			for i, n := range stops {
				if *n != 1 {
					t.Errorf("attempt %d timer stopped %d times, want 1", i+1, *n)
				}
			}
		})
	}
}

func TestProbe_ContextCancelled(t *testing.T) {
	tr := &fakeTransport{}
	p := New(Config{MaxAttempts: 3, Timeout: time.Hour, RetryDelay: time.Hour}, tr, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Run(ctx, "http://localhost:8000/stream")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	tr.assertClosedOnce(t)
}

func TestProbe_CancelledDuringRetryDelay(t *testing.T) {
	tr := &fakeTransport{script: func(n int, h transport.Handler) error {
		h.OnError(transport.ErrorInfo{Status: 500})
		return nil
	}}
	p := New(Config{MaxAttempts: 3, Timeout: time.Hour, RetryDelay: time.Hour}, tr, discardLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome, err := p.Run(ctx, "http://localhost:8000/stream")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if outcome.Attempts != 1 || tr.opens != 1 {
		t.Errorf("attempts = %d, opens = %d, want 1", outcome.Attempts, tr.opens)
	}
}

func TestNew_NormalizesConfig(t *testing.T) {
	p := New(Config{MaxAttempts: 0, Timeout: 0, RetryDelay: -1}, &fakeTransport{}, nil, nil)
	if p.config.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", p.config.MaxAttempts)
	}
	if p.config.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", p.config.Timeout)
	}
	if p.config.RetryDelay != 0 {
		t.Errorf("RetryDelay = %v, want 0", p.config.RetryDelay)
	}
}

func TestStatus_String(t *testing.T) {
	if StatusSucceeded.String() != "succeeded" || StatusExhausted.String() != "exhausted" || Status(0).String() != "unknown" {
		t.Error("unexpected Status strings")
	}
}

func TestProbe_ExhaustedLogsHints(t *testing.T) {
	tests := []struct {
		name     string
		info     transport.ErrorInfo
		wantHint string
	}{
		{"not found", transport.ErrorInfo{Status: 404, Message: "Not Found"}, "stream path is wrong"},
		{"refused", transport.ErrorInfo{Err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED)}, "server is not running"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			tr := &fakeTransport{script: func(n int, h transport.Handler) error {
				h.OnError(tt.info)
				return nil
			}}
			p := New(Config{MaxAttempts: 1, Timeout: time.Second}, tr, slog.New(slog.NewTextHandler(&logs, nil)), nil)

			outcome, err := p.Run(context.Background(), "http://localhost:8000/stream")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if outcome.ExitCode() != 1 {
				t.Errorf("ExitCode() = %d, want 1", outcome.ExitCode())
			}
			for _, want := range []string{"TEST FAILED", tt.wantHint} {
				if !strings.Contains(logs.String(), want) {
					t.Errorf("log missing %q:\n%s", want, logs.String())
				}
			}
		})
	}
}
