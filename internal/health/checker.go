// Package health reports whether the stream server can take subscribers.
package health

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Status of one check or of a whole report
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check returns nil when the dependency it probes is usable
type Check func(ctx context.Context) error

// CheckResult is the outcome of a single check
type CheckResult struct {
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Report aggregates the results of one run
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Healthy reports whether every check passed
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Checker runs named checks in parallel
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker returns a checker with no checks; it reports healthy
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Register adds a check, replacing any with the same name
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

type namedResult struct {
	name   string
	result CheckResult
}

// Run executes every check and waits for all of them. Checks are expected
// to honor ctx.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	out := make(chan namedResult, len(checks))
	for name, check := range checks {
		go func() {
			start := time.Now()
			res := CheckResult{Status: StatusHealthy}
			if err := check(ctx); err != nil {
				res.Status = StatusUnhealthy
				res.Error = err.Error()
			}
			res.Duration = time.Since(start).String()
			out <- namedResult{name, res}
		}()
	}

	report := Report{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(checks))}
	for range checks {
		r := <-out
		report.Checks[r.name] = r.result
		if r.result.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
		}
	}
	return report
}
