// Package poller waits for an asynchronous assistant run to reach a terminal
// status.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kalambet/prodscribe/internal/shape"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultInterval      = 500 * time.Millisecond
	DefaultRetryInterval = 200 * time.Millisecond

	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var errMissingRunID = errors.New("run snapshot has no id")

// RunFetcher fetches the current snapshot of a run.
type RunFetcher interface {
	GetRun(ctx context.Context, threadID, runID string) (shape.Value, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Options configures a Poller. Zero durations and empty status sets fall
// back to the defaults.
type Options struct {
	Timeout       time.Duration
	Interval      time.Duration
	RetryInterval time.Duration
	Success       []string
	Failure       []string
}

// TimeoutError is returned when the run does not reach a terminal status
// within the timeout.
type TimeoutError struct {
	Timeout    time.Duration
	LastStatus string
	Snapshot   shape.Value
	Output     shape.Value
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run did not finish within %s (last status %q)", e.Timeout, e.LastStatus)
}

// RunFailedError is returned when the run reaches a failure status.
type RunFailedError struct {
	Status   string
	Snapshot shape.Value
	Output   shape.Value
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run ended with status %q", e.Status)
}

// Poller re-fetches a run until its status is one of the configured
// terminal literals. Any other status, including ones the provider may
// treat as final, keeps the loop going until the timeout.
type Poller struct {
	timeout  time.Duration
	interval time.Duration
	retry    time.Duration
	success  []string
	failure  []string
	clock    Clock
	logger   *slog.Logger
}

// New creates a Poller using the wall clock.
func New(opts Options) *Poller {
	return NewWithClock(opts, realClock{})
}

// NewWithClock creates a Poller with a custom clock (for testing).
func NewWithClock(opts Options, clock Clock) *Poller {
	p := &Poller{
		timeout:  opts.Timeout,
		interval: opts.Interval,
		retry:    opts.RetryInterval,
		success:  opts.Success,
		failure:  opts.Failure,
		clock:    clock,
		logger:   slog.Default(),
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.retry <= 0 {
		p.retry = DefaultRetryInterval
	}
	if len(p.success) == 0 {
		p.success = []string{StatusSucceeded}
	}
	if len(p.failure) == 0 {
		p.failure = []string{StatusFailed}
	}
	return p
}

// Timeout returns the configured wait budget.
func (p *Poller) Timeout() time.Duration { return p.timeout }

// Wait polls the run created on threadID until it succeeds, fails, or the
// timeout elapses. run is the snapshot returned at creation. On success
// the final snapshot is returned. Fetch errors are logged and retried with
// the last known status kept.
func (p *Poller) Wait(ctx context.Context, fetcher RunFetcher, threadID string, run shape.Value) (shape.Value, error) {
	start := p.clock.Now()
	current := run
	status := run.Str("status")
	runID := run.Str("id")

	for !p.isTerminal(status) {
		if p.clock.Now().Sub(start) > p.timeout {
			return current, &TimeoutError{
				Timeout:    p.timeout,
				LastStatus: status,
				Snapshot:   current,
				Output:     current.Get("output"),
			}
		}

		if err := p.sleep(ctx, p.interval); err != nil {
			return current, err
		}

		next, err := p.fetch(ctx, fetcher, threadID, runID)
		if err != nil {
			p.logger.Warn("fetching run status failed", "thread_id", threadID, "run_id", runID, "last_status", status, "error", err)
			if err := p.sleep(ctx, p.retry); err != nil {
				return current, err
			}
			continue
		}

		current = next
		if s := next.Str("status"); s != status {
			p.logger.Debug("run status changed", "run_id", runID, "from", status, "to", s)
			status = s
		}
	}

	if slices.Contains(p.failure, status) {
		return current, &RunFailedError{
			Status:   status,
			Snapshot: current,
			Output:   current.Get("output"),
		}
	}
	return current, nil
}

func (p *Poller) fetch(ctx context.Context, fetcher RunFetcher, threadID, runID string) (shape.Value, error) {
	if runID == "" {
		return shape.Absent, errMissingRunID
	}
	return fetcher.GetRun(ctx, threadID, runID)
}

func (p *Poller) isTerminal(status string) bool {
	return slices.Contains(p.success, status) || slices.Contains(p.failure, status)
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for run: %w", ctx.Err())
	case <-p.clock.After(d):
		return nil
	}
}
