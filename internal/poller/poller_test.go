package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/prodscribe/internal/shape"
)

// fakeClock advances instantly whenever the poller sleeps.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type step struct {
	status string
	err    error
}

// scriptedFetcher replays steps; the last step repeats forever.
type scriptedFetcher struct {
	steps []step
	calls int
}

func (f *scriptedFetcher) GetRun(_ context.Context, threadID, runID string) (shape.Value, error) {
	i := min(f.calls, len(f.steps)-1)
	f.calls++
	s := f.steps[i]
	if s.err != nil {
		return shape.Absent, s.err
	}
	return shape.Decode(map[string]any{
		"id":        runID,
		"thread_id": threadID,
		"status":    s.status,
		"output":    map[string]any{"step": f.calls},
	}), nil
}

func created() shape.Value {
	return shape.Decode(map[string]any{"id": "run_1", "status": "queued"})
}

func TestWait_Succeeds(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "queued"}, {status: "running"}, {status: "running"}, {status: "succeeded"}}}
	clock := newFakeClock()

	got, err := NewWithClock(Options{}, clock).Wait(context.Background(), f, "thread_1", created())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if f.calls != 4 {
		t.Errorf("fetches = %d, want 4", f.calls)
	}
	if got.Str("status") != "succeeded" {
		t.Errorf("final status = %q", got.Str("status"))
	}
	for _, d := range clock.slept {
		if d != DefaultInterval {
			t.Errorf("slept %s, want %s", d, DefaultInterval)
		}
	}
}

func TestWait_Timeout(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "running"}}}
	clock := newFakeClock()
	start := clock.Now()

	_, err := NewWithClock(Options{}, clock).Wait(context.Background(), f, "thread_1", created())

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if te.LastStatus != "running" {
		t.Errorf("LastStatus = %q, want running", te.LastStatus)
	}
	if te.Snapshot.Str("id") != "run_1" {
		t.Errorf("snapshot id = %q", te.Snapshot.Str("id"))
	}
	if te.Output.IsAbsent() {
		t.Error("timeout should carry the last output")
	}
	if elapsed := clock.Now().Sub(start); elapsed <= DefaultTimeout || elapsed > DefaultTimeout+DefaultInterval {
		t.Errorf("simulated elapsed = %s", elapsed)
	}
}

func TestWait_FailedFirstFetch(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "failed"}}}

	_, err := NewWithClock(Options{}, newFakeClock()).Wait(context.Background(), f, "thread_1", created())

	var fe *RunFailedError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *RunFailedError", err)
	}
	if f.calls != 1 {
		t.Errorf("fetches = %d, want 1", f.calls)
	}
	if fe.Snapshot.Str("status") != "failed" || fe.Output.IsAbsent() {
		t.Errorf("failure should carry snapshot and output: %+v", fe)
	}
}

func TestWait_AlreadyTerminal(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "running"}}}
	run := shape.Decode(map[string]any{"id": "run_1", "status": "succeeded"})

	if _, err := NewWithClock(Options{}, newFakeClock()).Wait(context.Background(), f, "t", run); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if f.calls != 0 {
		t.Errorf("fetches = %d, want 0", f.calls)
	}
}

func TestWait_OtherStatusesAreNotTerminal(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "cancelled"}}}

	_, err := NewWithClock(Options{}, newFakeClock()).Wait(context.Background(), f, "t", created())

	var te *TimeoutError
	if !errors.As(err, &te) || te.LastStatus != "cancelled" {
		t.Fatalf("error = %v, want timeout with last status cancelled", err)
	}
}

func TestWait_ConfiguredStatuses(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "in_progress"}, {status: "expired"}}}
	opts := Options{Success: []string{"completed"}, Failure: []string{"failed", "expired"}}

	_, err := NewWithClock(opts, newFakeClock()).Wait(context.Background(), f, "t", created())

	var fe *RunFailedError
	if !errors.As(err, &fe) || fe.Status != "expired" {
		t.Fatalf("error = %v, want failure with status expired", err)
	}
}

func TestWait_TransientErrorKeepsLastStatus(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{status: "running"},
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{status: "succeeded"},
	}}
	clock := newFakeClock()

	got, err := NewWithClock(Options{}, clock).Wait(context.Background(), f, "t", created())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got.Str("status") != "succeeded" {
		t.Errorf("status = %q", got.Str("status"))
	}

	var retries int
	for _, d := range clock.slept {
		if d == DefaultRetryInterval {
			retries++
		}
	}
	if retries != 2 {
		t.Errorf("retry sleeps = %d, want 2", retries)
	}
}

func TestWait_TransientErrorsUntilTimeout(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "running"}, {err: errors.New("unavailable")}}}

	_, err := NewWithClock(Options{Timeout: 5 * time.Second}, newFakeClock()).Wait(context.Background(), f, "t", created())

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if te.LastStatus != "running" {
		t.Errorf("LastStatus = %q, want running from the last good fetch", te.LastStatus)
	}
}

func TestWait_MissingRunID(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "succeeded"}}}
	run := shape.Decode(map[string]any{"status": "queued"})

	_, err := NewWithClock(Options{Timeout: time.Second}, newFakeClock()).Wait(context.Background(), f, "t", run)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if f.calls != 0 {
		t.Errorf("fetches = %d, want 0 without a run id", f.calls)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: "running"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Real clock: the cancelled context must win over the 500ms timer.
	_, err := New(Options{}).Wait(ctx, f, "t", created())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
