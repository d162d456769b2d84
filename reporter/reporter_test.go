package reporter

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ruby2elixir/kiq/clock"
	"github.com/ruby2elixir/kiq/job"
	"github.com/ruby2elixir/kiq/redisqueue"
)

func newTestEnv(t *testing.T, clk clock.Clock) *redisqueue.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisqueue.NewFromUniversalClient(rdb, clk)
}

func enqueued(t *testing.T, ctx context.Context, c *redisqueue.Client, clk clock.Clock, opts ...job.Option) (*job.Job, []byte) {
	t.Helper()
	j, err := job.New("Widgets::Ship", []interface{}{1}, opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := j.Finalize(clk, clock.Real{}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	stored, err := c.Enqueue(ctx, j)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	payloads, err := c.Dequeue(ctx, stored.Queue, 1, "node-1")
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected the job to be dequeued")
	}
	return stored, payloads[0]
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

func TestRetryerPushesRetryEntryAndAcknowledges(t *testing.T) {
	clk := clock.NewFake(1000)
	rng := clock.NewFake(0)
	rng.SetIntSequence(10)
	c := newTestEnv(t, clk)
	ctx := context.Background()

	j, payload := enqueued(t, ctx, c, clk)
	retryer := &Retryer{Client: c, Clock: clk, Random: rng}

	ev := Event{Kind: Failure, Job: j, Queue: j.Queue, NodeID: "node-1", Payload: payload, Err: boomError{}}
	if err := retryer.Handle(ctx, ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	n, err := c.BackupLen(ctx, j.Queue, "node-1")
	if err != nil {
		t.Fatalf("BackupLen: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected backup acknowledged, got %d entries", n)
	}

	moved, err := c.Deschedule(ctx, "retry", 2000)
	if err != nil {
		t.Fatalf("Deschedule: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 retry entry due by t=2000, got %d", moved)
	}
}

func TestRetryerDropsExhaustedRetries(t *testing.T) {
	clk := clock.NewFake(1000)
	rng := clock.Real{}
	c := newTestEnv(t, clk)
	ctx := context.Background()

	j, payload := enqueued(t, ctx, c, clk, job.WithRetry(job.RetryCap(3)))
	j.RetryCount = 3
	retryer := &Retryer{Client: c, Clock: clk, Random: rng}

	ev := Event{Kind: Failure, Job: j, Queue: j.Queue, NodeID: "node-1", Payload: payload, Err: boomError{}}
	if err := retryer.Handle(ctx, ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	n, err := c.BackupLen(ctx, j.Queue, "node-1")
	if err != nil {
		t.Fatalf("BackupLen: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected backup acknowledged, got %d entries", n)
	}
	moved, err := c.Deschedule(ctx, "retry", 999999)
	if err != nil {
		t.Fatalf("Deschedule: %v", err)
	}
	if moved != 0 {
		t.Fatalf("expected no retry entry for exhausted job, got %d", moved)
	}
}

func TestRetryerBackoffWithinDocumentedRange(t *testing.T) {
	clk := clock.NewFake(1000)
	rng := clock.NewFake(0)
	rng.SetIntSequence(0, 30)
	c := newTestEnv(t, clk)
	ctx := context.Background()
	retryer := &Retryer{Client: c, Clock: clk, Random: rng}

	j, _ := enqueued(t, ctx, c, clk)
	j.RetryCount = 0

	low := retryer.buildRetriedJob(j, boomError{})
	if *low.At != 1015 {
		t.Fatalf("expected at=1015 for jitter=0, got %v", *low.At)
	}

	j2, _ := enqueued(t, ctx, c, clk)
	j2.RetryCount = 0
	high := retryer.buildRetriedJob(j2, boomError{})
	if *high.At != 1045 {
		t.Fatalf("expected at=1045 for jitter=30, got %v", *high.At)
	}
	if low.RetryCount != 1 || high.RetryCount != 1 {
		t.Fatalf("expected retry_count incremented to 1")
	}
	if *low.ErrorClass != "boomError" {
		t.Fatalf("expected error_class boomError, got %s", *low.ErrorClass)
	}
	if *low.ErrorMessage != "boom" {
		t.Fatalf("expected error_message boom, got %s", *low.ErrorMessage)
	}
}

func TestUnlockerReleasesOnSuccessPolicy(t *testing.T) {
	clk := clock.NewFake(1000)
	c := newTestEnv(t, clk)
	ctx := context.Background()
	until := job.UntilSuccess

	j, _ := enqueued(t, ctx, c, clk, job.WithUniqueFor(60000), job.WithUniqueUntil(until))
	unlocker := &Unlocker{Client: c}

	if err := unlocker.Handle(ctx, Event{Kind: Started, Job: j, Queue: j.Queue, NodeID: "node-1"}); err != nil {
		t.Fatalf("Handle started: %v", err)
	}
	exists, err := c.LockExists(ctx, *j.UniqueToken)
	if err != nil {
		t.Fatalf("exists check: %v", err)
	}
	if !exists {
		t.Fatalf("expected lock to survive a started event under success policy")
	}

	if err := unlocker.Handle(ctx, Event{Kind: Success, Job: j, Queue: j.Queue, NodeID: "node-1"}); err != nil {
		t.Fatalf("Handle success: %v", err)
	}
	exists, err = c.LockExists(ctx, *j.UniqueToken)
	if err != nil {
		t.Fatalf("exists check: %v", err)
	}
	if exists {
		t.Fatalf("expected lock released on success")
	}
}

func TestUnlockerReleasesOnStartPolicy(t *testing.T) {
	clk := clock.NewFake(1000)
	c := newTestEnv(t, clk)
	ctx := context.Background()
	until := job.UntilStart

	j, _ := enqueued(t, ctx, c, clk, job.WithUniqueFor(60000), job.WithUniqueUntil(until))
	unlocker := &Unlocker{Client: c}

	if err := unlocker.Handle(ctx, Event{Kind: Started, Job: j, Queue: j.Queue, NodeID: "node-1"}); err != nil {
		t.Fatalf("Handle started: %v", err)
	}
	exists, err := c.LockExists(ctx, *j.UniqueToken)
	if err != nil {
		t.Fatalf("exists check: %v", err)
	}
	if exists {
		t.Fatalf("expected lock released on started event under start policy")
	}
}

func TestBackupPrunerAcknowledgesOnSuccess(t *testing.T) {
	clk := clock.NewFake(1000)
	c := newTestEnv(t, clk)
	ctx := context.Background()
	j, payload := enqueued(t, ctx, c, clk)
	pruner := &BackupPruner{Client: c}

	if err := pruner.Handle(ctx, Event{Kind: Success, Job: j, Queue: j.Queue, NodeID: "node-1", Payload: payload}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	n, err := c.BackupLen(ctx, j.Queue, "node-1")
	if err != nil {
		t.Fatalf("BackupLen: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected backup acknowledged, got %d", n)
	}
}

type panicReporter struct{}

func (panicReporter) Handle(ctx context.Context, ev Event) error {
	panic("boom")
}

type errorReporter struct{ called *bool }

func (e errorReporter) Handle(ctx context.Context, ev Event) error {
	*e.called = true
	return errors.New("reporter failure")
}

func TestChainContinuesPastPanicAndError(t *testing.T) {
	called := false
	chain := NewChain(panicReporter{}, errorReporter{called: &called}, panicReporter{})
	chain.Dispatch(context.Background(), Event{Kind: Started})
	if !called {
		t.Fatalf("expected chain to continue past a panicking reporter")
	}
}
