package reporter

import (
	"context"
	"fmt"

	"github.com/ruby2elixir/kiq/clock"
	"github.com/ruby2elixir/kiq/internal/kiqerr"
	"github.com/ruby2elixir/kiq/job"
	"github.com/ruby2elixir/kiq/kiqmetrics"
	"github.com/ruby2elixir/kiq/redisqueue"
)

// Retryer implements spec.md §4.4's retry policy: on failure, either
// push a retried job into the "retry" sorted set with an exponential
// backoff, or drop the job once its retry cap is exhausted. Either
// way the original backup entry is acknowledged.
type Retryer struct {
	Client  *redisqueue.Client
	Clock   clock.Clock
	Random  clock.Random
	Metrics kiqmetrics.Metrics // optional; defaults to a no-op
}

func (r *Retryer) Handle(ctx context.Context, ev Event) error {
	if ev.Kind != Failure || ev.Job == nil {
		return nil
	}
	j := ev.Job
	metrics := r.Metrics
	if metrics == nil {
		metrics = kiqmetrics.Noop{}
	}

	if !j.Retry.Allowed() || j.RetryCount >= j.Retry.Cap() {
		metrics.IncDead(ev.Queue)
		return r.Client.Acknowledge(ctx, ev.Queue, ev.NodeID, ev.Payload)
	}

	retried := r.buildRetriedJob(j, ev.Err)
	if err := r.Client.Retry(ctx, retried); err != nil {
		return fmt.Errorf("retryer: push retry entry: %w", err)
	}
	metrics.IncRetried(ev.Queue)
	return r.Client.Acknowledge(ctx, ev.Queue, ev.NodeID, ev.Payload)
}

// buildRetriedJob applies spec.md §4.4's field updates and backoff
// formula: 15 + retry_count^4 + rand(0..30)*(retry_count+1) seconds,
// computed from the job's retry_count *before* incrementing it.
func (r *Retryer) buildRetriedJob(j *job.Job, execErr error) *job.Job {
	now := r.Clock.Now()
	backoff := computeBackoff(j.RetryCount, r.Random)
	at := now + backoff

	retried := *j
	retried.At = &at
	retried.RetryCount = j.RetryCount + 1
	if retried.FailedAt == nil {
		retried.FailedAt = &now
	}
	retriedAt := now
	retried.RetriedAt = &retriedAt

	class, msg := kiqerr.Classify(execErr)
	retried.ErrorClass = &class
	retried.ErrorMessage = &msg

	return &retried
}

func computeBackoff(retryCount int, rng clock.Random) float64 {
	jitter := rng.Intn(31) // 0..30 inclusive
	return 15 + pow4(retryCount) + float64(jitter*(retryCount+1))
}

func pow4(n int) float64 {
	f := float64(n)
	return f * f * f * f
}
