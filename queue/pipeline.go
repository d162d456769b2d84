// Package queue implements the per-queue producer/executor pipeline
// described in spec.md §4.3: a demand-driven puller feeding a
// concurrency-capped pool of worker executions.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ruby2elixir/kiq/internal/kiqerr"
	"github.com/ruby2elixir/kiq/internal/kiqlog"
	"github.com/ruby2elixir/kiq/job"
	"github.com/ruby2elixir/kiq/kiqmetrics"
	"github.com/ruby2elixir/kiq/redisqueue"
	"github.com/ruby2elixir/kiq/reporter"
)

// DefaultPollInterval is used when Pipeline.PollInterval is zero.
const DefaultPollInterval = time.Second

// Pipeline runs one queue's producer and executor pool. Run blocks
// until ctx is cancelled or a transport error occurs; per spec.md §7,
// transport errors on the hot path are not retried locally — Run
// returns the error and the supervisor restarts the pipeline.
type Pipeline struct {
	Queue        string
	Concurrency  int
	NodeID       string
	Client       *redisqueue.Client
	Chain        *reporter.Chain
	Lookup       Lookup
	PollInterval time.Duration
	Metrics      kiqmetrics.Metrics // optional; defaults to a no-op
}

func (p *Pipeline) metrics() kiqmetrics.Metrics {
	if p.Metrics == nil {
		return kiqmetrics.Noop{}
	}
	return p.Metrics
}

// Run drives the pipeline until ctx is cancelled. It never runs more
// than Concurrency executions at once, and never pulls more payloads
// than it currently has spare capacity for (spec.md §4.3's "producer
// never fetches more than N - in_flight jobs").
func (p *Pipeline) Run(ctx context.Context) error {
	pollInterval := p.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	tokens := make(chan struct{}, p.Concurrency)
	for i := 0; i < p.Concurrency; i++ {
		tokens <- struct{}{}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tokens:
		}

		demand := 1
	drain:
		for {
			select {
			case <-tokens:
				demand++
			default:
				break drain
			}
		}

		payloads, err := p.Client.Dequeue(ctx, p.Queue, demand, p.NodeID)
		if err != nil {
			for i := 0; i < demand; i++ {
				tokens <- struct{}{}
			}
			return fmt.Errorf("queue %s: dequeue: %w", p.Queue, err)
		}

		for i := 0; i < demand-len(payloads); i++ {
			tokens <- struct{}{}
		}

		p.sampleDepth(ctx)

		if len(payloads) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		for _, payload := range payloads {
			wg.Add(1)
			go func(payload []byte) {
				defer wg.Done()
				defer func() { tokens <- struct{}{} }()
				p.execute(ctx, payload)
			}(payload)
		}
	}
}

// sampleDepth reports the queue's current length and this node's
// backup-list length, so /metrics reflects live depth rather than the
// permanent zero a declared-but-unfed gauge would show. Errors are
// logged, not propagated: a failed depth sample must never interrupt
// job processing.
func (p *Pipeline) sampleDepth(ctx context.Context) {
	if n, err := p.Client.QueueLen(ctx, p.Queue); err != nil {
		kiqlog.Error("pipeline", "sample queue depth failed", "queue", p.Queue, "error", err)
	} else {
		p.metrics().SetQueueDepth(p.Queue, float64(n))
	}
	if n, err := p.Client.BackupLen(ctx, p.Queue, p.NodeID); err != nil {
		kiqlog.Error("pipeline", "sample backup depth failed", "queue", p.Queue, "error", err)
	} else {
		p.metrics().SetBackupDepth(p.Queue, float64(n))
	}
}

func (p *Pipeline) execute(ctx context.Context, payload []byte) {
	j, err := job.Decode(payload)
	if err != nil {
		p.dispatchFailure(ctx, nil, payload, &kiqerr.DecodeError{Err: err})
		if ackErr := p.Client.Acknowledge(ctx, p.Queue, p.NodeID, payload); ackErr != nil {
			kiqlog.Error("pipeline", "acknowledge undecodable payload failed", "queue", p.Queue, "error", ackErr)
		}
		return
	}

	p.Chain.Dispatch(ctx, reporter.Event{Kind: reporter.Started, Job: j, Queue: p.Queue, NodeID: p.NodeID, Payload: payload})

	factory, opts, ok := p.Lookup(j.Class)
	if !ok {
		p.dispatchFailure(ctx, j, payload, &kiqerr.UnresolvedWorkerError{Class: j.Class})
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	p.metrics().IncInFlight(p.Queue)
	result, err := p.invoke(runCtx, factory(), j.Args)
	p.metrics().DecInFlight(p.Queue)
	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			err = kiqerr.TimeoutError{}
		case ctx.Err() != nil:
			err = kiqerr.CancellationError{}
		}
		p.dispatchFailure(ctx, j, payload, err)
		return
	}

	p.Chain.Dispatch(ctx, reporter.Event{Kind: reporter.Success, Job: j, Queue: p.Queue, NodeID: p.NodeID, Payload: payload, Result: result})
}

func (p *Pipeline) invoke(runCtx context.Context, w Worker, args interface{}) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in perform: %v", rec)
		}
	}()
	return w.Perform(runCtx, args)
}

func (p *Pipeline) dispatchFailure(ctx context.Context, j *job.Job, payload []byte, err error) {
	p.Chain.Dispatch(ctx, reporter.Event{Kind: reporter.Failure, Job: j, Queue: p.Queue, NodeID: p.NodeID, Payload: payload, Err: err})
}
