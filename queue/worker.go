package queue

import (
	"context"
	"time"
)

// Worker is the embedding host's unit of work, resolved from a job's
// class string (spec.md §6 "Worker contract"). Perform runs once per
// job execution on a freshly-created instance, returning an optional
// result alongside any error.
type Worker interface {
	Perform(ctx context.Context, args interface{}) (interface{}, error)
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(ctx context.Context, args interface{}) (interface{}, error)

func (f WorkerFunc) Perform(ctx context.Context, args interface{}) (interface{}, error) {
	return f(ctx, args)
}

// WorkerOptions carries the per-class settings the pipeline applies:
// a deadline for Perform. It holds no per-class retry cap or unique
// settings; a job's retry and unique fields come only from the job
// itself as enqueued.
type WorkerOptions struct {
	Deadline time.Duration
}

// Lookup resolves a job's class string to a worker factory and its
// options. The embedding host supplies this function at Supervisor
// construction (spec.md §6); absence of an entry is a resolve
// failure, not a panic.
type Lookup func(class string) (factory func() Worker, opts WorkerOptions, ok bool)
