// Package kiq is the Embedding API described in spec.md §6: a single
// Config an application builds once, NewSupervisor-equivalent wiring
// in New, and the Enqueue/ClearAll surface that works whether or not
// the worker side is running.
package kiq

import (
	"context"
	"fmt"
	"time"

	"github.com/ruby2elixir/kiq/adminweb"
	"github.com/ruby2elixir/kiq/clock"
	"github.com/ruby2elixir/kiq/internal/kiqlog"
	"github.com/ruby2elixir/kiq/job"
	"github.com/ruby2elixir/kiq/kiqmetrics"
	"github.com/ruby2elixir/kiq/queue"
	"github.com/ruby2elixir/kiq/redisqueue"
	"github.com/ruby2elixir/kiq/reporter"
	"github.com/ruby2elixir/kiq/schedule"
	"github.com/ruby2elixir/kiq/supervisor"
)

// QueueConfig names one queue and its executor concurrency, matching
// the `(queue_name, concurrency)` pairs of spec.md §6 Configuration.
type QueueConfig struct {
	Name        string
	Concurrency int
}

// Config is everything spec.md §6's Configuration asks for, plus the
// ambient/admin additions from SPEC_FULL.md §10-12.
type Config struct {
	RedisURL string
	PoolSize int

	Queues        []QueueConfig
	SchedulerSets []string // default ["schedule", "retry"]

	ExtraReporters []reporter.Reporter
	NodeID         string

	// RunWorkers is spec.md §6's "server?" flag: false skips the
	// queue pipelines, reporter chain, and schedulers entirely,
	// leaving only the Enqueue/ClearAll Embedding API.
	RunWorkers bool

	// AdminAddr, when non-empty, starts the SPEC_FULL.md §4.7 admin
	// HTTP server (/healthz, /metrics, /stream) on this address.
	// Ignored when RunWorkers is false.
	AdminAddr string

	Metrics       kiqmetrics.Metrics
	ShutdownGrace time.Duration
}

// Kiq is a connected client: the Embedding API, plus — when
// Config.RunWorkers was set — a ready-to-start Supervisor.
type Kiq struct {
	Client     *redisqueue.Client
	Clock      clock.Clock
	Random     clock.Random
	Supervisor *supervisor.Supervisor // nil when RunWorkers is false

	admin *adminweb.Server
}

// New connects to Redis and wires every component cfg describes. Call
// k.Supervisor.Start to begin processing jobs when RunWorkers was set;
// Enqueue and ClearAll work regardless.
func New(cfg Config, lookup queue.Lookup) (*Kiq, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("kiq: RedisURL is required")
	}
	client, err := redisqueue.New(cfg.RedisURL, redisqueue.WithPoolSize(cfg.PoolSize))
	if err != nil {
		return nil, fmt.Errorf("kiq: connect: %w", err)
	}

	k := &Kiq{Client: client, Clock: clock.Real{}, Random: clock.Real{}}
	if !cfg.RunWorkers {
		return k, nil
	}
	if lookup == nil {
		return nil, fmt.Errorf("kiq: a worker lookup is required when RunWorkers is set")
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = kiqmetrics.Noop{}
	}

	reporters := []reporter.Reporter{
		&reporter.Retryer{Client: client, Clock: k.Clock, Random: k.Random, Metrics: metrics},
		&reporter.Unlocker{Client: client},
		&reporter.BackupPruner{Client: client},
		&reporter.Logger{},
		&reporter.MetricsReporter{Metrics: metrics},
	}
	reporters = append(reporters, cfg.ExtraReporters...)

	if cfg.AdminAddr != "" {
		k.admin = adminweb.New()
		reporters = append(reporters, k.admin)
	}
	chain := reporter.NewChain(reporters...)

	queues := cfg.Queues
	if len(queues) == 0 {
		queues = []QueueConfig{{Name: job.DefaultQueue, Concurrency: 10}}
	}
	pipelines := make([]*queue.Pipeline, 0, len(queues))
	for _, q := range queues {
		pipelines = append(pipelines, &queue.Pipeline{
			Queue:       q.Name,
			Concurrency: q.Concurrency,
			Client:      client,
			Chain:       chain,
			Lookup:      lookup,
			Metrics:     metrics,
		})
	}

	sets := cfg.SchedulerSets
	if len(sets) == 0 {
		sets = []string{"schedule", "retry"}
	}
	schedulers := make([]*schedule.Scheduler, 0, len(sets))
	for _, name := range sets {
		schedulers = append(schedulers, &schedule.Scheduler{
			SetName: name,
			Client:  client,
			Clock:   k.Clock,
			Random:  k.Random,
		})
	}

	k.Supervisor = &supervisor.Supervisor{
		Client:        client,
		NodeID:        supervisor.ResolveNodeID(cfg.NodeID),
		Chain:         chain,
		Pipelines:     pipelines,
		Schedulers:    schedulers,
		ShutdownGrace: cfg.ShutdownGrace,
	}

	if k.admin != nil {
		go func() {
			if err := k.admin.ListenAndServe(cfg.AdminAddr); err != nil {
				kiqlog.Error("kiq", "admin server stopped", "addr", cfg.AdminAddr, "error", err)
			}
		}()
	}

	return k, nil
}

// Close releases the Redis connection pool. Callers that started the
// Supervisor should call its Stop first.
func (k *Kiq) Close() error {
	return k.Client.Close()
}

// EnqueueOptions carries the "at most one of in/at" scheduling choice
// from spec.md §6's `enqueue(job_or_map, options)`.
type EnqueueOptions struct {
	In *float64 // seconds from now
	At *float64 // absolute Unix seconds
}

// Enqueue builds a job of the given class and args, applies opts and
// any job.Option overrides, and submits it. It returns the stored job
// — or, if a uniqueness lock is already held, the suppressed job
// carrying the existing holder's jid rather than an error (spec.md
// §7's "a lock conflict is a silent success").
func (k *Kiq) Enqueue(ctx context.Context, class string, args interface{}, opts EnqueueOptions, jobOpts ...job.Option) (*job.Job, error) {
	if opts.In != nil && opts.At != nil {
		return nil, fmt.Errorf("kiq: enqueue options allow at most one of In or At")
	}

	j, err := job.New(class, args, jobOpts...)
	if err != nil {
		return nil, fmt.Errorf("kiq: build job: %w", err)
	}
	switch {
	case opts.In != nil:
		at := k.Clock.Now() + *opts.In
		j.At = &at
	case opts.At != nil:
		j.At = opts.At
	}
	if err := j.Finalize(k.Clock, k.Random); err != nil {
		return nil, fmt.Errorf("kiq: finalize job: %w", err)
	}
	return k.Client.Enqueue(ctx, j)
}

// ClearAll removes every core-managed key. It is destructive across
// every queue on the Redis instance, so it refuses to run unless
// confirm is true — SPEC_FULL.md §12's safety rail, new relative to
// the reference system, which gates this only by requiring the
// method be called explicitly.
func (k *Kiq) ClearAll(ctx context.Context, confirm bool) error {
	if !confirm {
		return fmt.Errorf("kiq: ClearAll requires confirm=true")
	}
	return k.Client.ClearAll(ctx)
}
