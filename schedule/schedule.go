// Package schedule runs the periodic deschedule tasks described in
// spec.md §4.5: one ticker per target sorted set ("schedule", "retry"),
// each independently migrating due entries into their queue lists.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/ruby2elixir/kiq/clock"
	"github.com/ruby2elixir/kiq/redisqueue"
)

// DefaultTick is used when Scheduler.Tick is zero.
const DefaultTick = time.Second

// Scheduler drives one target sorted set. Run ticks at Tick ± 50%
// jitter (spec.md §4.5's thundering-herd avoidance across nodes)
// until ctx is cancelled.
type Scheduler struct {
	SetName string
	Client  *redisqueue.Client
	Clock   clock.Clock
	Random  clock.Random
	Tick    time.Duration
}

// Run invokes Deschedule once per tick until ctx is cancelled. Per
// spec.md §7, a transport error on the hot path is not retried
// locally: Run returns it so the supervisor can restart the task.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := s.Tick
	if tick <= 0 {
		tick = DefaultTick
	}

	for {
		if _, err := s.Client.Deschedule(ctx, s.SetName, s.Clock.Now()); err != nil {
			return fmt.Errorf("scheduler %s: %w", s.SetName, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.jitteredTick(tick)):
		}
	}
}

// jitteredTick returns tick scaled by a uniformly random factor in
// [0.5, 1.5), spreading independent nodes' scheduler ticks apart.
func (s *Scheduler) jitteredTick(tick time.Duration) time.Duration {
	const resolution = 1000
	factor := 0.5 + float64(s.Random.Intn(resolution))/float64(resolution)
	scaled := time.Duration(float64(tick) * factor)
	if scaled <= 0 {
		return tick
	}
	return scaled
}
