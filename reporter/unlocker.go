package reporter

import (
	"context"

	"github.com/ruby2elixir/kiq/job"
	"github.com/ruby2elixir/kiq/redisqueue"
)

// Unlocker releases a job's uniqueness lock at the point its
// unique_until setting names (spec.md §4.4): "start" releases as soon
// as the job begins executing, "success" releases once it finishes
// either way.
type Unlocker struct {
	Client *redisqueue.Client
}

func (u *Unlocker) Handle(ctx context.Context, ev Event) error {
	j := ev.Job
	if j == nil || j.UniqueUntil == nil {
		return nil
	}
	switch {
	case ev.Kind == Started && *j.UniqueUntil == job.UntilStart:
		return u.Client.Unlock(ctx, j)
	case (ev.Kind == Success || ev.Kind == Failure) && *j.UniqueUntil == job.UntilSuccess:
		return u.Client.Unlock(ctx, j)
	default:
		return nil
	}
}
