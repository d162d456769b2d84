package reporter

import (
	"context"
	"fmt"

	"github.com/ruby2elixir/kiq/internal/kiqlog"
)

// Reporter observes lifecycle events. A Reporter must not block the
// chain on I/O failure — it should return a non-nil error instead of
// blocking or panicking so Chain can log it and move on.
type Reporter interface {
	Handle(ctx context.Context, ev Event) error
}

// ReporterFunc adapts a plain function to the Reporter interface.
type ReporterFunc func(ctx context.Context, ev Event) error

func (f ReporterFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Chain dispatches an Event to every reporter in order. Per spec.md
// §4.4, a reporter's failure — returned error or panic — is logged
// and never halts the chain or propagates to the caller.
type Chain struct {
	reporters []Reporter
}

// NewChain builds a Chain that dispatches to reporters in the given
// order. Extra, user-supplied reporters belong last in the slice, per
// spec.md §4.4's "extra reporters ... invoked last."
func NewChain(reporters ...Reporter) *Chain {
	return &Chain{reporters: reporters}
}

// Dispatch runs every reporter in order for ev.
func (c *Chain) Dispatch(ctx context.Context, ev Event) {
	for _, r := range c.reporters {
		dispatchOne(ctx, r, ev)
	}
}

func dispatchOne(ctx context.Context, r Reporter, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			kiqlog.Error("reporter", "reporter panicked", "reporter", fmt.Sprintf("%T", r), "event", ev.Kind.String(), "recovered", fmt.Sprint(rec))
		}
	}()
	if err := r.Handle(ctx, ev); err != nil {
		kiqlog.Error("reporter", "reporter failed", "reporter", fmt.Sprintf("%T", r), "event", ev.Kind.String(), "error", err)
	}
}
