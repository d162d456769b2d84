package reporter

import (
	"context"

	"github.com/ruby2elixir/kiq/internal/kiqerr"
	"github.com/ruby2elixir/kiq/internal/kiqlog"
)

// Logger writes one structured line per lifecycle event.
type Logger struct{}

func (Logger) Handle(ctx context.Context, ev Event) error {
	if ev.Job == nil {
		if ev.Kind == Failure {
			class, msg := kiqerr.Classify(ev.Err)
			kiqlog.Error("pipeline", "decode failure", "queue", ev.Queue, "error_class", class, "error_message", msg)
		}
		return nil
	}
	switch ev.Kind {
	case Started:
		kiqlog.Info("pipeline", "job started", "jid", ev.Job.Jid, "class", ev.Job.Class, "queue", ev.Queue)
	case Success:
		kiqlog.Info("pipeline", "job succeeded", "jid", ev.Job.Jid, "class", ev.Job.Class, "queue", ev.Queue)
	case Failure:
		class, msg := kiqerr.Classify(ev.Err)
		kiqlog.Error("pipeline", "job failed", "jid", ev.Job.Jid, "class", ev.Job.Class, "queue", ev.Queue, "error_class", class, "error_message", msg)
	}
	return nil
}
