package reporter

import (
	"context"

	"github.com/ruby2elixir/kiq/redisqueue"
)

// BackupPruner acknowledges a job's backup-list entry on success.
// Failure paths are acknowledged by Retryer instead, since that is
// the reporter that already knows whether the job is being retried or
// dropped (spec.md §4.4).
type BackupPruner struct {
	Client *redisqueue.Client
}

func (p *BackupPruner) Handle(ctx context.Context, ev Event) error {
	if ev.Kind != Success {
		return nil
	}
	return p.Client.Acknowledge(ctx, ev.Queue, ev.NodeID, ev.Payload)
}
