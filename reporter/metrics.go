package reporter

import (
	"context"

	"github.com/ruby2elixir/kiq/kiqmetrics"
)

// MetricsReporter increments the processed counter whenever a job
// finishes, independent of the outcome — Retryer separately tracks
// the retried/dead split for jobs that fail.
type MetricsReporter struct {
	Metrics kiqmetrics.Metrics
}

func (m *MetricsReporter) Handle(ctx context.Context, ev Event) error {
	if ev.Kind != Success && ev.Kind != Failure {
		return nil
	}
	if m.Metrics == nil {
		return nil
	}
	m.Metrics.IncProcessed(ev.Queue)
	return nil
}
