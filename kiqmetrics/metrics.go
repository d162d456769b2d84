// Package kiqmetrics exposes the Prometheus instrumentation described
// in SPEC_FULL.md §11/§12: job outcome counters and queue/executor
// gauges, wired into the reporter chain and the queue pipeline.
package kiqmetrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the instrumentation surface the reporter chain and
// pipeline call into. Noop lets callers skip metrics entirely without
// nil checks scattered through their code.
type Metrics interface {
	IncProcessed(queue string)
	IncRetried(queue string)
	IncDead(queue string)
	SetQueueDepth(queue string, depth float64)
	SetBackupDepth(queue string, depth float64)
	IncInFlight(queue string)
	DecInFlight(queue string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncProcessed(string)             {}
func (Noop) IncRetried(string)               {}
func (Noop) IncDead(string)                  {}
func (Noop) SetQueueDepth(string, float64)   {}
func (Noop) SetBackupDepth(string, float64)  {}
func (Noop) IncInFlight(string)              {}
func (Noop) DecInFlight(string)              {}

// Prom implements Metrics backed by Prometheus counters and gauges.
type Prom struct {
	processed   *prometheus.CounterVec
	retried     *prometheus.CounterVec
	dead        *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
	backupDepth *prometheus.GaugeVec
	inFlight    *prometheus.GaugeVec
	once        sync.Once
}

// NewProm constructs a Prom and registers its collectors under
// namespace with the default Prometheus registry.
func NewProm(namespace string) *Prom {
	p := &Prom{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs that finished executing (success or failure) by queue",
		}, []string{"queue"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Jobs re-scheduled onto the retry set by queue",
		}, []string{"queue"}),
		dead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dead_total",
			Help:      "Jobs that exhausted their retry cap by queue",
		}, []string{"queue"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current length of a queue's Redis list",
		}, []string{"queue"}),
		backupDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_depth",
			Help:      "Current length of a queue's per-node backup list",
		}, []string{"queue"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_in_flight",
			Help:      "Executions currently running per queue",
		}, []string{"queue"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.processed, p.retried, p.dead, p.queueDepth, p.backupDepth, p.inFlight)
	})
}

func (p *Prom) IncProcessed(queue string)            { p.processed.WithLabelValues(queue).Inc() }
func (p *Prom) IncRetried(queue string)              { p.retried.WithLabelValues(queue).Inc() }
func (p *Prom) IncDead(queue string)                 { p.dead.WithLabelValues(queue).Inc() }
func (p *Prom) SetQueueDepth(queue string, n float64) { p.queueDepth.WithLabelValues(queue).Set(n) }
func (p *Prom) SetBackupDepth(queue string, n float64) {
	p.backupDepth.WithLabelValues(queue).Set(n)
}
func (p *Prom) IncInFlight(queue string) { p.inFlight.WithLabelValues(queue).Inc() }
func (p *Prom) DecInFlight(queue string) { p.inFlight.WithLabelValues(queue).Dec() }

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
