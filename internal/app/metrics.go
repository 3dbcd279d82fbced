package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yurug/maplume-sub000/pkg/models"
)

var queueStates = []string{
	models.QueueStateIdle,
	models.QueueStateSyncing,
	models.QueueStateError,
	models.QueueStateOffline,
}

// Metrics exposes sync health to Prometheus and satisfies
// syncqueue.Metrics.
type Metrics struct {
	pendingOps prometheus.Gauge
	queueState *prometheus.GaugeVec
	retries    prometheus.Counter
	flushes    prometheus.Counter
	commits    prometheus.Counter
	fatals     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pendingOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maplume_sync_pending_ops",
			Help: "Operations waiting in the sync queue.",
		}),
		queueState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maplume_sync_queue_state",
			Help: "Current queue state (1 for the active state).",
		}, []string{"state"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maplume_sync_retries_total",
			Help: "Transient operation failures that were rescheduled.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maplume_sync_flushes_total",
			Help: "Times the queue drained to empty.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maplume_sync_commits_total",
			Help: "Operations acknowledged by the backend.",
		}),
		fatals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maplume_sync_fatal_total",
			Help: "Operations dropped after a non-retryable failure.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pendingOps, m.queueState, m.retries, m.flushes, m.commits, m.fatals)
	}
	m.SetQueueState(models.QueueStateIdle)
	return m
}

func (m *Metrics) SetQueueState(state string) {
	for _, s := range queueStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.queueState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SetPendingOps(n int) { m.pendingOps.Set(float64(n)) }
func (m *Metrics) RetryScheduled()     { m.retries.Inc() }
func (m *Metrics) FlushCompleted()     { m.flushes.Inc() }
func (m *Metrics) OpCommitted()        { m.commits.Inc() }
func (m *Metrics) OpFailedFatally()    { m.fatals.Inc() }
