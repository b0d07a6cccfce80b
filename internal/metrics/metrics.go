// Package metrics defines the Prometheus collectors exported by the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics groups the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	MutationDuration prometheus.Histogram
	QueriesTotal     *prometheus.CounterVec
	ReplayedTotal    prometheus.Counter
	WALAppendsTotal  prometheus.Counter
}

// New registers the collectors with reg. Passing a fresh
// prometheus.NewRegistry keeps engines in one process isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MutationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arla_mutations_total",
			Help: "Cumulative number of executed mutations by status",
		}, []string{"status"}),
		MutationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "arla_mutation_duration_seconds",
			Help:    "Duration of mutation execution, including the WAL append",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15), // 0.5ms to ~8s
		}),
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arla_queries_total",
			Help: "Cumulative number of compiled and executed queries by status",
		}, []string{"status"}),
		ReplayedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "arla_replayed_total",
			Help: "Cumulative number of WAL entries replayed into the projection",
		}),
		WALAppendsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "arla_wal_appends_total",
			Help: "Cumulative number of mutations appended to the WAL",
		}),
	}
}

// ObserveMutation counts one mutation and records its duration.
func (m *Metrics) ObserveMutation(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(status(err)).Inc()
	m.MutationDuration.Observe(elapsed.Seconds())
}

// ObserveQuery counts one query.
func (m *Metrics) ObserveQuery(err error) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(status(err)).Inc()
}

// Replayed counts one replayed entry.
func (m *Metrics) Replayed() {
	if m == nil {
		return
	}
	m.ReplayedTotal.Inc()
}

// Appended counts one WAL append.
func (m *Metrics) Appended() {
	if m == nil {
		return
	}
	m.WALAppendsTotal.Inc()
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
