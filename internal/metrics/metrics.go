package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventtracker_sessions_acquired_total",
		Help: "Total number of sessions checked out of the connection pool.",
	})

	SessionAcquireFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventtracker_session_acquire_failures_total",
		Help: "Total number of session acquisitions that failed or timed out.",
	})

	SessionAcquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventtracker_session_acquire_seconds",
		Help:    "Time spent waiting for a pooled connection.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	SessionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventtracker_sessions_in_use",
		Help: "Sessions currently checked out and not yet released.",
	})

	EventsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventtracker_events_created_total",
		Help: "Total number of events stored.",
	})

	EventsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventtracker_events_deleted_total",
		Help: "Total number of events deleted.",
	})

	SchemaEnsure = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventtracker_schema_ensure_total",
		Help: "Schema initialization runs, labelled by result.",
	}, []string{"result"})
)

// Register adds extra collectors (such as a pool's DB stats collector) to the
// default registry. Already registered collectors are ignored.
func Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
