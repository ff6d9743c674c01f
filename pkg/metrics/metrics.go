package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AlertsDispatched         *prometheus.CounterVec
	ActiveSessions           *prometheus.GaugeVec
	SessionResolutions       *prometheus.CounterVec
	DecisionDuration         *prometheus.HistogramVec
	CleanupFailures          *prometheus.CounterVec
	WakeAssertionsHeld       prometheus.Gauge
	ForcedReleases           *prometheus.CounterVec
	HandoffDeliveries        *prometheus.CounterVec
	StoreOperationDuration   *prometheus.HistogramVec
	StoreDegraded            *prometheus.CounterVec
	LeaseChanges             prometheus.Counter
	StreamProcessingDuration prometheus.Histogram
	StreamMessagesProcessed  *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg. Tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AlertsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_dispatched_total",
			Help: "Total number of alert events by dispatch outcome",
		}, []string{"kind", "outcome"}),
		ActiveSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alert_sessions_active",
			Help: "Active decision windows per kind",
		}, []string{"kind"}),
		SessionResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_session_terminations_total",
			Help: "Decision windows reaching a terminal state",
		}, []string{"kind", "state", "resolution"}),
		DecisionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alert_decision_duration_seconds",
			Help:    "Time from alert receipt to terminal state",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 60},
		}, []string{"kind"}),
		CleanupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_cleanup_failures_total",
			Help: "Terminal cleanup steps that failed",
		}, []string{"step"}),
		WakeAssertionsHeld: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wake_assertions_held",
			Help: "Wake assertions currently held",
		}),
		ForcedReleases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bounded_resource_forced_releases_total",
			Help: "Resources released by their hard upper-bound timer",
		}, []string{"resource"}),
		HandoffDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_deliveries_total",
			Help: "Resume bridge handoff deliveries by status",
		}, []string{"kind", "status"}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Time taken for payload store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		StoreDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "store_degraded_operations_total",
			Help: "Store operations served by the in-memory fallback",
		}, []string{"operation"}),
		LeaseChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "device_lease_changes_total",
			Help: "Total number of device lease acquisitions",
		}),
		StreamProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stream_processing_duration_seconds",
			Help:    "Time taken to process stream messages",
			Buckets: prometheus.DefBuckets,
		}),
		StreamMessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_messages_processed_total",
			Help: "Total number of stream messages processed",
		}, []string{"status"}),
	}
}
