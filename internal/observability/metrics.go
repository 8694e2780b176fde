package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// --- Request lifecycle ---
	RequestsSubmitted *prometheus.CounterVec
	RequestsFinalized *prometheus.CounterVec
	RequestsCancelled prometheus.Counter
	RequestsDropped   prometheus.Counter
	RequestsRecovered prometheus.Counter
	PendingBacklog    prometheus.Gauge
	ProcessingCount   prometheus.Gauge

	// --- Escrow accounting ---
	EscrowShortfalls  prometheus.Counter
	EscrowCorrections prometheus.Counter
	JournalsApplied   prometheus.Counter

	// --- Bridge worker & scheduler ---
	BatchesTotal   prometheus.Counter
	BatchDuration  prometheus.Histogram
	SchedulerDelay prometheus.Gauge

	// --- Channels & publishing ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDropped     prometheus.Counter
	EventsPublished    prometheus.Counter
	PublishErrors      prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Archive ---
	ArchiveRuns    prometheus.Counter
	ArchiveErrors  prometheus.Counter
	ArchivedEvents prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Request lifecycle
		RequestsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_requests_submitted_total",
			Help: "Requests accepted into the pending queue",
		}, []string{"kind"}),

		RequestsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_requests_finalized_total",
			Help: "Requests reaching a terminal status",
		}, []string{"kind", "outcome"}),

		RequestsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_requests_cancelled_total",
			Help: "Pending requests withdrawn by their requester or an admin",
		}),

		RequestsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_requests_dropped_total",
			Help: "Requests force-dropped through the admin surface",
		}),

		RequestsRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_requests_recovered_total",
			Help: "Stuck PROCESSING requests failed over by recovery",
		}),

		PendingBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_pending_backlog",
			Help: "Requests currently waiting in the pending queue",
		}),

		ProcessingCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_processing_count",
			Help: "Requests currently claimed by the worker",
		}),

		// Escrow accounting
		EscrowShortfalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_escrow_shortfalls_total",
			Help: "Start attempts refused because escrow could not cover the request",
		}),

		EscrowCorrections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_escrow_corrections_total",
			Help: "Admin escrow balance corrections applied",
		}),

		JournalsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_journals_applied_total",
			Help: "Double-entry journal rows applied to the balance tracker",
		}),

		// Bridge worker & scheduler
		BatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_batches_total",
			Help: "Worker batches run, including empty ones",
		}),

		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_batch_duration_seconds",
			Help:    "Wall time of one worker batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		SchedulerDelay: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_scheduler_delay_seconds",
			Help: "Delay the scheduler chose after the last batch",
		}),

		// Channels & publishing
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_events_published_total",
			Help: "Events published to JetStream",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_events_publish_errors_total",
			Help: "JetStream publish failures",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_persist_batch_size",
			Help:    "Events per write batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_persist_last_sequence",
			Help: "Last event sequence committed to Postgres",
		}),

		// Archive
		ArchiveRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_archive_runs_total",
			Help: "Archive sweeps completed",
		}),

		ArchiveErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_archive_errors_total",
			Help: "Archive sweeps that failed",
		}),

		ArchivedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_archived_events_total",
			Help: "Finalized request events exported to object storage",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
