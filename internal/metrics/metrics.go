package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gltrack"

// Metrics holds every collector of the service. Each instance owns its
// registry, so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// ingest side
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	HandshakeFailures prometheus.Counter
	BytesReceived     prometheus.Counter
	Frames            *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	DownlinksSent     prometheus.Counter

	// consumer side
	BatchesCommitted prometheus.Counter
	BatchesFailed    prometheus.Counter
	BatchesSkipped   prometheus.Counter
	RowsInserted     prometheus.Counter
	ModulesCreated   prometheus.Counter
	SessionsCreated  prometheus.Counter
	CorruptedStored  prometheus.Counter
	BatchDuration    prometheus.Histogram

	// live viewers
	LiveViewers  prometheus.Gauge
	LiveMessages prometheus.Counter
}

// New creates the collectors and registers them with Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "active_connections",
			Help: "Number of provider connections currently streaming",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "connections_total",
			Help: "Accepted provider connections that passed the handshake",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "handshake_failures_total",
			Help: "Connections closed because the first bytes were not the protocol magic",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "bytes_received_total",
			Help: "Bytes read from provider sockets",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "frames_total",
			Help: "Decoded frames by classification",
		}, []string{"result"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "publish_failures_total",
			Help: "Bus publishes that failed",
		}, []string{"channel"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "events_dropped_total",
			Help: "Events dropped because a queue was full",
		}),
		DownlinksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "downlinks_sent_total",
			Help: "Payloads written to provider sockets",
		}),

		BatchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "batches_committed_total",
			Help: "Batches committed to the database",
		}),
		BatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "batches_failed_total",
			Help: "Batches rolled back",
		}),
		BatchesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "batches_skipped_total",
			Help: "Batches with no valid module left after filtering",
		}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "rows_inserted_total",
			Help: "Data rows inserted",
		}),
		ModulesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "modules_created_total",
			Help: "Modules auto-provisioned on first sight",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "sessions_created_total",
			Help: "Sessions auto-created because none was live",
		}),
		CorruptedStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "corrupted_frames_stored_total",
			Help: "Corrupted frames kept for forensics",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "batch_duration_seconds",
			Help:    "Time spent in the batch transaction",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		LiveViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "live", Name: "viewers",
			Help: "Connected websocket viewers",
		}),
		LiveMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "live", Name: "messages_total",
			Help: "Updates broadcast to viewers",
		}),
	}

	m.registry.MustRegister(
		m.ActiveConnections, m.ConnectionsTotal, m.HandshakeFailures, m.BytesReceived,
		m.Frames, m.PublishFailures, m.EventsDropped, m.DownlinksSent,
		m.BatchesCommitted, m.BatchesFailed, m.BatchesSkipped, m.RowsInserted,
		m.ModulesCreated, m.SessionsCreated, m.CorruptedStored, m.BatchDuration,
		m.LiveViewers, m.LiveMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
