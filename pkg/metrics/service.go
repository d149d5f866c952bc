package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceMetrics contains Prometheus metrics for the footfall service.
type ServiceMetrics struct {
	ReadingsIngested     *prometheus.CounterVec
	StoreUp              prometheus.Gauge
	StoreConnectAttempts prometheus.Counter
	ActiveConsumers      prometheus.Gauge
	BroadcastClients     prometheus.Gauge
	BroadcastEvents      prometheus.Counter
	BroadcastDropped     prometheus.Counter
}

// NewServiceMetrics creates and registers footfall service metrics.
func NewServiceMetrics(namespace string) *ServiceMetrics {
	m := &ServiceMetrics{
		ReadingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "readings_total",
				Help:      "Total number of readings ingested",
			},
			[]string{"source", "status"}, // source: http, amqp, mqtt; status: success, invalid, error
		),
		StoreUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "up",
				Help:      "Whether the store connection is established (1=connected, 0=disconnected)",
			},
		),
		StoreConnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "connect_attempts_total",
				Help:      "Total number of store connection attempts",
			},
		),
		ActiveConsumers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "active_consumers",
				Help:      "Number of active message consumers",
			},
		),
		BroadcastClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "clients",
				Help:      "Number of connected real-time observers",
			},
		),
		BroadcastEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "events_total",
				Help:      "Total number of events fanned out",
			},
		),
		BroadcastDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "dropped_clients_total",
				Help:      "Total number of observers dropped for falling behind",
			},
		),
	}

	MustRegister(
		m.ReadingsIngested,
		m.StoreUp,
		m.StoreConnectAttempts,
		m.ActiveConsumers,
		m.BroadcastClients,
		m.BroadcastEvents,
		m.BroadcastDropped,
	)

	return m
}
