package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQMetrics contains Prometheus metrics for queue publishing and consumption.
type MQMetrics struct {
	MessagesPushed      *prometheus.CounterVec
	PushFailures        *prometheus.CounterVec
	PushDuration        *prometheus.HistogramVec
	MessagesConsumed    *prometheus.CounterVec
	MessagesRedelivered *prometheus.CounterVec
	ConsumptionFailures *prometheus.CounterVec
	ConsumeDuration     *prometheus.HistogramVec
	ReconnectAttempts   prometheus.Counter
	ConnectionStatus    prometheus.Gauge
}

// NewMQMetrics creates and registers queue metrics.
func NewMQMetrics(namespace string) *MQMetrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mq",
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(name, help string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mq",
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"})
	}

	m := &MQMetrics{
		MessagesPushed:      counter("messages_pushed_total", "Total number of confirmed publishes", "queue"),
		PushFailures:        counter("push_failures_total", "Total number of publishes given up", "queue", "reason"),
		PushDuration:        histogram("push_duration_seconds", "Duration of confirmed publishes"),
		MessagesConsumed:    counter("messages_consumed_total", "Total number of deliveries stored and acked", "queue"),
		MessagesRedelivered: counter("messages_redelivered_total", "Total number of deliveries flagged as redelivered", "queue"),
		ConsumptionFailures: counter("consumption_failures_total", "Total number of deliveries that could not be stored", "queue", "reason"),
		ConsumeDuration:     histogram("consume_duration_seconds", "Duration of delivery handling"),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mq",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of broker connection attempts",
		}),
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mq",
			Name:      "connection_status",
			Help:      "Broker connection status of the last client to change it (1=connected, 0=disconnected)",
		}),
	}

	MustRegister(
		m.MessagesPushed,
		m.PushFailures,
		m.PushDuration,
		m.MessagesConsumed,
		m.MessagesRedelivered,
		m.ConsumptionFailures,
		m.ConsumeDuration,
		m.ReconnectAttempts,
		m.ConnectionStatus,
	)

	return m
}
