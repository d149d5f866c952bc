package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the sensor simulator.
type SimulatorMetrics struct {
	ReadingsSent      *prometheus.CounterVec
	SendFailures      *prometheus.CounterVec
	SendDuration      *prometheus.HistogramVec
	DevicesRegistered prometheus.Counter
	ActiveSensors     prometheus.Gauge
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		ReadingsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "readings_sent_total",
				Help:      "Total number of simulated readings sent",
			},
			[]string{"sink"}, // sink: http, amqp
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "send_failures_total",
				Help:      "Total number of failed sends",
			},
			[]string{"sink", "kind"}, // kind: reading, device
		),
		SendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "send_duration_seconds",
				Help:      "Duration of send operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
		DevicesRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "devices_registered_total",
				Help:      "Total number of devices registered by the simulator",
			},
		),
		ActiveSensors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "active_sensors",
				Help:      "Number of simulated sensors",
			},
		),
	}

	MustRegister(
		m.ReadingsSent,
		m.SendFailures,
		m.SendDuration,
		m.DevicesRegistered,
		m.ActiveSensors,
	)

	return m
}
