// Package metrics holds the Prometheus collectors of the footfall binaries.
// Every New*Metrics constructor registers on Registry and may run once per
// namespace and process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry served by Handler.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)
}

// Handler serves Registry in the Prometheus text or OpenMetrics format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		Registry:          Registry,
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors on Registry and panics on conflicts.
func MustRegister(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}
