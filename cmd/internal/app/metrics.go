package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courier/cmd/internal/realtime"
)

// newMetrics creates the process-wide Prometheus registry plus the realtime
// metric set, and returns the /metrics handler backed by it.
func newMetrics() (*realtime.Metrics, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt := realtime.NewMetrics(reg)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return rt, h
}
