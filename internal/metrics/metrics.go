// Package metrics exposes Prometheus counters for sign-in flows and directory mutations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginFlows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountd_login_flows_total",
		Help: "Interactive sign-in flows by terminal state (succeeded, cancelled, timed_out, failed)",
	}, []string{"outcome"})
	LoginFlowDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accountd_login_flow_duration_seconds",
		Help:    "Time from flow start to terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"outcome"})
	StoreMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountd_store_mutations_total",
		Help: "Persisted account directory mutations by operation",
	}, []string{"op"})
	ShellConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "accountd_shell_connected",
		Help: "1 while a GUI shell is attached to the surface relay",
	})
)

func init() {
	prometheus.MustRegister(LoginFlows)
	prometheus.MustRegister(LoginFlowDuration)
	prometheus.MustRegister(StoreMutations)
	prometheus.MustRegister(ShellConnections)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
