package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Server metrics
	ConnectedAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ankaios_connected_agents",
			Help: "Number of currently connected agents",
		},
	)

	DesiredWorkloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ankaios_desired_workloads",
			Help: "Number of workloads in the desired state",
		},
	)

	UpdateStateRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ankaios_update_state_requests_total",
			Help: "Total number of UpdateState requests processed",
		},
	)

	UpdateStateRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ankaios_update_state_rejected_total",
			Help: "Total number of UpdateState requests rejected by validation",
		},
	)

	WorkloadStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ankaios_workload_state_transitions_total",
			Help: "Total workload state observations aggregated, by state",
		},
		[]string{"state"},
	)

	// Agent metrics
	WorkloadCreatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ankaios_workload_creates_total",
			Help: "Total workload create attempts, by result",
		},
		[]string{"result"},
	)

	WorkloadRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ankaios_workload_retries_total",
			Help: "Total scheduled create retries",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectedAgents,
		DesiredWorkloads,
		UpdateStateRequestsTotal,
		UpdateStateRejectedTotal,
		WorkloadStateTransitionsTotal,
		WorkloadCreatesTotal,
		WorkloadRetriesTotal,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
