package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful spawns.",
		}, []string{"server"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of explicit stops that removed the record.",
		}, []string{"server"},
	)
	serverDeaths = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "server",
			Name:      "deaths_total",
			Help:      "Number of unexpected child exits.",
		}, []string{"server"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "server",
			Name:      "spawn_failures_total",
			Help:      "Number of spawns that failed before a pid was assigned.",
		}, []string{"server"},
	)
	serverReattaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "server",
			Name:      "reattaches_total",
			Help:      "Number of surviving children adopted on startup.",
		}, []string{"server"},
	)
	killRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "kill_requests_total",
			Help:      "Number of direct kill requests by kind (pid or port).",
		}, []string{"kind"},
	)
	healthTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "health",
			Name:      "ticks_total",
			Help:      "Number of completed health monitor ticks.",
		},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Observed TCP port probe durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"},
	)
	runningServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "running_servers",
			Help:      "Servers whose child was alive at the last monitor tick.",
		},
	)
	orphanedProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "orphaned_processes",
			Help:      "Matched listeners without a live record at the last reconciliation.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serverStarts, serverStops, serverDeaths, spawnFailures, serverReattaches, killRequests, healthTicks, probeDuration, runningServers, orphanedProcesses}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(server string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(server).Inc()
	}
}
func IncStop(server string) {
	if regOK.Load() {
		serverStops.WithLabelValues(server).Inc()
	}
}
func IncDeath(server string) {
	if regOK.Load() {
		serverDeaths.WithLabelValues(server).Inc()
	}
}
func IncSpawnFailure(server string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(server).Inc()
	}
}
func IncReattach(server string) {
	if regOK.Load() {
		serverReattaches.WithLabelValues(server).Inc()
	}
}
func IncKillRequest(kind string) {
	if regOK.Load() {
		killRequests.WithLabelValues(kind).Inc()
	}
}
func IncHealthTick() {
	if regOK.Load() {
		healthTicks.Inc()
	}
}
func ObserveProbeDuration(server string, seconds float64) {
	if regOK.Load() {
		probeDuration.WithLabelValues(server).Observe(seconds)
	}
}
func SetRunningServers(n int) {
	if regOK.Load() {
		runningServers.Set(float64(n))
	}
}
func SetOrphanedProcesses(n int) {
	if regOK.Load() {
		orphanedProcesses.Set(float64(n))
	}
}
