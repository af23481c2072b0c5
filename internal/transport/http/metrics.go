package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	heartbeatTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keygate",
		Name:      "heartbeats_total",
		Help:      "Heartbeat requests by outcome.",
	}, []string{"outcome"})

	registrationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keygate",
		Name:      "registrations_total",
		Help:      "Registration requests by outcome.",
	}, []string{"outcome"})
)

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
