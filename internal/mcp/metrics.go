package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "gateway",
			Name:      "invocations_total",
			Help:      "Tool invocations by source and outcome.",
		},
		[]string{"source", "status"},
	)

	discoverySyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "gateway",
			Name:      "discovery_syncs_total",
			Help:      "Discovery sync attempts by outcome.",
		},
		[]string{"result"},
	)
)

func observeInvocation(source, status string) {
	invocationsTotal.WithLabelValues(source, status).Inc()
}

func observeDiscovery(result string) {
	discoverySyncsTotal.WithLabelValues(result).Inc()
}
