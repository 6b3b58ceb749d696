package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ask modes for the asks_total metric.
const (
	modeRAG  = "rag"
	modeChat = "chat"
)

var (
	// AsksTotal counts answered questions by mode and outcome.
	// Labels: mode (rag, chat), status (success, failed)
	AsksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "rag",
			Name:      "asks_total",
			Help:      "Total number of ask pipeline runs",
		},
		[]string{"mode", "status"},
	)

	// AskDuration tracks end-to-end ask latency.
	AskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "rag",
			Name:      "ask_duration_seconds",
			Help:      "Duration of ask pipeline runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// HitsPerAsk tracks how many chunks each answered question was
	// grounded on.
	HitsPerAsk = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "rag",
			Name:      "hits_per_ask",
			Help:      "Retrieved chunks per answered question",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		},
	)

	// SearchesTotal counts retrieval-only queries by outcome.
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "rag",
			Name:      "searches_total",
			Help:      "Total number of retrieval-only searches",
		},
		[]string{"status"},
	)

	// GenerationsTotal counts chat completion calls by outcome.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "rag",
			Name:      "generations_total",
			Help:      "Total number of chat completion calls",
		},
		[]string{"status"},
	)

	// GenerateDuration tracks chat completion latency.
	GenerateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "rag",
			Name:      "generate_duration_seconds",
			Help:      "Duration of chat completion calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func observeAsk(mode, status string, start time.Time, hits int) {
	AsksTotal.WithLabelValues(mode, status).Inc()
	AskDuration.Observe(time.Since(start).Seconds())
	if status == "success" && mode == modeRAG {
		HitsPerAsk.Observe(float64(hits))
	}
}

func observeSearch(status string) {
	SearchesTotal.WithLabelValues(status).Inc()
}

func observeGenerate(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	GenerationsTotal.WithLabelValues(status).Inc()
	GenerateDuration.Observe(time.Since(start).Seconds())
}
