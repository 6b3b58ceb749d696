package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts embedding calls.
	// Labels: provider (http, fastembed), operation (embed_documents,
	// embed_query), result (success, error)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "embeddings",
			Name:      "requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "operation", "result"},
	)

	// RequestDuration tracks how long embedding calls take, retries
	// included.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "embeddings",
			Name:      "request_duration_seconds",
			Help:      "Duration of embedding requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// BatchSize tracks texts per request.
	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "embeddings",
			Name:      "batch_size",
			Help:      "Number of texts per embedding request",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"provider"},
	)

	// TokensConsumed counts upstream token usage.
	// Labels: provider, kind (prompt, total)
	TokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "embeddings",
			Name:      "tokens_total",
			Help:      "Total tokens consumed by embedding requests",
		},
		[]string{"provider", "kind"},
	)
)

func observeEmbed(provider, operation string, start time.Time, batch int, usage Usage, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RequestsTotal.WithLabelValues(provider, operation, result).Inc()
	RequestDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
	if batch > 0 {
		BatchSize.WithLabelValues(provider).Observe(float64(batch))
	}
	if usage.PromptTokens > 0 {
		TokensConsumed.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.TotalTokens > 0 {
		TokensConsumed.WithLabelValues(provider, "total").Add(float64(usage.TotalTokens))
	}
}
