package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts consumed tasks by outcome.
	// Labels: result (completed, failed, dropped)
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Total number of ingestion tasks consumed",
		},
		[]string{"result"},
	)

	// TaskDuration tracks end-to-end task processing time.
	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Duration of ingestion task processing in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// ChunksPerDocument tracks how many chunks each completed document
	// produced.
	ChunksPerDocument = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "worker",
			Name:      "chunks_per_document",
			Help:      "Number of chunks indexed per completed document",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

func observeTask(result string, start time.Time, chunks int) {
	TasksTotal.WithLabelValues(result).Inc()
	TaskDuration.Observe(time.Since(start).Seconds())
	if result == "completed" {
		ChunksPerDocument.Observe(float64(chunks))
	}
}
