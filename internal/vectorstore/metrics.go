package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchesTotal counts similarity searches.
	// Labels: driver (pgvector, chromem, qdrant), result (success, error)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "searches_total",
			Help:      "Total number of similarity searches",
		},
		[]string{"driver", "result"},
	)

	// SearchDuration tracks how long similarity searches take.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"driver"},
	)

	// SearchHits tracks how many results searches return.
	SearchHits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "search_hits",
			Help:      "Number of hits returned per search",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		},
		[]string{"driver"},
	)

	// ChunksInserted counts chunk insertions.
	// Labels: driver, result (success, error)
	ChunksInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "chunks_inserted_total",
			Help:      "Total number of chunks inserted",
		},
		[]string{"driver", "result"},
	)

	// ChunksDeleted counts chunks removed by document deletion.
	ChunksDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "chunks_deleted_total",
			Help:      "Total number of chunks deleted",
		},
		[]string{"driver"},
	)

	// RerankExpandedChunks counts sibling chunks pulled in by the
	// parent/child rerank.
	RerankExpandedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "rerank_expanded_chunks_total",
			Help:      "Total number of sibling chunks added by parent/child reranking",
		},
	)
)

func observeSearch(driver string, start time.Time, hits int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	SearchesTotal.WithLabelValues(driver, result).Inc()
	SearchDuration.WithLabelValues(driver).Observe(time.Since(start).Seconds())
	if err == nil {
		SearchHits.WithLabelValues(driver).Observe(float64(hits))
	}
}

func observeInsert(driver string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ChunksInserted.WithLabelValues(driver, result).Inc()
}

func observeDelete(driver string, deleted int) {
	if deleted > 0 {
		ChunksDeleted.WithLabelValues(driver).Add(float64(deleted))
	}
}

func observeExpanded(hits []Hit) {
	expanded := 0
	for _, h := range hits {
		if h.Expanded {
			expanded++
		}
	}
	if expanded > 0 {
		RerankExpandedChunks.Add(float64(expanded))
	}
}
