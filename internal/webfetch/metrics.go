package webfetch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts page fetches.
	// Labels: result (success, blocked, error)
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "webfetch",
			Name:      "fetches_total",
			Help:      "Total number of web page fetches",
		},
		[]string{"result"},
	)

	// FetchDuration tracks how long page fetches take.
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "webfetch",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of web page fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CapturedChars tracks excerpt sizes of successful fetches.
	CapturedChars = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "webfetch",
			Name:      "captured_chars",
			Help:      "Number of excerpt characters captured per fetch",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 6),
		},
	)
)

func observeFetch(start time.Time, page *Page, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrPrivateAddress),
		errors.Is(err, ErrSchemeNotAllowed),
		errors.Is(err, ErrMissingHost):
		result = "blocked"
	case err != nil:
		result = "error"
	}
	FetchesTotal.WithLabelValues(result).Inc()
	FetchDuration.Observe(time.Since(start).Seconds())
	if err == nil && page != nil {
		CapturedChars.Observe(float64(page.CapturedChars))
	}
}
