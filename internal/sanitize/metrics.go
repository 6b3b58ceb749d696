package sanitize

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zricethezav/gitleaks/v8/report"
)

var (
	// ScrubsTotal counts scrub passes.
	// Labels: result (clean, redacted)
	ScrubsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "sanitize",
			Name:      "scrubs_total",
			Help:      "Total number of scrub passes over fetched text",
		},
		[]string{"result"},
	)

	// SecretsRedacted counts redacted findings by rule.
	SecretsRedacted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "sanitize",
			Name:      "secrets_redacted_total",
			Help:      "Total number of secrets redacted, by gitleaks rule",
		},
		[]string{"rule"},
	)

	// ScrubDuration tracks detection time per pass.
	ScrubDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "sanitize",
			Name:      "scrub_duration_seconds",
			Help:      "Duration of secret detection passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func observeScrub(start time.Time, findings []report.Finding) {
	result := "clean"
	if len(findings) > 0 {
		result = "redacted"
	}
	ScrubsTotal.WithLabelValues(result).Inc()
	ScrubDuration.Observe(time.Since(start).Seconds())
	for _, f := range findings {
		SecretsRedacted.WithLabelValues(f.RuleID).Inc()
	}
}
