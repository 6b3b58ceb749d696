package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts orchestration passes.
	// Labels: web (used, none), deep_think (on, off)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Total number of tool orchestration passes",
		},
		[]string{"web", "deep_think"},
	)

	// WebSourcesPerRun tracks how many pages were quoted as evidence in
	// one pass.
	WebSourcesPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "orchestrator",
			Name:      "web_sources_per_run",
			Help:      "Number of web sources gathered per orchestration pass",
			Buckets:   prometheus.LinearBuckets(0, 1, 13),
		},
	)
)

func observeRun(res *Result) {
	web := "none"
	if len(res.WebSources) > 0 {
		web = "used"
	}
	deepThink := "off"
	if res.DeepThinkSummary != "" {
		deepThink = "on"
	}
	RunsTotal.WithLabelValues(web, deepThink).Inc()
	WebSourcesPerRun.Observe(float64(len(res.WebSources)))
}
