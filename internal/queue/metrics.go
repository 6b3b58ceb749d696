package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished counts published task messages.
	// Labels: driver (amqp, nats), result (success, error)
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "queue",
			Name:      "messages_published_total",
			Help:      "Total number of task messages published",
		},
		[]string{"driver", "result"},
	)

	// MessagesConsumed counts consumed task messages.
	// Labels: driver, result (acked, dropped)
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "queue",
			Name:      "messages_consumed_total",
			Help:      "Total number of task messages consumed",
		},
		[]string{"driver", "result"},
	)
)

func observePublish(driver string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	MessagesPublished.WithLabelValues(driver, result).Inc()
}

func observeConsume(driver string, err error) {
	result := "acked"
	if err != nil {
		result = "dropped"
	}
	MessagesConsumed.WithLabelValues(driver, result).Inc()
}
