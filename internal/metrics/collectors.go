// Package metrics aggregates daily knowledge-base usage counters and exposes
// them as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the process-level Prometheus metrics.
type Collectors struct {
	replies         *prometheus.CounterVec
	feedback        *prometheus.CounterVec
	matchConfidence prometheus.Histogram
	retrievalTime   *prometheus.HistogramVec
	estimatedSaved  prometheus.Counter
}

// NewCollectors registers the collectors on registry. A nil registry falls
// back to the default registerer.
func NewCollectors(registry prometheus.Registerer, namespace string) *Collectors {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "knowledge_engine"
	}
	factory := promauto.With(registry)

	return &Collectors{
		replies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "replies_total",
				Help:      "Replies produced, by source (faq, knowledge_base, llm)",
			},
			[]string{"source"},
		),
		feedback: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feedback",
				Name:      "outcomes_total",
				Help:      "Feedback outcomes by action",
			},
			[]string{"action"},
		),
		matchConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "match_confidence",
				Help:      "Confidence of locally answered questions",
				Buckets:   []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
			},
		),
		retrievalTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "duration_seconds",
				Help:      "Time spent answering a question, by outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		estimatedSaved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "estimated_cost_saved_total",
				Help:      "Estimated external model spend avoided by local answers",
			},
		),
	}
}

// ObserveRetrieval records how long a retrieval took.
func (c *Collectors) ObserveRetrieval(outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.retrievalTime.WithLabelValues(outcome).Observe(seconds)
}
