package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pisa",
		Subsystem: "service",
		Name:      "transform_builds_total",
		Help:      "Transforms actually constructed, by stage and service.",
	}, []string{"stage", "service"})

	appliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pisa",
		Subsystem: "service",
		Name:      "transform_applies_total",
		Help:      "Transforms actually applied to inputs, by stage and service.",
	}, []string{"stage", "service"})

	templatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pisa",
		Subsystem: "pipeline",
		Name:      "template_generations_total",
		Help:      "Completed template generations.",
	})

	templateSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pisa",
		Subsystem: "pipeline",
		Name:      "template_generation_seconds",
		Help:      "Wall-clock latency of a full pipeline walk.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)
