package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quote_stage_duration_seconds",
			Help:    "Duration of quote pipeline stages by stage and outcome.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
		},
		[]string{"stage", "outcome"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_requests_total",
			Help: "Total number of quote pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_notifications_total",
			Help: "Total number of operator notifications by outcome.",
		},
		[]string{"outcome"},
	)
)
