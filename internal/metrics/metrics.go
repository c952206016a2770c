// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts student scans by outcome ("ok" or an error kind).
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_submissions_total",
		Help: "Attendance submissions by outcome.",
	}, []string{"outcome"})

	// ManualMarks counts lecturer/admin marks, including bulk and approved corrections.
	ManualMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_manual_marks_total",
		Help: "Administrative attendance marks by source.",
	}, []string{"source"})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_sessions_created_total",
		Help: "Class sessions created.",
	})

	// AuditDropped counts audit events discarded because the buffer was full.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_audit_dropped_total",
		Help: "Audit events dropped on a full buffer.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})

	FeedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attendance_feed_connections",
		Help: "Open live-feed websocket connections.",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_http_request_duration_seconds",
		Help:    "HTTP request duration by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
