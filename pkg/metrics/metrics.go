// Package metrics defines the Prometheus metrics exported by mailsift.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_messages_processed_total",
			Help: "Total number of messages processed by final status",
		},
		[]string{"status"},
	)

	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailsift_process_duration_seconds",
			Help:    "End-to-end duration of successful pipeline runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsift_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"stage"},
	)

	AttachmentFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsift_attachment_extraction_failures_total",
			Help: "Total number of attachments whose text extraction failed",
		},
	)

	CoalescedRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsift_coalesced_requests_total",
			Help: "Total number of requests that shared another caller's in-flight computation",
		},
	)
)

// Cache metrics
var (
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"tier"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_cache_misses_total",
			Help: "Total number of result cache misses",
		},
		[]string{"tier"},
	)

	CacheEntriesCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsift_cache_entries_current",
			Help: "Current number of entries in the result cache",
		},
		[]string{"tier"},
	)
)

// Database metrics
var (
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsift_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)
)

// Object storage metrics
var (
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_s3_operations_total",
			Help: "Total number of S3 operations by result",
		},
		[]string{"operation", "status"},
	)

	S3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsift_s3_operation_duration_seconds",
			Help:    "Duration of S3 operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// HTTP API metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsift_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)
