package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of webhook deliveries by provider and outcome",
	}, []string{"provider", "result"})

	TransfersMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_matched_total",
		Help: "Total number of bank statement rows matched to a pending order",
	})

	TransfersUnmatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfers_unmatched_total",
		Help: "Total number of bank statement rows left unmatched",
	}, []string{"reason"})

	TransitionsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_applied_total",
		Help: "Total number of order status transitions applied",
	}, []string{"target", "cause"})

	PaymentsConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_confirmed_total",
		Help: "Total number of bank-transfer payments confirmed",
	}, []string{"cause"})

	IDAllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sequential_id_allocations_total",
		Help: "Total number of sequential payment id allocations",
	}, []string{"prefix"})

	IDAllocationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sequential_id_allocation_retries_total",
		Help: "Total number of id allocations retried after a uniqueness conflict",
	})

	ReconcileRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_rows_total",
		Help: "Total number of bank statement rows processed by bulk reconciliation",
	})

	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconcile_batch_latency_seconds",
		Help:    "Latency of bulk reconciliation batches",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Total number of payment events published to the broker",
	})

	NotificationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of payment events that failed to publish",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
