package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_received_total",
		Help: "Total number of payment gateway webhooks by outcome",
	}, []string{"result"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders marked paid from a webhook",
	})

	DuplicateWebhooksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_webhooks_duplicate_total",
		Help: "Total number of webhook redeliveries absorbed by the payin uniqueness constraint",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of order rejection requests by payment method and outcome",
	}, []string{"payment_method", "result"})

	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_total",
		Help: "Total number of refund payouts requested from the gateway",
	}, []string{"result"})

	PayoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payout_latency_seconds",
		Help:    "Latency of refund payout requests",
		Buckets: prometheus.DefBuckets,
	})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_calls_total",
		Help: "Total number of outbound RPC calls by target, pattern and outcome",
	}, []string{"target", "pattern", "result"})

	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Total number of side-effect jobs enqueued",
	}, []string{"name"})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Total number of side-effect jobs processed by outcome",
	}, []string{"name", "result"})

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
