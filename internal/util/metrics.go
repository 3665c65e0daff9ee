package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OfflineWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_offline_writes_total",
		Help: "Total number of writes applied optimistically and queued for replay",
	}, []string{"type"})

	TerminalErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_terminal_errors_total",
		Help: "Total number of remote calls rejected with a non-retryable error",
	}, []string{"kind"})

	IntentReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_intent_replays_total",
		Help: "Total number of write intent replays",
	}, []string{"type", "outcome"})

	DrainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_drains_total",
		Help: "Total number of drain runs",
	}, []string{"outcome"})

	DrainLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_drain_latency_seconds",
		Help:    "Latency of drain runs",
		Buckets: prometheus.DefBuckets,
	})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_pending_intents",
		Help: "Number of write intents waiting for replay",
	})

	InventoryReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reads_total",
		Help: "Total number of inventory list reads by source",
	}, []string{"source"})

	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_remote_request_duration_seconds",
		Help:    "Latency of requests to the remote inventory service",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "status"})

	ConnectivityOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_connectivity_online",
		Help: "1 when the remote inventory service is reachable",
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
