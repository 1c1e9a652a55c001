/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediabridge"

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_active_connections",
		Help:      "HTTP requests currently being served.",
	})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Connected event websocket clients.",
	})

	// Streaming
	StreamsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "streams_active",
		Help:      "Audio streams currently being served, by output format.",
	}, []string{"format"})

	StreamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_bytes_total",
		Help:      "Audio bytes written to clients, by output format.",
	}, []string{"format"})

	StreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_errors_total",
		Help:      "Audio streams ended by an error, by reason.",
	}, []string{"reason"})

	ArtworkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artwork_requests_total",
		Help:      "Album art requests by outcome (hit, generated, placeholder).",
	}, []string{"outcome"})

	// Control point
	ActionInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "action_invocations_total",
		Help:      "UPnP action invocations by service, action and outcome.",
	}, []string{"service", "action", "outcome"})

	RendererPollFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "renderer_poll_failures_total",
		Help:      "Position polls that failed or timed out.",
	})

	AutoAdvancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auto_advances_total",
		Help:      "Queue advances triggered by a renderer stopping.",
	})

	DiscoveredServices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "discovered_services",
		Help:      "Known remote services by kind.",
	}, []string{"kind"})

	// Library
	LibraryItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "library_items",
		Help:      "Tracks currently in the media index.",
	})

	LibrarySearchCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "library_search_cache_total",
		Help:      "Search cache lookups by result (hit, miss).",
	}, []string{"result"})

	// Database
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Database operation duration by operation and table.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Database operation failures.",
	}, []string{"operation", "type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections_active",
		Help:      "Open database connections.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
