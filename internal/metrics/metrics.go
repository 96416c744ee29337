// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics holds the Prometheus collectors for the chat client and
// the development backend. Collectors register with the default registry;
// Handler exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exchange outcomes.
const (
	OutcomeComplete   = "complete"
	OutcomeError      = "error"
	OutcomeCancelled  = "cancelled"
	OutcomeTransport  = "transport_failure"
	OutcomeEndedEarly = "ended_early"
)

var (
	// Transport metrics
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memchat_backend_requests_total",
			Help: "Requests issued to the chat backend",
		},
		[]string{"endpoint", "result"}, // result: http status code, "network" or "cancelled"
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memchat_backend_request_duration_seconds",
			Help:    "Time until backend response headers arrive",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// Stream metrics
	StreamRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memchat_stream_records_total",
			Help: "Stream records decoded, by type",
		},
		[]string{"type"},
	)

	StreamRecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memchat_stream_records_dropped_total",
			Help: "Malformed stream records dropped by the decoder",
		},
	)

	// Exchange metrics
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memchat_exchanges_total",
			Help: "Finished chat exchanges",
		},
		[]string{"mode", "outcome"}, // mode: "unary" or "streaming"
	)

	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memchat_exchange_duration_seconds",
			Help:    "Submit to terminal record",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	TimeToFirstContent = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memchat_time_to_first_content_seconds",
			Help:    "Submit to first content record on streaming exchanges",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	ExchangesSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memchat_exchanges_superseded_total",
			Help: "Exchanges cancelled because a newer one started",
		},
	)

	// Development backend metrics
	MockRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memchat_mockbackend_requests_total",
			Help: "Requests served by the development backend",
		},
		[]string{"method", "path", "status"},
	)
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
