// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the proxy's Prometheus metrics: discovery pass
// outcomes, proxied tool call volume, and the size of the registered
// catalog.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DiscoveryRuns counts discovery attempts per server and outcome.
	DiscoveryRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolgate",
		Name:      "discovery_runs_total",
		Help:      "Discovery attempts against backend servers.",
	}, []string{"server", "outcome"})

	// ToolCalls counts proxied tool executions per server and outcome.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolgate",
		Name:      "tool_calls_total",
		Help:      "Proxied tool executions.",
	}, []string{"server", "outcome"})

	// ValidationFailures counts calls rejected before reaching a backend.
	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toolgate",
		Name:      "validation_failures_total",
		Help:      "Tool calls rejected by input schema validation.",
	})

	// ProcessingFailures counts backend results rejected as malformed.
	ProcessingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toolgate",
		Name:      "processing_failures_total",
		Help:      "Backend tool results rejected by the result processor.",
	})

	// RegisteredTools tracks the current size of the aggregated catalog.
	RegisteredTools = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolgate",
		Name:      "registered_tools",
		Help:      "Tools currently registered in the aggregated catalog.",
	})
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
