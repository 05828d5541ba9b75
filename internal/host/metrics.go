// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package host

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// unmatched labels requests no endpoint claimed.
const unmatched = "none"

// EndpointRequests counts dispatched requests by owning module and status.
// Use RegisterMetrics to register this with a Prometheus registry.
var EndpointRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "meetbundle_endpoint_requests_total",
		Help: "Total number of requests dispatched to module endpoints",
	},
	[]string{"module", "status"},
)

// RegisterMetrics registers host package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EndpointRequests)
}

func recordRequest(module string, status int) {
	EndpointRequests.WithLabelValues(module, strconv.Itoa(status)).Inc()
}
