// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package loader

import "github.com/prometheus/client_golang/prometheus"

// archivesOpen tracks archive handles held by all loaders in the process.
var archivesOpen = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "meetbundle_loader_archives_open",
		Help: "Number of module archive handles currently held open",
	},
)

// RegisterMetrics registers loader metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(archivesOpen)
}
