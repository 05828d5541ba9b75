// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package module

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Lifecycle operation labels.
const (
	OperationLoad   = "load"
	OperationUnload = "unload"
	OperationReload = "reload"
)

// Status labels for operation metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ModuleOperations counts lifecycle operations per module.
// Use RegisterMetrics to register this with a Prometheus registry.
var ModuleOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "meetbundle_module_operations_total",
		Help: "Total number of module lifecycle operations",
	},
	[]string{"module", "operation", "status"},
)

// ModuleOperationDuration observes lifecycle operation latency.
// Use RegisterMetrics to register this with a Prometheus registry.
var ModuleOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "meetbundle_module_operation_duration_seconds",
		Help:    "Module lifecycle operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"module", "operation"},
)

// ModulesLoaded is the number of modules currently registered.
var ModulesLoaded = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "meetbundle_modules_loaded",
		Help: "Number of modules currently registered with the manager",
	},
)

// RegisterMetrics registers module package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ModuleOperations)
	reg.MustRegister(ModuleOperationDuration)
	reg.MustRegister(ModulesLoaded)
}

func recordOperation(name, op string, err error, d time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	ModuleOperations.WithLabelValues(name, op, status).Inc()
	ModuleOperationDuration.WithLabelValues(name, op).Observe(d.Seconds())
}
