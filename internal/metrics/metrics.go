// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics wires the Emulator's operational counters into Prometheus,
// following the direct-registration style of
// runZeroInc-sockstats/pkg/exporter/exporter.go and
// runZeroInc-sockstats/cmd/prom-metrics-gen (register concrete collectors at
// construction time, no custom Collector/Describe-Collect type needed for
// plain counters and gauges).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Emulator holds the counters and gauges the Emulator loop (C4) updates:
// the counters on each forward or drop, the queue-depth gauges on each
// enqueue and on each delay-queue tick.
type Emulator struct {
	Forwarded  prometheus.Counter
	Dropped    *prometheus.CounterVec // labeled by reason
	QueueDepth *prometheus.GaugeVec   // labeled by priority
}

// NewEmulator registers a fresh set of Emulator metrics against a private
// registry (never the global default, so multiple Emulator instances in the
// same test binary don't collide on registration).
func NewEmulator() (*Emulator, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := &Emulator{
		Forwarded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "linkrelay_emulator_forwarded_total",
			Help: "Packets forwarded to their next hop.",
		}),
		Dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "linkrelay_emulator_dropped_total",
			Help: "Packets dropped, by reason.",
		}, []string{"reason"}),
		QueueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkrelay_emulator_queue_depth",
			Help: "Current occupancy of each priority queue.",
		}, []string{"priority"}),
	}
	return m, reg
}

// Serve runs an HTTP server exposing reg on addr at /metrics. It blocks
// while the server runs and returns only with the error that stopped it, so
// callers run it on its own goroutine.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
