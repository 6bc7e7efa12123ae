// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omglabs/omg/pkg/cache"
)

// metrics holds the daemon's Prometheus collectors. Each daemon carries
// its own registry so multiple instances (tests, in particular) never
// collide on registration.
type metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	activeConns prometheus.Gauge
	rejected    prometheus.Counter
	refreshRuns prometheus.Counter
	refreshErrs prometheus.Counter
}

func newMetrics(c *cache.Cache) *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omg_requests_total",
			Help: "Requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "omg_active_connections",
			Help: "Connections currently being served.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omg_connections_rejected_total",
			Help: "Connections closed because the concurrency cap was reached.",
		}),
		refreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omg_refresh_runs_total",
			Help: "Completed refresh worker runs.",
		}),
		refreshErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omg_refresh_failures_total",
			Help: "Refresh worker runs that failed before publishing.",
		}),
	}
	reg.MustRegister(m.requests, m.activeConns, m.rejected, m.refreshRuns, m.refreshErrs)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "omg_cache_entries",
		Help: "Entries currently cached.",
	}, func() float64 { return float64(c.Stats().Size) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "omg_cache_hits_total",
		Help: "Cache hits.",
	}, func() float64 { return float64(c.Stats().Hits) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "omg_cache_misses_total",
		Help: "Cache misses.",
	}, func() float64 { return float64(c.Stats().Misses) }))
	return m
}

// MetricsHandler exposes the daemon's registry for an HTTP metrics
// endpoint.
func (d *Daemon) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(d.metrics.registry, promhttp.HandlerOpts{})
}
