// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics owns the prometheus registry and the application
// collectors. The registry is always populated; the HTTP exposition server
// only runs when enabled in the configuration.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Manager struct {
	registry *prometheus.Registry

	StreamRequests        prometheus.Counter
	StreamsResolved       *prometheus.CounterVec
	DownloadResolutions   *prometheus.CounterVec
	RateLimitRejections   prometheus.Counter
	OrchestrationDuration prometheus.Histogram
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		StreamRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streambridge_stream_requests_total",
			Help: "Stream listing requests served.",
		}),
		StreamsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streambridge_streams_resolved_total",
			Help: "Streams resolved as cached, by debrid provider.",
		}, []string{"provider"}),
		DownloadResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streambridge_download_resolutions_total",
			Help: "Download resolutions, by outcome kind.",
		}, []string{"outcome"}),
		RateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streambridge_rate_limit_rejections_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
		OrchestrationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streambridge_orchestration_duration_seconds",
			Help:    "Wall time of a full stream orchestration.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.StreamRequests,
		m.StreamsResolved,
		m.DownloadResolutions,
		m.RateLimitRejections,
		m.OrchestrationDuration,
	)

	return m
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for this registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer builds the standalone metrics server. It is only started when
// metrics are enabled; it shares nothing with the main API server.
func NewServer(host string, port int, m *Manager) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
}
