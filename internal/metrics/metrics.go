// Copyright 2024 The CFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes a Prometheus registry of the counters and
// histograms a capsule client/server pair produces, mirroring the shape of
// gcsfuse's own fs_op/gcs/file_cache metric families (common/otel_metrics.go)
// but wired directly to client_golang instead of an OTel meter provider.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cfs"

// Metrics holds every counter, histogram and gauge the capsule clients and
// the mount's inode-cache build report through. Callers without one (tests,
// a not-enabled mount) pass a nil *Metrics; capsule.Client then skips every
// observation.
type Metrics struct {
	registry *prometheus.Registry

	capsuleOpsTotal   *prometheus.CounterVec
	capsuleOpDuration *prometheus.HistogramVec
	cacheLookupsTotal *prometheus.CounterVec
	cacheSize         *prometheus.GaugeVec
	inodeCacheBuild   prometheus.Histogram
}

// New constructs a Metrics with its own private registry, so repeated
// mounts in the same test binary never collide on prometheus's global
// DefaultRegisterer.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		capsuleOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capsule",
			Name:      "ops_total",
			Help:      "Count of capsule Get/Put/Leafs calls, by capsule and operation, split by outcome.",
		}, []string{"capsule", "op", "outcome"}),
		capsuleOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capsule",
			Name:      "op_duration_seconds",
			Help:      "Latency of capsule Get/Put/Leafs calls, by capsule and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capsule", "op"}),
		cacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capsule",
			Name:      "cache_lookups_total",
			Help:      "Count of Client LRU cache lookups, by capsule and hit/miss.",
		}, []string{"capsule", "result"}),
		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capsule",
			Name:      "cache_size",
			Help:      "Current entry count of a Client's LRU cache, by capsule.",
		}, []string{"capsule"}),
		inodeCacheBuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inodecache",
			Name:      "build_duration_seconds",
			Help:      "Latency of an inode Cache.Build traversal from its root hash.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(
		m.capsuleOpsTotal,
		m.capsuleOpDuration,
		m.cacheLookupsTotal,
		m.cacheSize,
		m.inodeCacheBuild,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCapsuleOp records one capsule RPC's latency and outcome.
func (m *Metrics) ObserveCapsuleOp(capsule, op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.capsuleOpsTotal.WithLabelValues(capsule, op, outcome).Inc()
	m.capsuleOpDuration.WithLabelValues(capsule, op).Observe(d.Seconds())
}

// ObserveCacheLookup records one Client LRU cache lookup's hit/miss outcome.
func (m *Metrics) ObserveCacheLookup(capsule string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(capsule, result).Inc()
}

// SetCacheSize records a Client LRU cache's current entry count.
func (m *Metrics) SetCacheSize(capsule string, n int) {
	m.cacheSize.WithLabelValues(capsule).Set(float64(n))
}

// ObserveInodeCacheBuild records one inodecache.Cache.Build traversal's
// wall-clock duration.
func (m *Metrics) ObserveInodeCacheBuild(d time.Duration) {
	m.inodeCacheBuild.Observe(d.Seconds())
}

// Server serves m's registry over HTTP until ctx is cancelled, the way
// cmd/mount.go starts it when metrics.enabled is set (spec.md §6).
type Server struct {
	http *http.Server
}

// NewServer builds an HTTP server exposing m's registry at /metrics on
// addr. It does not start listening until Serve is called.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{http: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Serve blocks accepting connections until ctx is cancelled, at which
// point it shuts the server down gracefully and returns nil.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: serve %s: %w", s.http.Addr, err)
	}
}
