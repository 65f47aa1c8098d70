/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chazu/ordinal/pkg/graph"
	"github.com/chazu/ordinal/pkg/lifecycle"
)

// Registry holds every ordinal metric plus the Go and process collectors
var Registry = prometheus.NewRegistry()

var (
	// Sort metrics
	sortTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordinal_sort_total",
		Help: "Total number of successful container re-sorts",
	}, []string{"container"})

	sortDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ordinal_sort_duration_seconds",
		Help:    "Duration of container re-sorts",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~80ms
	}, []string{"container"})

	cycleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordinal_cycle_total",
		Help: "Total number of re-sorts that failed on a dependency cycle",
	}, []string{"container"})

	nodesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ordinal_nodes",
		Help: "Number of components in the container as of its last successful sort",
	}, []string{"container"})

	// Lifecycle metrics
	passDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ordinal_pass_duration_seconds",
		Help:    "Duration of lifecycle passes",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
	}, []string{"owner", "result"})

	hookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordinal_hook_total",
		Help: "Total number of lifecycle hook calls",
	}, []string{"phase", "result"})

	// Manifest metrics
	manifestLoadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordinal_manifest_load_total",
		Help: "Total number of manifest loads",
	}, []string{"format", "result"})

	// Fetch metrics
	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordinal_fetch_total",
		Help: "Total number of manifest fetches",
	}, []string{"source", "result"})

	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ordinal_fetch_duration_seconds",
		Help:    "Duration of manifest fetches",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"source"})

	fetchCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordinal_fetch_cache_total",
		Help: "Total number of fetch cache lookups and evictions",
	}, []string{"result"})

	fetchCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ordinal_fetch_cache_entries",
		Help: "Current number of entries in the fetch cache",
	})

	fetchCacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ordinal_fetch_cache_size_bytes",
		Help: "Current size of the fetch cache in bytes",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		sortTotal,
		sortDuration,
		cycleTotal,
		nodesGauge,
		passDuration,
		hookTotal,
		manifestLoadTotal,
		fetchTotal,
		fetchDuration,
		fetchCacheTotal,
		fetchCacheEntries,
		fetchCacheBytes,
	)
}

// Handler serves Registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Recorder feeds container and lifecycle events into the metrics above.
// It is safe for concurrent use.
type Recorder struct{}

var (
	_ graph.Observer     = Recorder{}
	_ lifecycle.Observer = Recorder{}
)

// NewRecorder returns a Recorder
func NewRecorder() Recorder {
	return Recorder{}
}

// Sorted records a successful re-sort
func (Recorder) Sorted(container string, nodes int, elapsed time.Duration) {
	sortTotal.WithLabelValues(container).Inc()
	sortDuration.WithLabelValues(container).Observe(elapsed.Seconds())
	nodesGauge.WithLabelValues(container).Set(float64(nodes))
}

// CycleDetected records a re-sort that failed on a cycle
func (Recorder) CycleDetected(container string, _ int) {
	cycleTotal.WithLabelValues(container).Inc()
}

// HookCompleted records a hook call
func (Recorder) HookCompleted(_ string, phase lifecycle.Phase, err error) {
	hookTotal.WithLabelValues(string(phase), result(err)).Inc()
}

// PassCompleted records a lifecycle pass
func (Recorder) PassCompleted(owner string, elapsed time.Duration, err error) {
	passDuration.WithLabelValues(owner, result(err)).Observe(elapsed.Seconds())
}

// RecordManifestLoad records a manifest load
// result: "hit", "miss" or "error"
func RecordManifestLoad(format, result string) {
	manifestLoadTotal.WithLabelValues(format, result).Inc()
}

// RecordFetch records a manifest fetch from a source type
func RecordFetch(source string, elapsed time.Duration, err error) {
	fetchTotal.WithLabelValues(source, result(err)).Inc()
	fetchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// RecordFetchCache records a fetch cache event
// result: "hit", "miss" or "eviction"
func RecordFetchCache(result string) {
	fetchCacheTotal.WithLabelValues(result).Inc()
}

// UpdateFetchCacheStats sets the fetch cache size gauges
func UpdateFetchCacheStats(entries int, bytes int64) {
	fetchCacheEntries.Set(float64(entries))
	fetchCacheBytes.Set(float64(bytes))
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
