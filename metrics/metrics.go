// Package metrics centralizes the Prometheus instruments shared by the tile
// server and the prerender tool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stormtiles"

var (
	// TilesServed counts delivered tiles, split by whether they came out of
	// the store or from a fresh render.
	TilesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tiles",
		Name:      "served_total",
		Help:      "Tiles served, by product and origin (cache or render).",
	}, []string{"product", "origin"})

	// RenderDuration tracks the full normalize/encode/compress path.
	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "tiles",
		Name:      "render_duration_seconds",
		Help:      "Time spent rendering one tile.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"product"})

	RenderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tiles",
		Name:      "render_errors_total",
		Help:      "Renders that failed.",
	}, []string{"product"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "hits_total",
		Help:      "Tile store lookups that found a tile.",
	}, []string{"product"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "misses_total",
		Help:      "Tile store lookups that fell through to a render.",
	}, []string{"product"})

	StorePutFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "put_failures_total",
		Help:      "Tile store writes that failed after a successful render.",
	}, []string{"product"})
)
