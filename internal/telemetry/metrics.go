package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration tracks HTTP request latency across every mounted route.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "promptgate",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// TenantCacheHitsTotal and TenantCacheMissesTotal track C2 LRU effectiveness.
var TenantCacheHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "promptgate",
		Subsystem: "tenant_cache",
		Name:      "hits_total",
		Help:      "Total number of tenant-cache lookups served from the in-process LRU.",
	},
)

var TenantCacheMissesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "promptgate",
		Subsystem: "tenant_cache",
		Name:      "misses_total",
		Help:      "Total number of tenant-cache misses that fell through to the config resolver.",
	},
)

// MCPCallsTotal counts MCP tool-call fan-out attempts by outcome.
var MCPCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "promptgate",
		Subsystem: "mcp",
		Name:      "calls_total",
		Help:      "Total number of MCP tool-call round-trips by outcome.",
	},
	[]string{"outcome"},
)

// ProviderRequestDuration tracks upstream provider latency.
var ProviderRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "promptgate",
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Upstream provider request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"provider", "streaming"},
)

// TraceQueueDepth reports the current size of the in-memory trace batch.
var TraceQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "promptgate",
		Subsystem: "trace",
		Name:      "queue_depth",
		Help:      "Current number of traces buffered awaiting flush.",
	},
)

// TraceFlushTotal counts trace recorder flushes by outcome.
var TraceFlushTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "promptgate",
		Subsystem: "trace",
		Name:      "flush_total",
		Help:      "Total number of trace batch flushes by outcome.",
	},
	[]string{"outcome"},
)

// All returns the gateway-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		TenantCacheHitsTotal,
		TenantCacheMissesTotal,
		MCPCallsTotal,
		ProviderRequestDuration,
		TraceQueueDepth,
		TraceFlushTotal,
	}
}
