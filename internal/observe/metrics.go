// Package observe provides application-wide observability primitives for
// Cairn: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Cairn metrics.
const meterName = "github.com/jasondostal/cairn-mcp-sub001"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SearchDuration tracks end-to-end search latency (spec §4.7/§4.11),
	// regardless of which path (enhanced, RRF, vector-only) serves the request.
	SearchDuration metric.Float64Histogram

	// EmbedDuration tracks embedding-provider call latency.
	EmbedDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency (router classification +
	// knowledge extraction calls).
	LLMDuration metric.Float64Histogram

	// RerankDuration tracks reranker call latency in the enhanced pipeline.
	RerankDuration metric.Float64Histogram

	// ExtractionDuration tracks knowledge-extraction latency per ingested memory.
	ExtractionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// SearchFallbackTier counts which tier of the search fallback chain
	// (spec §7: enhanced → RRF → vector-only → empty) actually served each
	// request. Use with attribute.String("tier", ...).
	SearchFallbackTier metric.Int64Counter

	// ContradictionsFound counts statement contradictions detected during
	// knowledge extraction (spec §4.5/§4.11).
	ContradictionsFound metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveEnrichments tracks the number of in-flight async enrichment handlers.
	ActiveEnrichments metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time (the /healthz,
	// /readyz surface). Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for retrieval-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SearchDuration, err = m.Float64Histogram("cairn.search.duration",
		metric.WithDescription("Latency of search, across every fallback tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("cairn.embed.duration",
		metric.WithDescription("Latency of embedding-provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("cairn.llm.duration",
		metric.WithDescription("Latency of LLM inference (routing + extraction)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RerankDuration, err = m.Float64Histogram("cairn.rerank.duration",
		metric.WithDescription("Latency of reranker calls in the enhanced search pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("cairn.extraction.duration",
		metric.WithDescription("Latency of knowledge extraction per ingested memory."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("cairn.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.SearchFallbackTier, err = m.Int64Counter("cairn.search.fallback_tier",
		metric.WithDescription("Count of searches served by each fallback tier."),
	); err != nil {
		return nil, err
	}
	if met.ContradictionsFound, err = m.Int64Counter("cairn.extraction.contradictions_found",
		metric.WithDescription("Total statement contradictions detected during extraction."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("cairn.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveEnrichments, err = m.Int64UpDownCounter("cairn.active_enrichments",
		metric.WithDescription("Number of in-flight async enrichment handlers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cairn.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordSearchFallbackTier is a convenience method that records which tier
// of the search fallback chain served a request.
func (m *Metrics) RecordSearchFallbackTier(ctx context.Context, tier string) {
	m.SearchFallbackTier.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}

// RecordContradictionsFound is a convenience method that increments the
// contradictions-found counter by n.
func (m *Metrics) RecordContradictionsFound(ctx context.Context, n int64) {
	if n <= 0 {
		return
	}
	m.ContradictionsFound.Add(ctx, n)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
