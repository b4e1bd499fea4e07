package resilience

import (
	"context"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
)

// ResilientEmbedderConfig tunes [ResilientEmbedder]'s timeout, retry, and
// circuit-breaker behaviour.
type ResilientEmbedderConfig struct {
	// Timeout bounds a single Embed/EmbedBatch call. Zero disables the
	// per-call deadline. Spec §5 default: 60s.
	Timeout time.Duration

	// Retry controls the transient-error backoff schedule applied before
	// the circuit breaker sees a failure. A zero MaxRetries means no
	// retries; a zero BaseDelay takes [Retry]'s 1s default (1s/2s/4s).
	Retry RetryConfig

	// Breaker configures the circuit breaker wrapping the retried call.
	// Zero-value fields take [CircuitBreakerConfig]'s defaults.
	Breaker CircuitBreakerConfig
}

// ResilientEmbedder wraps an [embeddings.Provider] with spec §4.1's
// transient-error retry policy (up to Retry.MaxRetries retries after the
// first call, exponential backoff) and
// spec §5's per-call timeout and circuit breaker. Retries happen inside the
// breaker's call: a string of transient failures that exhausts its retries
// still counts as a single breaker failure, so the breaker trips on
// sustained outages rather than on any one slow request.
type ResilientEmbedder struct {
	inner   embeddings.Provider
	timeout time.Duration
	retry   RetryConfig
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps inner with cfg's timeout/retry/breaker policy.
func NewResilientEmbedder(inner embeddings.Provider, cfg ResilientEmbedderConfig) *ResilientEmbedder {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "embedder"
	}
	if cfg.Retry.Name == "" {
		cfg.Retry.Name = "embedder"
	}
	return &ResilientEmbedder{
		inner:   inner,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		breaker: NewCircuitBreaker(cfg.Breaker),
	}
}

func (r *ResilientEmbedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Embed implements [embeddings.Provider].
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var result []float32
	err := r.breaker.Execute(func() error {
		return Retry(cctx, r.retry, func() error {
			var innerErr error
			result, innerErr = r.inner.Embed(cctx, text)
			return innerErr
		})
	})
	return result, err
}

// EmbedBatch implements [embeddings.Provider].
func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var result [][]float32
	err := r.breaker.Execute(func() error {
		return Retry(cctx, r.retry, func() error {
			var innerErr error
			result, innerErr = r.inner.EmbedBatch(cctx, texts)
			return innerErr
		})
	})
	return result, err
}

// Dimensions implements [embeddings.Provider]. Passes through directly —
// it is static metadata, not a network call.
func (r *ResilientEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelID implements [embeddings.Provider]. Passes through directly — it
// is static metadata, not a network call.
func (r *ResilientEmbedder) ModelID() string { return r.inner.ModelID() }
