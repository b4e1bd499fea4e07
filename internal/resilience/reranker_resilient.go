package resilience

import (
	"context"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/rerank"
)

// ResilientRerankerConfig tunes [ResilientReranker]'s per-call timeout.
type ResilientRerankerConfig struct {
	// Timeout bounds a single Rerank call. Zero disables the per-call
	// deadline. Spec §5 default: 30s.
	Timeout time.Duration
}

// ResilientReranker wraps a [rerank.Reranker] with spec §5's per-call
// timeout. It adds no circuit breaker of its own: [rerank.Reranker]'s
// contract already requires every implementation to degrade to the
// caller's original candidate order on failure (spec §7's fallback tier)
// rather than return an error, so there is no failure signal here for a
// breaker to trip on — the timeout alone bounds how long a struggling
// reranker endpoint can hold up a search before that degrade-to-passthrough
// path kicks in.
type ResilientReranker struct {
	inner   rerank.Reranker
	timeout time.Duration
}

// Compile-time interface assertion.
var _ rerank.Reranker = (*ResilientReranker)(nil)

// NewResilientReranker wraps inner with cfg's timeout.
func NewResilientReranker(inner rerank.Reranker, cfg ResilientRerankerConfig) *ResilientReranker {
	return &ResilientReranker{inner: inner, timeout: cfg.Timeout}
}

// Rerank implements [rerank.Reranker].
func (r *ResilientReranker) Rerank(ctx context.Context, query string, candidates []rerank.Candidate, limit int) []rerank.Candidate {
	if r.timeout <= 0 {
		return r.inner.Rerank(ctx, query, candidates, limit)
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.Rerank(cctx, query, candidates, limit)
}
