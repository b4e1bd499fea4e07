package resilience

import (
	"context"
	"errors"
	"testing"

	embeddingsmock "github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFallback_Embed_PrimarySuccess(t *testing.T) {
	primary := &embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	secondary := &embeddingsmock.Provider{EmbedResult: []float32{0.9, 0.9}}

	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	vec, err := fb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Fatalf("vec = %v, want [0.1 0.2]", vec)
	}
	if len(primary.EmbedCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.EmbedCalls))
	}
	if len(secondary.EmbedCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.EmbedCalls))
	}
}

func TestEmbeddingsFallback_Embed_Failover(t *testing.T) {
	primary := &embeddingsmock.Provider{EmbedErr: errors.New("primary down")}
	secondary := &embeddingsmock.Provider{EmbedResult: []float32{0.5}}

	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	vec, err := fb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 1 || vec[0] != 0.5 {
		t.Fatalf("vec = %v, want [0.5]", vec)
	}
}

func TestEmbeddingsFallback_Embed_AllFail(t *testing.T) {
	primary := &embeddingsmock.Provider{EmbedErr: errors.New("primary down")}
	secondary := &embeddingsmock.Provider{EmbedErr: errors.New("secondary down")}

	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestEmbeddingsFallback_EmbedBatch_Failover(t *testing.T) {
	primary := &embeddingsmock.Provider{EmbedBatchErr: errors.New("batch failed")}
	secondary := &embeddingsmock.Provider{
		EmbedBatchResult: [][]float32{{0.1}, {0.2}},
	}

	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	vecs, err := fb.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
}

func TestEmbeddingsFallback_DimensionsAndModelID(t *testing.T) {
	primary := &embeddingsmock.Provider{DimensionsValue: 1536, ModelIDValue: "text-embedding-3-small"}

	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	if got := fb.Dimensions(); got != 1536 {
		t.Errorf("Dimensions() = %d, want 1536", got)
	}
	if got := fb.ModelID(); got != "text-embedding-3-small" {
		t.Errorf("ModelID() = %q, want text-embedding-3-small", got)
	}
}
