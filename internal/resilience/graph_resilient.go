package resilience

import (
	"context"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
)

// ResilientGraphConfig tunes [ResilientGraph]'s timeout and circuit-breaker
// behaviour.
type ResilientGraphConfig struct {
	// Timeout bounds a single graph call. Zero disables the per-call
	// deadline. Spec §5 default: 10s.
	Timeout time.Duration

	// Breaker configures the circuit breaker wrapping every call.
	// Zero-value fields take [CircuitBreakerConfig]'s defaults.
	Breaker CircuitBreakerConfig
}

// ResilientGraph wraps a [memory.GraphProvider] with spec §5's per-call
// timeout and circuit breaker. Unlike [ResilientEmbedder], graph errors are
// not retried — a failed graph write must surface so the caller's
// extraction pipeline can decide whether to abort the episode, not silently
// re-attempt a possibly non-idempotent statement/triple insert.
type ResilientGraph struct {
	inner   memory.GraphProvider
	timeout time.Duration
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ memory.GraphProvider = (*ResilientGraph)(nil)

// NewResilientGraph wraps inner with cfg's timeout/breaker policy.
func NewResilientGraph(inner memory.GraphProvider, cfg ResilientGraphConfig) *ResilientGraph {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "graph"
	}
	return &ResilientGraph{
		inner:   inner,
		timeout: cfg.Timeout,
		breaker: NewCircuitBreaker(cfg.Breaker),
	}
}

func (r *ResilientGraph) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// call runs fn (a single inner-provider call) behind the timeout and
// circuit breaker, capturing fn's result via the closure the caller
// supplies.
func (r *ResilientGraph) call(ctx context.Context, fn func(ctx context.Context) error) error {
	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.breaker.Execute(func() error { return fn(cctx) })
}

func (r *ResilientGraph) CreateEntity(ctx context.Context, name string, typ memory.EntityType, embedding []float32, project string, attrs map[string]string) (string, error) {
	var id string
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		id, innerErr = r.inner.CreateEntity(cctx, name, typ, embedding, project, attrs)
		return innerErr
	})
	return id, err
}

func (r *ResilientGraph) FindSimilarEntities(ctx context.Context, embedding []float32, typ memory.EntityType, project string) ([]memory.Entity, error) {
	var result []memory.Entity
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.FindSimilarEntities(cctx, embedding, typ, project)
		return innerErr
	})
	return result, err
}

func (r *ResilientGraph) SearchEntitiesByEmbedding(ctx context.Context, embedding []float32, project string, limit int) ([]memory.Entity, error) {
	var result []memory.Entity
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.SearchEntitiesByEmbedding(cctx, embedding, project, limit)
		return innerErr
	})
	return result, err
}

func (r *ResilientGraph) CreateStatement(ctx context.Context, fact string, embedding []float32, aspect memory.Aspect, episodeID int64, project string, validAt time.Time) (string, error) {
	var id string
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		id, innerErr = r.inner.CreateStatement(cctx, fact, embedding, aspect, episodeID, project, validAt)
		return innerErr
	})
	return id, err
}

func (r *ResilientGraph) CreateTriple(ctx context.Context, statementID, subjectID, predicate, objectID, objectLiteral string) error {
	return r.call(ctx, func(cctx context.Context) error {
		return r.inner.CreateTriple(cctx, statementID, subjectID, predicate, objectID, objectLiteral)
	})
}

func (r *ResilientGraph) FindContradictions(ctx context.Context, subjectID, predicate, project string) ([]memory.Statement, error) {
	var result []memory.Statement
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.FindContradictions(cctx, subjectID, predicate, project)
		return innerErr
	})
	return result, err
}

func (r *ResilientGraph) InvalidateStatement(ctx context.Context, uuid, invalidatedBy string) error {
	return r.call(ctx, func(cctx context.Context) error {
		return r.inner.InvalidateStatement(cctx, uuid, invalidatedBy)
	})
}

func (r *ResilientGraph) FindEntityEpisodes(ctx context.Context, entityUUID string) ([]int64, error) {
	var result []int64
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.FindEntityEpisodes(cctx, entityUUID)
		return innerErr
	})
	return result, err
}

func (r *ResilientGraph) FindEntityStatements(ctx context.Context, entityUUID string, aspects []memory.Aspect) ([]memory.Statement, error) {
	var result []memory.Statement
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.FindEntityStatements(cctx, entityUUID, aspects)
		return innerErr
	})
	return result, err
}

func (r *ResilientGraph) FindConnectingStatements(ctx context.Context, uuidA, uuidB string, maxDepth int) ([]memory.Statement, error) {
	var result []memory.Statement
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.FindConnectingStatements(cctx, uuidA, uuidB, maxDepth)
		return innerErr
	})
	return result, err
}

func (r *ResilientGraph) BFSTraverse(ctx context.Context, startUUID string, maxDepth int) ([]memory.Statement, error) {
	var result []memory.Statement
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.BFSTraverse(cctx, startUUID, maxDepth)
		return innerErr
	})
	return result, err
}

func (r *ResilientGraph) SearchStatementsByAspect(ctx context.Context, aspects []memory.Aspect, project string) ([]int64, error) {
	var result []int64
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.SearchStatementsByAspect(cctx, aspects, project)
		return innerErr
	})
	return result, err
}

func (r *ResilientGraph) Visualization(ctx context.Context, project string, entityTypes []memory.EntityType, limit int) (memory.GraphSnapshot, error) {
	var result memory.GraphSnapshot
	err := r.call(ctx, func(cctx context.Context) error {
		var innerErr error
		result, innerErr = r.inner.Visualization(cctx, project, entityTypes, limit)
		return innerErr
	})
	return result, err
}
