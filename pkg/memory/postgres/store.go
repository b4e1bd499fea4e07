package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.MemoryStore   = (*Store)(nil)
	_ memory.GraphProvider = (*Graph)(nil)
)

// Store is the PostgreSQL-backed implementation of [memory.MemoryStore]. All
// operations are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	publisher memory.EventPublisher
}

// Graph is the PostgreSQL-backed implementation of [memory.GraphProvider]. It
// shares the same connection pool as a [Store] but is a distinct type since
// the two contracts have no overlapping method names and keeping them
// separate lets callers depend on only the interface they need.
type Graph struct {
	pool *pgxpool.Pool

	// mergeThreshold is the cosine-similarity cutoff above which
	// FindSimilarEntities considers two entities the same (spec §9 Open
	// Question 1 — made explicit here rather than left to an untyped
	// provider default).
	mergeThreshold float64
}

// NewStore creates a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, runs [Migrate], and returns
// a [Store] and [Graph] sharing that pool.
//
// embeddingDimensions must match the output dimension of the configured
// Embedder (spec §4.1's startup reconciliation). publisher receives every
// memory.created/updated/inactivated event the Store emits; pass
// [memory.NopPublisher]{} if async enrichment is not wired up.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, publisher memory.EventPublisher, mergeThreshold float64) (*Store, *Graph, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	// An already-migrated memories table keeps its vector width, so compare
	// it (pgvector stores the dimension as the column's typmod) against the
	// configured one and refuse to start on a mismatch.
	var liveDimensions int
	if err := pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = 'memories'::regclass AND attname = 'embedding'`,
	).Scan(&liveDimensions); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres store: read embedding dimension: %w", err)
	}
	if liveDimensions != embeddingDimensions {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres store: embedding dimension mismatch: schema has %d, configured %d", liveDimensions, embeddingDimensions)
	}

	if publisher == nil {
		publisher = memory.NopPublisher{}
	}
	if mergeThreshold <= 0 {
		mergeThreshold = DefaultEntityMergeThreshold
	}

	return &Store{pool: pool, publisher: publisher},
		&Graph{pool: pool, mergeThreshold: mergeThreshold},
		nil
}

// Close releases all connections held by the underlying connection pool.
// Calling Close on either the Store or its paired Graph closes the shared
// pool for both — call it once, typically via defer, after constructing
// both from [NewStore].
func (s *Store) Close() { s.pool.Close() }

// DefaultEntityMergeThreshold is the cosine-similarity cutoff above which
// two entities of the same type and project are considered duplicates by
// [Graph.FindSimilarEntities] when the caller does not override it via
// configuration. This resolves spec §9's Open Question 1 ("the threshold is
// not constant across backends... a rewrite should make it explicit and
// testable") to a single named, testable constant.
const DefaultEntityMergeThreshold = 0.80
