// Package enrich wires the KnowledgeExtractor to the event bus, implementing
// spec §4.11's event-driven async enrichment: a memory.created event fetches
// its row, runs extraction, and persists the resulting entities/statements
// to the knowledge graph.
//
// Grounded on spec.md §4.11's listener description, with no direct
// original_source precedent (the Python core calls extraction synchronously
// inline rather than via an event bus — spec.md's event-driven design is an
// explicit architectural addition over the original). The listener itself
// is intentionally thin: all retry/idempotency guarantees live in
// internal/cairn/eventbus, per that package's at-least-once delivery
// contract (spec §4.11: "handlers must therefore be idempotent").
package enrich

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/extract"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
)

// Listener consumes memory.created events and drives extraction + graph
// persistence for each one.
type Listener struct {
	store     memory.MemoryStore
	extractor *extract.Extractor
	logger    *slog.Logger
}

// New constructs a Listener.
func New(store memory.MemoryStore, extractor *extract.Extractor, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{store: store, extractor: extractor, logger: logger}
}

// Handle implements eventbus.Listener. It is idempotent: re-delivery of the
// same event re-runs extraction and resolve-and-persist, which is safe per
// spec §4.11 (similarity-gated entity merge, (subject,predicate)-gated
// statement invalidation, and tolerably-duplicated statement creation on
// retry).
func (l *Listener) Handle(ctx context.Context, event memory.Event) error {
	if !event.Enrich {
		return nil
	}

	rows, err := l.store.Recall(ctx, []int64{event.MemoryID})
	if err != nil {
		return fmt.Errorf("enrich: recall memory %d: %w", event.MemoryID, err)
	}
	if len(rows) == 0 {
		l.logger.Warn("enrich: memory not found, skipping", "memory_id", event.MemoryID)
		return nil
	}
	row := rows[0]

	result, err := l.extractor.Extract(ctx, row.Content, row.CreatedAt, row.Author)
	if err != nil {
		return fmt.Errorf("enrich: extract memory %d: %w", event.MemoryID, err)
	}

	summary, err := l.extractor.ResolveAndPersist(ctx, result, row.ID, row.Project)
	if err != nil {
		return fmt.Errorf("enrich: resolve-and-persist memory %d: %w", event.MemoryID, err)
	}

	l.logger.Debug("enrichment complete",
		"memory_id", event.MemoryID,
		"entities_created", summary.EntitiesCreated,
		"entities_merged", summary.EntitiesMerged,
		"statements_created", summary.StatementsCreated,
		"contradictions_found", summary.ContradictionsFound,
	)
	return nil
}
