// Package search implements Cairn's SearchEngine (spec §4.7): the baseline
// hybrid ranker that runs vector, keyword, and tag retrieval concurrently
// and fuses them with Reciprocal Rank Fusion.
//
// The three signals run via [golang.org/x/sync/errgroup], grounded on the
// teacher's only errgroup usage (internal/mcp/mcphost/calibrate.go's
// concurrent tool-probe fan-out) — ctx cancellation aborts outstanding
// signal queries, and the first signal error is returned (the other two
// are abandoned, matching errgroup.Group's default behavior).
package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
)

// Mode selects which signals run (spec §4.7's "semantic"/"keyword"/"tag").
type Mode string

const (
	ModeSemantic Mode = "semantic" // all three signals
	ModeKeyword  Mode = "keyword"  // signal 2 only, bypasses embeddings
	ModeTag      Mode = "tag"      // signal 3 only, bypasses embeddings
)

const (
	// DefaultRRFK is the RRF rank-offset constant used when Config.RRFK is
	// zero (spec §4.7: K = 60).
	DefaultRRFK = 60

	defaultWeightVector  = 0.60
	defaultWeightKeyword = 0.25
	defaultWeightTag     = 0.15

	// signalCap bounds how many candidates each signal contributes before
	// fusion (spec §4.7's "design cap: top 200 per signal").
	signalCap = 200
)

// Config holds the RRF tunables spec §6 requires to be configuration-
// surfaced (RRF K, per-signal weights). Zero-value fields fall back to the
// spec-default constants, so the zero Config behaves exactly like the old
// hardcoded engine.
type Config struct {
	RRFK          int
	WeightVector  float64
	WeightKeyword float64
	WeightTag     float64
}

func (c Config) rrfK() int {
	if c.RRFK > 0 {
		return c.RRFK
	}
	return DefaultRRFK
}

func (c Config) weights() map[string]float64 {
	if c.WeightVector == 0 && c.WeightKeyword == 0 && c.WeightTag == 0 {
		return map[string]float64{"vector": defaultWeightVector, "keyword": defaultWeightKeyword, "tag": defaultWeightTag}
	}
	return map[string]float64{"vector": c.WeightVector, "keyword": c.WeightKeyword, "tag": c.WeightTag}
}

// Params carries one Search call's filters.
type Params struct {
	Query   string
	Project []string
	MemType []string
	Mode    Mode
	TopK    int
}

// Candidate is one fused result, carrying enough per-signal detail for
// debugging (spec §4.7's "Output" list).
type Candidate struct {
	Memory memory.Memory
	Score  float64

	// Ranks holds the 1-based rank this memory achieved within each signal
	// that surfaced it; a signal it didn't appear in is absent from the map.
	Ranks map[string]int
}

// Engine runs the RRF hybrid search.
type Engine struct {
	store    memory.MemoryStore
	embedder embeddings.Provider
	cfg      Config
}

// New constructs an Engine with the spec-default RRF K and weights. Use
// [NewWithConfig] to apply config-surfaced tunables (spec §6).
func New(store memory.MemoryStore, embedder embeddings.Provider) *Engine {
	return NewWithConfig(store, embedder, Config{})
}

// NewWithConfig constructs an Engine using cfg's RRF K and signal weights,
// falling back to the spec defaults for any zero field.
func NewWithConfig(store memory.MemoryStore, embedder embeddings.Provider, cfg Config) *Engine {
	return &Engine{store: store, embedder: embedder, cfg: cfg}
}

// Search runs the signals selected by params.Mode and fuses their rankings.
// Results are sorted by descending score, ties broken by ascending memory
// ID for determinism (spec §4.7).
func (e *Engine) Search(ctx context.Context, params Params) ([]Candidate, error) {
	var mu sync.Mutex
	signals := map[string][]memory.ScoredMemory{}
	set := func(name string, scored []memory.ScoredMemory) {
		mu.Lock()
		signals[name] = scored
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	if params.Mode == ModeSemantic {
		g.Go(func() error {
			embedding, err := e.embedder.Embed(gctx, params.Query)
			if err != nil {
				return err
			}
			scored, err := e.store.VectorSearch(gctx, embedding, params.Project, params.MemType, signalCap)
			if err != nil {
				return err
			}
			set("vector", scored)
			return nil
		})
	}

	if params.Mode == ModeSemantic || params.Mode == ModeKeyword {
		g.Go(func() error {
			scored, err := e.store.KeywordSearch(gctx, params.Query, params.Project, params.MemType, signalCap)
			if err != nil {
				return err
			}
			set("keyword", scored)
			return nil
		})
	}

	if params.Mode == ModeSemantic || params.Mode == ModeTag {
		g.Go(func() error {
			tokens := tokenize(params.Query)
			scored, err := e.store.TagSearch(gctx, tokens, params.Project, params.MemType, signalCap)
			if err != nil {
				return err
			}
			set("tag", scored)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return fuse(signals, params.TopK, e.cfg), nil
}

// fuse computes RRF scores across every signal's ranked list and returns the
// topK candidates sorted by descending score, memory-id ascending on ties.
func fuse(signals map[string][]memory.ScoredMemory, topK int, cfg Config) []Candidate {
	byID := make(map[int64]*Candidate)
	weights := cfg.weights()
	rrfK := cfg.rrfK()

	for signalName, scored := range signals {
		weight := weights[signalName]
		for _, sm := range scored {
			c, ok := byID[sm.Memory.ID]
			if !ok {
				c = &Candidate{Memory: sm.Memory, Ranks: map[string]int{}}
				byID[sm.Memory.ID] = c
			}
			c.Ranks[signalName] = sm.Rank
			c.Score += weight * (1.0 / float64(rrfK+sm.Rank))
		}
	}

	out := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// tokenize lower-cases and splits query into whitespace-separated tokens
// for the tag signal's exact-match comparison.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	return fields
}
