// Package app wires all Cairn subsystems into a running process.
//
// App owns the full lifecycle: New creates and connects every subsystem —
// storage, the entity resolver, the extraction pipeline, the event bus, and
// both search engines — and Run serves the /healthz and /readyz endpoints
// until its context is cancelled. Shutdown stops the health server and then
// runs the registered closers in the order they were registered.
//
// For testing, inject store/graph doubles via functional options. When an
// option is not provided, New builds the real Postgres-backed
// implementation from cfg.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/api"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/enrich"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/eventbus"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/extract"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/graph/entityresolve"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/rerank"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/router"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/search"
	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/searchv2"
	"github.com/jasondostal/cairn-mcp-sub001/internal/config"
	"github.com/jasondostal/cairn-mcp-sub001/internal/health"
	"github.com/jasondostal/cairn-mcp-sub001/internal/resilience"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory/postgres"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
	Reranker   rerank.Reranker
}

// App owns every subsystem's lifetime and exposes Cairn's Go API (via Core)
// and its HTTP health surface.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store        memory.MemoryStore
	graph        memory.GraphProvider
	resolver     *entityresolve.Matcher
	extractor    *extract.Extractor
	intentRouter *router.Router
	bus          *eventbus.Bus
	search       *searchv2.Engine
	core         *api.Core
	health       *health.Handler
	httpSrv      *http.Server

	// pendingPublisher holds the storage layer's deferred event publisher
	// when initStorage created a fresh store; initEventBus points it at the
	// real bus once built. Nil when a store/graph was injected via Option.
	pendingPublisher *busPublisher

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New, used to inject test doubles.
type Option func(*App)

// WithMemoryStore injects a [memory.MemoryStore] instead of connecting to Postgres.
func WithMemoryStore(s memory.MemoryStore) Option {
	return func(a *App) { a.store = s }
}

// WithGraphProvider injects a [memory.GraphProvider] instead of connecting to Postgres.
func WithGraphProvider(g memory.GraphProvider) Option {
	return func(a *App) { a.graph = g }
}

// busPublisher defers the [memory.EventPublisher] dependency of the storage
// layer until the event bus exists. The storage layer is constructed before
// the bus (the bus's enrichment listener needs the store), so this adapter
// lets NewStore receive a stable publisher value up front; set() wires the
// real bus into it once built.
type busPublisher struct {
	mu  sync.RWMutex
	bus *eventbus.Bus
}

func (p *busPublisher) set(bus *eventbus.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bus = bus
}

func (p *busPublisher) Publish(ctx context.Context, event memory.Event) {
	p.mu.RLock()
	bus := p.bus
	p.mu.RUnlock()
	if bus != nil {
		bus.Publish(ctx, event)
	}
}

// Core returns the wired [api.Core] — Cairn's search/store/modify/recall API.
func (a *App) Core() *api.Core { return a.core }

// New wires every Cairn subsystem together. Use Option functions to inject
// test doubles for the storage layer; all other subsystems are always built
// from cfg and providers.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	a.wrapProvidersWithResilience()

	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	a.wrapGraphWithResilience()

	a.resolver = entityresolve.New()

	if err := a.initExtraction(); err != nil {
		return nil, fmt.Errorf("app: init extraction: %w", err)
	}

	if providers.LLM != nil {
		a.intentRouter = router.New(providers.LLM, slog.Default())
	}

	a.initEventBus(ctx)
	a.initSearch()

	a.core = api.New(a.search, a.store, providers.Embeddings)

	a.health = health.New(health.Checker{
		Name:  "storage",
		Check: func(ctx context.Context) error { _, err := a.store.Recall(ctx, nil); return err },
	})

	return a, nil
}

// wrapProvidersWithResilience applies spec §4.1's Embedder retry/backoff
// policy and spec §5's per-call timeouts/circuit breakers around the
// injected Embeddings and Reranker providers, in place, before any
// subsystem is built against them. providers.LLM is left untouched —
// LLM failover is the caller's concern via [resilience.LLMFallback]
// (spec §4.1 scopes the retry contract to the Embedder).
func (a *App) wrapProvidersWithResilience() {
	rc := a.cfg.Resilience
	if a.providers.Embeddings != nil {
		a.providers.Embeddings = resilience.NewResilientEmbedder(a.providers.Embeddings, resilience.ResilientEmbedderConfig{
			Timeout: rc.EmbedderTimeout,
			Retry: resilience.RetryConfig{
				Name:       "embedder",
				MaxRetries: rc.EmbedderMaxRetries,
				BaseDelay:  rc.EmbedderRetryBaseDelay,
			},
			Breaker: resilience.CircuitBreakerConfig{
				Name:        "embedder",
				MaxFailures: rc.EmbedderMaxFailures,
			},
		})
	}
	if a.providers.Reranker != nil {
		a.providers.Reranker = resilience.NewResilientReranker(a.providers.Reranker, resilience.ResilientRerankerConfig{
			Timeout: rc.RerankerTimeout,
		})
	}
}

// wrapGraphWithResilience applies spec §5's per-call timeout and circuit
// breaker around a.graph. Must run after initStorage (or after a
// [WithGraphProvider] option), since it wraps whichever GraphProvider won.
func (a *App) wrapGraphWithResilience() {
	if a.graph == nil {
		return
	}
	rc := a.cfg.Resilience
	a.graph = resilience.NewResilientGraph(a.graph, resilience.ResilientGraphConfig{
		Timeout: rc.GraphTimeout,
		Breaker: resilience.CircuitBreakerConfig{
			Name:        "graph",
			MaxFailures: rc.GraphMaxFailures,
		},
	})
}

// initStorage connects to Postgres unless both store and graph were injected.
func (a *App) initStorage(ctx context.Context) error {
	if a.store != nil && a.graph != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("storage.postgres_dsn is required when a store/graph is not injected")
	}

	pub := &busPublisher{}
	store, graph, err := postgres.NewStore(ctx, dsn, a.cfg.Storage.EmbeddingDimensions, pub, a.cfg.Storage.EntityMergeThreshold)
	if err != nil {
		return err
	}
	a.store = store
	a.graph = graph
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	a.pendingPublisher = pub
	return nil
}

// initExtraction builds the extractor. An LLM and an embeddings provider
// are both required — extraction cannot run without them.
func (a *App) initExtraction() error {
	if a.providers.LLM == nil {
		return errors.New("providers.llm is required for entity/statement extraction")
	}
	if a.providers.Embeddings == nil {
		return errors.New("providers.embeddings is required for entity/statement extraction")
	}
	a.extractor = extract.New(a.providers.LLM, a.providers.Embeddings, a.graph, a.resolver, slog.Default())
	return nil
}

// initEventBus builds the enrichment listener and routes memory.created
// events to it, then wires the bus into the storage layer's publisher.
func (a *App) initEventBus(ctx context.Context) {
	listener := enrich.New(a.store, a.extractor, slog.Default())
	a.bus = eventbus.New(ctx, slog.Default(), map[memory.EventTopic][]eventbus.Listener{
		memory.TopicMemoryCreated: {listener.Handle},
	})
	if a.pendingPublisher != nil {
		a.pendingPublisher.set(a.bus)
	}
}

// initSearch builds the base RRF engine and wraps it with SearchV2.
func (a *App) initSearch() {
	base := search.NewWithConfig(a.store, a.providers.Embeddings, search.Config{
		RRFK:          a.cfg.Search.RRFK,
		WeightVector:  a.cfg.Search.WeightVector,
		WeightKeyword: a.cfg.Search.WeightKeyword,
		WeightTag:     a.cfg.Search.WeightTag,
	})

	opts := []searchv2.Option{
		searchv2.WithEnhanced(a.cfg.Search.Enhanced),
		searchv2.WithLogger(slog.Default()),
	}
	if a.cfg.Search.RerankCandidates > 0 {
		opts = append(opts, searchv2.WithRerankCandidates(a.cfg.Search.RerankCandidates))
	}
	if a.cfg.Search.TokenBudget > 0 {
		opts = append(opts, searchv2.WithTokenBudget(a.cfg.Search.TokenBudget))
	}
	if a.cfg.Search.HandlerConfidence > 0 {
		opts = append(opts, searchv2.WithHandlerConfidence(a.cfg.Search.HandlerConfidence))
	}
	if a.cfg.Search.EntityLookupBFSDepth > 0 || a.cfg.Search.RelationshipBFSDepth > 0 {
		opts = append(opts, searchv2.WithBFSDepths(a.cfg.Search.EntityLookupBFSDepth, a.cfg.Search.RelationshipBFSDepth))
	}
	if a.intentRouter != nil {
		opts = append(opts, searchv2.WithRouter(a.intentRouter))
	}
	if a.providers.Reranker != nil {
		opts = append(opts, searchv2.WithReranker(a.providers.Reranker))
	}

	a.search = searchv2.New(base, a.store, a.graph, a.providers.Embeddings, opts...)
}

// Run serves /healthz and /readyz on cfg.Server.HealthAddr until ctx is
// cancelled, then returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.health.Register(mux)

	a.httpSrv = &http.Server{
		Addr:    a.cfg.Server.HealthAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("health endpoint listening", "addr", a.cfg.Server.HealthAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown tears down the HTTP server and every registered closer in order.
// It respects ctx's deadline: remaining closers are skipped once it expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("health server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
