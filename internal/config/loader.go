package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"embeddings": {"openai", "ollama"},
	"reranker":   {"local", "cloud"},
}

// Search tunable defaults, applied by [applySearchDefaults] when the loaded
// config leaves a field at its zero value. Mirrors spec §6's documented
// defaults.
const (
	defaultRRFK                 = 60
	defaultWeightVector         = 0.60
	defaultWeightKeyword        = 0.25
	defaultWeightTag            = 0.15
	defaultRerankCandidates     = 50
	defaultTokenBudget          = 10_000
	defaultHandlerConfidence    = 0.6
	defaultEntityLookupDepth    = 2
	defaultRelationshipDepth    = 3
	defaultEntityMergeThreshold = 0.80

	weightSumTolerance = 1e-6
)

// Resilience tunable defaults, applied by [applyResilienceDefaults].
// Mirrors spec §4.1's embedder retry schedule and §5's per-call
// timeouts/breaker thresholds.
const (
	defaultEmbedderTimeout        = 60 * time.Second
	defaultEmbedderMaxRetries     = 3
	defaultEmbedderRetryBaseDelay = time.Second
	defaultEmbedderMaxFailures    = 5
	defaultGraphTimeout           = 10 * time.Second
	defaultGraphMaxFailures       = 5
	defaultRerankerTimeout        = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applySearchDefaults(&cfg.Search)
	applyStorageDefaults(&cfg.Storage)
	applyResilienceDefaults(&cfg.Resilience)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySearchDefaults fills zero-valued Search fields with spec §6's
// documented defaults. Weights are only defaulted as a group: a config that
// sets any one of the three must set all three, since partial overrides
// can't be disambiguated from "unset".
func applySearchDefaults(s *SearchConfig) {
	if s.RRFK == 0 {
		s.RRFK = defaultRRFK
	}
	if s.WeightVector == 0 && s.WeightKeyword == 0 && s.WeightTag == 0 {
		s.WeightVector = defaultWeightVector
		s.WeightKeyword = defaultWeightKeyword
		s.WeightTag = defaultWeightTag
	}
	if s.RerankCandidates == 0 {
		s.RerankCandidates = defaultRerankCandidates
	}
	if s.TokenBudget == 0 {
		s.TokenBudget = defaultTokenBudget
	}
	if s.HandlerConfidence == 0 {
		s.HandlerConfidence = defaultHandlerConfidence
	}
	if s.EntityLookupBFSDepth == 0 {
		s.EntityLookupBFSDepth = defaultEntityLookupDepth
	}
	if s.RelationshipBFSDepth == 0 {
		s.RelationshipBFSDepth = defaultRelationshipDepth
	}
}

// applyStorageDefaults fills zero-valued Storage fields with their documented defaults.
func applyStorageDefaults(s *StorageConfig) {
	if s.EntityMergeThreshold == 0 {
		s.EntityMergeThreshold = defaultEntityMergeThreshold
	}
}

// applyResilienceDefaults fills zero-valued Resilience fields with spec
// §4.1/§5's documented timeout/retry/breaker defaults.
func applyResilienceDefaults(r *ResilienceConfig) {
	if r.EmbedderTimeout == 0 {
		r.EmbedderTimeout = defaultEmbedderTimeout
	}
	if r.EmbedderMaxRetries == 0 {
		r.EmbedderMaxRetries = defaultEmbedderMaxRetries
	}
	if r.EmbedderRetryBaseDelay == 0 {
		r.EmbedderRetryBaseDelay = defaultEmbedderRetryBaseDelay
	}
	if r.EmbedderMaxFailures == 0 {
		r.EmbedderMaxFailures = defaultEmbedderMaxFailures
	}
	if r.GraphTimeout == 0 {
		r.GraphTimeout = defaultGraphTimeout
	}
	if r.GraphMaxFailures == 0 {
		r.GraphMaxFailures = defaultGraphMaxFailures
	}
	if r.RerankerTimeout == 0 {
		r.RerankerTimeout = defaultRerankerTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("reranker", cfg.Providers.Reranker.Name)

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required"))
	}
	if cfg.Storage.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("storage.embedding_dimensions must be positive"))
	}
	if cfg.Storage.EntityMergeThreshold <= 0 || cfg.Storage.EntityMergeThreshold > 1 {
		errs = append(errs, fmt.Errorf("storage.entity_merge_threshold %.2f must be in (0, 1]", cfg.Storage.EntityMergeThreshold))
	}

	// Providers
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings is required"))
	}

	// Search tunables (spec §8's testable properties)
	if cfg.Search.RRFK <= 0 {
		errs = append(errs, fmt.Errorf("search.rrf_k %d must be positive", cfg.Search.RRFK))
	}
	weightSum := cfg.Search.WeightVector + cfg.Search.WeightKeyword + cfg.Search.WeightTag
	if math.Abs(weightSum-1.0) > weightSumTolerance {
		errs = append(errs, fmt.Errorf("search weights must sum to 1.0, got %.4f (vector=%.2f keyword=%.2f tag=%.2f)",
			weightSum, cfg.Search.WeightVector, cfg.Search.WeightKeyword, cfg.Search.WeightTag))
	}
	if cfg.Search.RerankCandidates <= 0 {
		errs = append(errs, fmt.Errorf("search.rerank_candidates %d must be positive", cfg.Search.RerankCandidates))
	}
	if cfg.Search.TokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("search.token_budget %d must be positive", cfg.Search.TokenBudget))
	}
	if cfg.Search.HandlerConfidence < 0 || cfg.Search.HandlerConfidence > 1 {
		errs = append(errs, fmt.Errorf("search.handler_confidence %.2f must be in [0, 1]", cfg.Search.HandlerConfidence))
	}
	if cfg.Search.EntityLookupBFSDepth <= 0 {
		errs = append(errs, fmt.Errorf("search.entity_lookup_bfs_depth %d must be positive", cfg.Search.EntityLookupBFSDepth))
	}
	if cfg.Search.RelationshipBFSDepth <= 0 {
		errs = append(errs, fmt.Errorf("search.relationship_bfs_depth %d must be positive", cfg.Search.RelationshipBFSDepth))
	}
	if cfg.Search.Enhanced && cfg.Providers.Reranker.Name == "" {
		slog.Warn("search.enhanced is true but providers.reranker is not configured; enhanced pipeline will skip reranking")
	}

	// Resilience
	if cfg.Resilience.EmbedderTimeout <= 0 {
		errs = append(errs, errors.New("resilience.embedder_timeout must be positive"))
	}
	if cfg.Resilience.EmbedderMaxRetries <= 0 {
		errs = append(errs, errors.New("resilience.embedder_max_retries must be positive"))
	}
	if cfg.Resilience.GraphTimeout <= 0 {
		errs = append(errs, errors.New("resilience.graph_timeout must be positive"))
	}
	if cfg.Resilience.RerankerTimeout <= 0 {
		errs = append(errs, errors.New("resilience.reranker_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
