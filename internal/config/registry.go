package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jasondostal/cairn-mcp-sub001/internal/cairn/rerank"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/embeddings"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind Cairn depends on. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
	reranker   map[string]func(ProviderEntry) (rerank.Reranker, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		reranker:   make(map[string]func(ProviderEntry) (rerank.Reranker, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterReranker registers a reranker factory under name.
func (r *Registry) RegisterReranker(name string, factory func(ProviderEntry) (rerank.Reranker, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reranker[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateReranker instantiates a reranker using the factory registered under entry.Name.
// An empty entry.Name is a valid "no reranker configured" signal; callers
// should check that before calling Create and leave SearchV2's reranker
// unset instead (see cmd/cairn/main.go).
func (r *Registry) CreateReranker(entry ProviderEntry) (rerank.Reranker, error) {
	r.mu.RLock()
	factory, ok := r.reranker[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: reranker/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
