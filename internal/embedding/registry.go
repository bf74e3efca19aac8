// Package embedding resolves configured embedding models into loaded
// embedders and keeps them for the lifetime of the process.
package embedding

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"minirag/internal/domain"
	"minirag/internal/embedding/hashing"
	"minirag/internal/embedding/openai"
)

const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
)

// ModelRef identifies an embedding model. Two equal refs share one loaded embedder.
type ModelRef struct {
	Provider  string
	Model     string
	Device    string
	Dimension int
	BaseURL   string
	APIKeyEnv string
	Timeout   time.Duration
}

// Resolve fills provider defaults.
func (r ModelRef) Resolve() ModelRef {
	r.Provider = strings.ToLower(strings.TrimSpace(r.Provider))
	if r.Provider == "" {
		r.Provider = ProviderHashing
	}
	if r.Device == "" {
		r.Device = "cpu"
	}
	switch r.Provider {
	case ProviderHashing:
		if r.Dimension <= 0 {
			r.Dimension = hashing.DefaultDimension
		}
	case ProviderOpenAI:
		if r.Model == "" {
			r.Model = openai.DefaultModel
		}
		if r.APIKeyEnv == "" {
			r.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	return r
}

// Loader constructs an embedder for a resolved ref.
type Loader func(ref ModelRef) (domain.Embedder, error)

// Registry loads each distinct model at most once. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	loaders map[string]Loader
	loaded  map[ModelRef]domain.Embedder
}

// NewRegistry returns a registry with the hashing and openai providers.
func NewRegistry() *Registry {
	r := &Registry{
		loaders: make(map[string]Loader),
		loaded:  make(map[ModelRef]domain.Embedder),
	}
	r.Register(ProviderHashing, func(ref ModelRef) (domain.Embedder, error) {
		return hashing.New(ref.Dimension), nil
	})
	r.Register(ProviderOpenAI, func(ref ModelRef) (domain.Embedder, error) {
		return openai.New(openai.Config{
			BaseURL:   ref.BaseURL,
			APIKeyEnv: ref.APIKeyEnv,
			Model:     ref.Model,
			Dimension: ref.Dimension,
			Timeout:   ref.Timeout,
		})
	})
	return r
}

// Register installs or replaces the loader for provider.
func (r *Registry) Register(provider string, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(provider)] = loader
}

// Load returns the embedder for ref, constructing it on first use.
// Failed loads are not remembered.
func (r *Registry) Load(ref ModelRef) (domain.Embedder, error) {
	ref = ref.Resolve()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.loaded[ref]; ok {
		return e, nil
	}
	loader, ok := r.loaders[ref.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidParameter, ref.Provider)
	}
	e, err := loader(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s model %q: %v", domain.ErrEmbeddingFailure, ref.Provider, ref.Model, err)
	}
	r.loaded[ref] = e
	return e, nil
}

// Len reports how many models are loaded.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loaded)
}
