package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// Provider is a pluggable price source capability.
//
// FetchOne returns (nil, nil) for expected "no data" conditions; errors are
// reserved for unexpected failures, which the resolver treats the same way as
// no data for that mapping.
type Provider interface {
	Key() string
	SupportsBulk() bool
	FetchOne(ctx context.Context, mapping model.ProviderMapping, product model.Product) (*model.ProviderQuote, error)
}

// BulkProvider is optionally implemented by batch-capable sources.
type BulkProvider interface {
	Provider
	FetchMany(ctx context.Context, mappings []model.ProviderMapping, productsByID map[string]model.Product) ([]model.ProviderQuote, error)
}

// Registry maps provider keys to capability implementations.
// It carries no business logic.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its key.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Key()] = p
}

// Get returns the provider for key, or false when none is registered.
func (r *Registry) Get(key string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[key]
	return p, ok
}

// List returns all registered providers sorted by key.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
