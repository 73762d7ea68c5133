package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry routes a provider address to a Provider factory. The empty
// address maps to the default provider.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(providerAddress string, f ProviderFactory) {
	providerAddress = strings.ToLower(strings.TrimSpace(providerAddress))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerAddress] = f
}

func (r *Registry) Get(ctx context.Context, providerAddress string, model string) (Provider, error) {
	providerAddress = strings.ToLower(strings.TrimSpace(providerAddress))
	r.mu.RLock()
	f, ok := r.factories[providerAddress]
	if !ok {
		// fall back to the default provider
		f, ok = r.factories[""]
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerAddress)
	}
	return f(ctx, model)
}
