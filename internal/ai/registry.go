package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown ai provider")

// ProviderFactory builds a streaming backend. model may be empty to use the
// backend's configured default.
type ProviderFactory func(ctx context.Context, model string) (StreamProvider, error)

// Registry maps AI_PROVIDER names to backend factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	r.mu.Lock()
	r.factories[normalizeName(name)] = f
	r.mu.Unlock()
}

// Get builds the named backend. Names are case-insensitive.
func (r *Registry) Get(ctx context.Context, name, model string) (StreamProvider, error) {
	key := normalizeName(name)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownProvider, key, strings.Join(r.Names(), ", "))
	}
	p, err := f(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", key, err)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
