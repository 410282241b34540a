// Registry manages adapter registration and lookup.
//
// DESIGN: Thread-safe map of adapter name → Adapter. Names are config keys,
// so two entries may share a provider family (e.g. "ollama" and "ollama-gpu").
package adapters

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages adapter registration.
type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// New builds an adapter for provider under name.
func New(provider Provider, name string, cfg Config) (Adapter, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIAdapter(name, cfg), nil
	case ProviderAnthropic:
		return NewAnthropicAdapter(name, cfg), nil
	case ProviderGemini:
		return NewGeminiAdapter(name, cfg), nil
	case ProviderOllama:
		return NewOllamaAdapter(name, cfg), nil
	case ProviderBedrock:
		return NewBedrockAdapter(name, cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// Register adds an adapter to the registry. A later registration under the
// same name replaces the earlier one.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
