package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Provider from its construction-time data. Each backend
// package registers one Factory under its own Name() string in init().
type Factory func(InitData) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds factory under name, mirroring database/sql's driver
// registry: backend packages call this from an init() function, so the
// caller only needs a blank import to make a provider available.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("provider: Register called twice for %q", name))
	}

	registry[name] = factory
}

// Create looks up the factory registered under name and invokes it.
func Create(name string, data InitData) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider: no backend registered under %q (missing import?)", name)
	}

	return factory(data)
}

// Names returns every registered provider name, sorted, for discovery UIs
// and diagnostics.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
