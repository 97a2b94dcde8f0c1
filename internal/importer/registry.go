package importer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/importcsv/importcsv-go/internal/schema"
)

var (
	registry   = make(map[string]schema.Definition)
	registryMu sync.RWMutex
)

// Register adds an importer definition to the registry.
// Panics if a definition with the same key is already registered or the
// definition is invalid; registration happens at startup where failing loud
// beats failing late.
func Register(def schema.Definition) {
	if err := def.Validate(); err != nil {
		panic(fmt.Sprintf("invalid importer definition %q: %v", def.Key, err))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Key]; exists {
		panic(fmt.Sprintf("importer already registered: %s", def.Key))
	}
	registry[def.Key] = def
}

// RegisterAll registers a batch of definitions, typically the output of
// schema.LoadDir.
func RegisterAll(defs []schema.Definition) {
	for _, def := range defs {
		Register(def)
	}
}

// Lookup returns an importer definition by key.
func Lookup(key string) (schema.Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// Definitions returns all registered definitions sorted by key.
func Definitions() []schema.Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]schema.Definition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// Keys returns all registered importer keys sorted alphabetically.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of registered importers.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered importers. Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]schema.Definition)
}
