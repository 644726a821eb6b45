package store

import (
	"fmt"
	"sync"
)

// Builder creates a store from config.
type Builder func(config Config) (Store, error)

type factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

var globalFactory = &factory{builders: make(map[string]Builder)}

func init() {
	RegisterStoreType("json", func(config Config) (Store, error) {
		return NewJSONStore(config.Path)
	})
	RegisterStoreType("sqlite", func(config Config) (Store, error) {
		return NewSQLiteStore(config.Path)
	})
}

// RegisterStoreType registers a store type with the global factory.
func RegisterStoreType(storeType string, builder Builder) {
	globalFactory.mu.Lock()
	defer globalFactory.mu.Unlock()
	globalFactory.builders[storeType] = builder
}

// New creates a store for config.Type.
func New(config Config) (Store, error) {
	globalFactory.mu.RLock()
	builder, ok := globalFactory.builders[config.Type]
	globalFactory.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", config.Type, SupportedTypes())
	}
	return builder(config)
}

// SupportedTypes lists the registered store types.
func SupportedTypes() []string {
	globalFactory.mu.RLock()
	defer globalFactory.mu.RUnlock()
	types := make([]string, 0, len(globalFactory.builders))
	for t := range globalFactory.builders {
		types = append(types, t)
	}
	return types
}
