package store

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
)

var (
	registry = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory validates backend parameters and builds backend instances. The
// policy loader calls Valid so a bad store section fails at startup; Build
// runs once the policy is accepted.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Interface, error)
	Valid(config json.RawMessage) error
}

// Register makes a backend available under name. Backends register from
// init, so registering a name twice is a programming error and panics.
func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	if _, ok := registry[name]; ok {
		panic("store: backend " + name + " registered twice")
	}

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()

	result, ok := registry[name]
	return result, ok
}

// Methods lists the registered backend names in sorted order.
func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()

	return slices.Sorted(maps.Keys(registry))
}
