package provider

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Factory builds a Transport from its configuration. Transport packages
// register one from init().
type Factory func(cfg Config) (Transport, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

func normalize(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// Register makes a transport kind available to New. Kinds are matched
// case-insensitively. It panics on an empty kind, a nil factory or a
// duplicate registration, all of which are programming errors.
//
//	func init() {
//	    provider.Register("gemini", func(cfg provider.Config) (provider.Transport, error) {
//	        return New(cfg)
//	    })
//	}
func Register(kind string, factory Factory) {
	key := normalize(kind)
	if key == "" || factory == nil {
		panic("provider: Register needs a kind and a factory")
	}

	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[key]; dup {
		panic(fmt.Sprintf("provider: kind %q registered twice", key))
	}
	factories[key] = factory
}

// New validates cfg and builds a transport of the given kind. An empty
// kind falls back to cfg.Kind. Unknown kinds yield ErrUnknownProvider.
func New(kind string, cfg Config) (Transport, error) {
	if kind == "" {
		kind = cfg.Kind
	}
	key := normalize(kind)

	factoriesMu.RLock()
	factory, ok := factories[key]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("provider %s: %w", key, err)
	}
	cfg.Kind = key
	return factory(cfg)
}

// Available lists the registered kinds in sorted order.
func Available() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}

// IsRegistered reports whether kind has a factory.
func IsRegistered(kind string) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	_, ok := factories[normalize(kind)]
	return ok
}

// Unregister removes kind. Tests use it to install fakes.
func Unregister(kind string) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	delete(factories, normalize(kind))
}
