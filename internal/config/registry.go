package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/relaybroker/relaybroker/pkg/tts"
)

// ErrGeneratorNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested generator name.
var ErrGeneratorNotRegistered = errors.New("config: generator not registered")

// Registry maps TTS generator names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	factory map[string]func(GeneratorEntry) (tts.Generator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factory: make(map[string]func(GeneratorEntry) (tts.Generator, error)),
	}
}

// Register registers a generator factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(GeneratorEntry) (tts.Generator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory[name] = factory
}

// Create instantiates a generator using the factory registered under entry.Name.
// Returns [ErrGeneratorNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) Create(entry GeneratorEntry) (tts.Generator, error) {
	if entry.Name == "" {
		return nil, fmt.Errorf("%w: %q", ErrGeneratorNotRegistered, entry.Name)
	}
	r.mu.RLock()
	factory, ok := r.factory[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGeneratorNotRegistered, entry.Name)
	}
	return factory(entry)
}
