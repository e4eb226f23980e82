package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/provider/stt"
	"github.com/MrWong99/recod/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned when a config names a provider no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the per-kind half of a [Registry].
type factories[T any] struct {
	kind string
	mu   sync.RWMutex
	byID map[string]Factory[T]
}

func newFactories[T any](kind string) *factories[T] {
	return &factories[T]{kind: kind, byID: make(map[string]Factory[T])}
}

func (f *factories[T]) register(name string, fn Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[name] = fn
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.byID[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := fn(entry)
	if err != nil {
		return p, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.byID))
}

// Registry resolves provider names from the config to constructors. main
// registers the built-in providers; tests register mocks under the same
// names. Registering a name again replaces the earlier factory. It is safe
// for concurrent use.
type Registry struct {
	recognizers *factories[stt.Recognizer]
	vads        *factories[vad.Engine]
	platforms   *factories[audio.Platform]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		recognizers: newFactories[stt.Recognizer]("stt"),
		vads:        newFactories[vad.Engine]("vad"),
		platforms:   newFactories[audio.Platform]("audio"),
	}
}

func (r *Registry) RegisterRecognizer(name string, fn Factory[stt.Recognizer]) {
	r.recognizers.register(name, fn)
}

func (r *Registry) RegisterVAD(name string, fn Factory[vad.Engine]) { r.vads.register(name, fn) }

func (r *Registry) RegisterAudio(name string, fn Factory[audio.Platform]) {
	r.platforms.register(name, fn)
}

// CreateRecognizer builds the recognizer named by entry. Unknown names wrap
// [ErrProviderNotRegistered].
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Recognizer, error) {
	return r.recognizers.create(entry)
}

func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) { return r.vads.create(entry) }

func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	return r.platforms.create(entry)
}

// Recognizers lists the registered recognizer names, sorted.
func (r *Registry) Recognizers() []string { return r.recognizers.names() }
