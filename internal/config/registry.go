package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/trunkline/trunkline/pkg/provider/embeddings"
	"github.com/trunkline/trunkline/pkg/provider/llm"
	"github.com/trunkline/trunkline/pkg/provider/stt"
	"github.com/trunkline/trunkline/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// kind holds the registered factories for one provider interface.
type kind[T any] struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (T, error)
}

func (k *kind[T]) register(name string, factory func(ProviderEntry) (T, error)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.factories == nil {
		k.factories = make(map[string]func(ProviderEntry) (T, error))
	}
	k.factories[name] = factory
}

func (k *kind[T]) create(label string, entry ProviderEntry) (T, error) {
	k.mu.RLock()
	factory, ok := k.factories[entry.Name]
	k.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, label, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	stt        kind[stt.Recognizer]
	llm        kind[llm.Provider]
	tts        kind[tts.Synthesizer]
	embeddings kind[embeddings.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterSTT registers a recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	r.stt.register(name, factory)
}

// RegisterLLM registers a dialogue provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.tts.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// CreateSTT instantiates a recognizer using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Recognizer, error) {
	return r.stt.create("stt", entry)
}

// CreateLLM instantiates a dialogue provider using the factory registered
// under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create("llm", entry)
}

// CreateTTS instantiates a synthesizer using the factory registered under
// entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	return r.tts.create("tts", entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory
// registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create("embeddings", entry)
}
