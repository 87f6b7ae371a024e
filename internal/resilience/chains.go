package resilience

import (
	"context"

	"github.com/trunkline/trunkline/pkg/provider/llm"
	"github.com/trunkline/trunkline/pkg/provider/stt"
	"github.com/trunkline/trunkline/pkg/provider/tts"
)

// The chains below adapt [FallbackGroup] to the three collaborator
// interfaces. Each is a drop-in replacement for a single backend: callers
// see one recognizer, one dialogue provider, one synthesizer, and the chain
// decides which configured entry actually serves the request.

// STTFallback is an [stt.Recognizer] that fails over across several
// recognition backends, each guarded by its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

var _ stt.Recognizer = (*STTFallback)(nil)

// NewSTTFallback builds a chain with primary as the preferred backend.
// Fallbacks join via AddFallback in the order they should be tried.
func NewSTTFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a recognizer to the end of the failover order.
func (f *STTFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, r)
}

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Recognize transcribes the utterance with the first healthy backend. A
// failing primary hands the same audio to the next entry, so the caller
// never needs to retry.
func (f *STTFallback) Recognize(ctx context.Context, wav []byte) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(r stt.Recognizer) (stt.Result, error) {
		return r.Recognize(ctx, wav)
	})
}

// LLMFallback is an [llm.Provider] that fails over across several dialogue
// backends, each guarded by its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback builds a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a dialogue provider to the end of the failover order.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// StreamCompletion opens a chunk stream from the first healthy provider.
// Failover covers only the dial: after a stream starts, mid-stream failures
// surface on the channel and are the caller's to handle.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete asks the first healthy provider for a full response, moving down
// the chain on error.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// TTSFallback is a [tts.Synthesizer] that fails over across several
// synthesis backends, each guarded by its own circuit breaker.
//
// Voices are backend-specific, so a fallback synthesizer may render the
// reply with a different voice than the configured one. The chain passes
// the same profile regardless; backends ignore voices they don't recognize
// and use their default.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback builds a chain with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a synthesizer to the end of the failover order.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Names returns the backend names in failover order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Synthesize renders the text with the first healthy backend, keeping the
// same text and voice for every entry it tries.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns available voices from the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) ([]tts.VoiceProfile, error) {
		return s.ListVoices(ctx)
	})
}
