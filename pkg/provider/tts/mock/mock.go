// Package mock provides a mock implementation of the tts.Synthesizer
// interface for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/trunkline/trunkline/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// SynthesizeCall records the arguments of a single Synthesize invocation.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// Synthesizer is a configurable mock implementation of tts.Synthesizer.
// It is safe for concurrent use.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is the mu-law payload returned by Synthesize.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize instead of Audio.
	Err error

	// Delay, if non-zero, makes Synthesize block for the given duration
	// (or until the context is cancelled) before returning. Useful for
	// holding a call session in its speaking state during tests.
	Delay time.Duration

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// VoicesErr, if non-nil, is returned by ListVoices instead of Voices.
	VoicesErr error

	// SynthesizeCalls records every Synthesize invocation in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize implements tts.Synthesizer. It records the call, honors the
// configured Delay, and returns the configured Audio or Err.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	delay := s.Delay
	audio := append([]byte(nil), s.Audio...)
	err := s.Err
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// ListVoices implements tts.Synthesizer.
func (s *Synthesizer) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.VoicesErr != nil {
		return nil, s.VoicesErr
	}
	return append([]tts.VoiceProfile(nil), s.Voices...), nil
}

// Calls returns a snapshot of all recorded Synthesize calls.
func (s *Synthesizer) Calls() []SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SynthesizeCall(nil), s.SynthesizeCalls...)
}

// Reset clears all recorded calls.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
}
