// Package stt defines the Recognizer interface for speech-to-text backends.
//
// Recognition in the gateway is turn-based rather than streaming: the
// utterance assembler hands over one complete utterance as a WAV upload and
// the recognizer answers with a single transcript. An STT backend (e.g.,
// Deepgram, or a local whisper.cpp server) is wrapped behind the same
// one-shot interface regardless of how it transports audio internally.
//
// Implementations must be safe for concurrent use. Multiple calls may be
// transcribed simultaneously, one Recognize in flight per call session.
package stt

import "context"

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// Recognize transcribes the given RIFF/WAVE audio and returns the
	// engine's best hypothesis. Audio that the engine processed cleanly but
	// found no speech in yields a Result with NoSpeech set rather than an
	// error; a returned error always means the engine or its transport
	// failed.
	Recognize(ctx context.Context, wav []byte) (Result, error)
}
