// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Synthesis in the gateway is one-shot per reply sentence: the reply
// sequencer hands over a sentence of agent text and receives wire-ready
// audio back — 8 kHz mono G.711 mu-law, the only format the telephone media
// server accepts. Backends that produce other formats transcode before
// returning.
//
// Implementations must be safe for concurrent use; the reply sequencer
// dispatches several sentences in parallel to hide synthesis latency.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as 8 kHz mono mu-law audio ready for the
	// telephone line. voice selects the speaker; backends that support only
	// one voice may ignore it.
	//
	// Returns an error if the backend fails or if ctx is cancelled before
	// the audio arrives. Empty text returns an error rather than silence.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)

	// ListVoices returns the voices available from the backend.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
