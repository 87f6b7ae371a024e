package stt

import "time"

// Result represents a one-shot recognition result from an STT backend.
type Result struct {
	// Text is the transcribed speech content with surrounding whitespace
	// removed.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the backend does not report confidence.
	Confidence float64

	// NoSpeech indicates the backend processed the audio cleanly but found
	// no intelligible speech in it. Text is empty when NoSpeech is set.
	NoSpeech bool

	// Words contains per-word detail when available (Deepgram). May be nil
	// for backends that don't support word-level output.
	Words []WordDetail
}

// WordDetail holds per-word metadata from STT backends that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
