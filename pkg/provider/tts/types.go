package tts

// VoiceProfile describes a TTS voice configuration for the answering agent.
type VoiceProfile struct {
	// ID is the backend-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS backend this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 = backend default).
	SpeedFactor float64

	// Metadata holds backend-specific voice attributes (gender, age, accent,
	// etc.).
	Metadata map[string]string
}
