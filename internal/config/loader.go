package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native", "deepgram"},
	"llm": {
		"openai", "anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	},
	"tts":        {"elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos surface at load time.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; softer
// issues are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Call lifecycle
	if cfg.Call.HardTimeout < 0 {
		errs = append(errs, fmt.Errorf("call.hard_timeout %v must not be negative", cfg.Call.HardTimeout))
	}
	if cfg.Call.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("call.sweep_interval %v must not be negative", cfg.Call.SweepInterval))
	}
	if cfg.Call.ProcessTimeout < 0 {
		errs = append(errs, fmt.Errorf("call.process_timeout %v must not be negative", cfg.Call.ProcessTimeout))
	}
	if cfg.Call.OutboundBuffer < 0 {
		errs = append(errs, fmt.Errorf("call.outbound_buffer %d must not be negative", cfg.Call.OutboundBuffer))
	}
	if cfg.Call.HardTimeout > 0 && cfg.Call.SweepInterval > cfg.Call.HardTimeout {
		slog.Warn("call.sweep_interval exceeds call.hard_timeout; expired sessions will linger between sweeps",
			"sweep_interval", cfg.Call.SweepInterval,
			"hard_timeout", cfg.Call.HardTimeout,
		)
	}

	// VAD tuning
	if cfg.VAD.BaseThreshold != 0 && (cfg.VAD.BaseThreshold < 0 || cfg.VAD.BaseThreshold >= 0.5) {
		errs = append(errs, fmt.Errorf("vad.base_threshold %.3f is out of range (0, 0.5)", cfg.VAD.BaseThreshold))
	}
	if cfg.VAD.SmoothingWindow < 0 {
		errs = append(errs, fmt.Errorf("vad.smoothing_window %d must not be negative", cfg.VAD.SmoothingWindow))
	}
	if cfg.VAD.HangoverFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_frames %d must not be negative", cfg.VAD.HangoverFrames))
	}
	if cfg.VAD.MinPeak < 0 || cfg.VAD.MinPeak > 1 {
		errs = append(errs, fmt.Errorf("vad.min_peak %.3f is out of range [0, 1]", cfg.VAD.MinPeak))
	}
	if cfg.VAD.MaxPeak < 0 || cfg.VAD.MaxPeak > 1 {
		errs = append(errs, fmt.Errorf("vad.max_peak %.3f is out of range [0, 1]", cfg.VAD.MaxPeak))
	}
	if cfg.VAD.MinPeak != 0 && cfg.VAD.MaxPeak != 0 && cfg.VAD.MinPeak >= cfg.VAD.MaxPeak {
		errs = append(errs, fmt.Errorf("vad.min_peak %.3f must be below vad.max_peak %.3f", cfg.VAD.MinPeak, cfg.VAD.MaxPeak))
	}
	if cfg.VAD.LowBandHz < 0 || cfg.VAD.HighBandHz < 0 {
		errs = append(errs, errors.New("vad band edges must not be negative"))
	}
	if cfg.VAD.LowBandHz != 0 && cfg.VAD.HighBandHz != 0 && cfg.VAD.LowBandHz >= cfg.VAD.HighBandHz {
		errs = append(errs, fmt.Errorf("vad.low_band_hz %.0f must be below vad.high_band_hz %.0f", cfg.VAD.LowBandHz, cfg.VAD.HighBandHz))
	}

	// Utterance assembly
	if cfg.Utterance.MinDuration < 0 || cfg.Utterance.MaxDuration < 0 {
		errs = append(errs, errors.New("utterance durations must not be negative"))
	}
	if cfg.Utterance.MinDuration > 0 && cfg.Utterance.MaxDuration > 0 && cfg.Utterance.MinDuration >= cfg.Utterance.MaxDuration {
		errs = append(errs, fmt.Errorf("utterance.min_duration %v must be below utterance.max_duration %v", cfg.Utterance.MinDuration, cfg.Utterance.MaxDuration))
	}
	if cfg.Utterance.SilenceRun < 0 || cfg.Utterance.ExtendedSilenceRun < 0 {
		errs = append(errs, errors.New("utterance silence runs must not be negative"))
	}
	if cfg.Utterance.MinRMS < 0 || cfg.Utterance.MinRMS > 1 {
		errs = append(errs, fmt.Errorf("utterance.min_rms %.3f is out of range [0, 1]", cfg.Utterance.MinRMS))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Fallback chains
	for stage, entry := range map[string]ProviderEntry{
		"stt": cfg.Providers.STT,
		"llm": cfg.Providers.LLM,
		"tts": cfg.Providers.TTS,
	} {
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] has no name", stage, i))
				continue
			}
			if len(fb.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] (%s) must not nest further fallbacks", stage, i, fb.Name))
			}
			validateProviderName(stage, fb.Name)
		}
	}
	if len(cfg.Providers.Embeddings.Fallbacks) > 0 {
		slog.Warn("providers.embeddings.fallbacks is ignored; the semantic index uses the primary embedder only")
	}

	// Pipeline availability — the gateway cannot answer calls without a
	// full recognition/dialogue/synthesis chain.
	var missing []string
	if cfg.Providers.STT.Name == "" {
		missing = append(missing, "stt")
	}
	if cfg.Providers.LLM.Name == "" {
		missing = append(missing, "llm")
	}
	if cfg.Providers.TTS.Name == "" {
		missing = append(missing, "tts")
	}
	if len(missing) > 0 {
		slog.Warn("pipeline stages have no provider configured; callers will not get replies", "stages", missing)
	}

	// Assistant
	if cfg.Assistant.Temperature < 0 || cfg.Assistant.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", cfg.Assistant.Temperature))
	}
	if cfg.Assistant.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", cfg.Assistant.MaxTokens))
	}
	if cfg.Assistant.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_history %d must not be negative", cfg.Assistant.MaxHistory))
	}
	if sf := cfg.Assistant.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("assistant.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}
	if vp := cfg.Assistant.Voice.Provider; vp != "" && cfg.Providers.TTS.Name != "" && vp != cfg.Providers.TTS.Name {
		slog.Warn("assistant voice provider does not match configured TTS provider",
			"voice_provider", vp,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	// Lexicon
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"lexicon.phonetic_threshold", cfg.Lexicon.PhoneticThreshold},
		{"lexicon.fuzzy_threshold", cfg.Lexicon.FuzzyThreshold},
	} {
		if f.value != 0 && (f.value <= 0 || f.value > 1) {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range (0, 1]", f.name, f.value))
		}
	}
	if p, fz := cfg.Lexicon.PhoneticThreshold, cfg.Lexicon.FuzzyThreshold; p != 0 && fz != 0 && p > fz {
		errs = append(errs, fmt.Errorf("lexicon.phonetic_threshold %.2f must not exceed lexicon.fuzzy_threshold %.2f", p, fz))
	}

	// Call log / semantic index
	if cfg.Providers.Embeddings.Name != "" && cfg.CallLog.PostgresDSN == "" {
		slog.Warn("providers.embeddings is configured but call_log.postgres_dsn is empty; the semantic exchange index is disabled")
	}

	// Resilience
	if cfg.Resilience.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("resilience.failure_threshold %d must not be negative", cfg.Resilience.FailureThreshold))
	}
	if cfg.Resilience.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("resilience.cooldown %v must not be negative", cfg.Resilience.Cooldown))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given stage.
func validateProviderName(stage, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[stage]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"stage", stage,
		"name", name,
		"known", known,
	)
}
