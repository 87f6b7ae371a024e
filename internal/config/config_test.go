package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trunkline/trunkline/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
  log_format: json
call:
  hard_timeout: 45m
  sweep_interval: 30s
  process_timeout: 90s
  outbound_buffer: 128
vad:
  base_threshold: 0.02
  smoothing_window: 12
  hangover_frames: 6
  hangover_bonus: 2
  min_peak: 0.03
  max_peak: 0.9
  low_band_hz: 400
  high_band_hz: 1800
utterance:
  min_duration: 250ms
  max_duration: 20s
  silence_run: 20
  extended_silence_run: 40
  extend_after: 1500ms
  min_rms: 0.012
providers:
  stt:
    name: whisper
    base_url: "http://localhost:9000"
    fallbacks:
      - name: deepgram
        api_key: dg-test
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      stability: 0.4
  embeddings:
    name: openai
    model: text-embedding-3-small
assistant:
  system_prompt: "You answer the phone for Bella Cucina."
  greeting: "Bella Cucina, how can I help?"
  temperature: 0.6
  max_tokens: 200
  max_history: 12
  voice:
    provider: elevenlabs
    voice_id: rachel-21m
    name: Rachel
    speed_factor: 1.1
lexicon:
  terms:
    - Margherita
    - Chez Maurice
  phonetic_threshold: 0.72
  fuzzy_threshold: 0.88
call_log:
  postgres_dsn: "postgres://localhost/trunkline"
resilience:
  failure_threshold: 4
  cooldown: 20s
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.LogFormat != config.LogJSON {
		t.Errorf("log_format: got %q, want %q", cfg.Server.LogFormat, config.LogJSON)
	}

	if cfg.Call.HardTimeout != 45*time.Minute {
		t.Errorf("hard_timeout: got %v, want 45m", cfg.Call.HardTimeout)
	}
	if cfg.Call.SweepInterval != 30*time.Second {
		t.Errorf("sweep_interval: got %v, want 30s", cfg.Call.SweepInterval)
	}
	if cfg.Call.OutboundBuffer != 128 {
		t.Errorf("outbound_buffer: got %d, want 128", cfg.Call.OutboundBuffer)
	}

	if cfg.VAD.BaseThreshold != 0.02 {
		t.Errorf("base_threshold: got %v, want 0.02", cfg.VAD.BaseThreshold)
	}
	if cfg.VAD.SmoothingWindow != 12 {
		t.Errorf("smoothing_window: got %d, want 12", cfg.VAD.SmoothingWindow)
	}

	if cfg.Utterance.MinDuration != 250*time.Millisecond {
		t.Errorf("min_duration: got %v, want 250ms", cfg.Utterance.MinDuration)
	}
	if cfg.Utterance.ExtendAfter != 1500*time.Millisecond {
		t.Errorf("extend_after: got %v, want 1.5s", cfg.Utterance.ExtendAfter)
	}

	if cfg.Providers.STT.Name != "whisper" {
		t.Errorf("stt name: got %q, want whisper", cfg.Providers.STT.Name)
	}
	if n := len(cfg.Providers.STT.Fallbacks); n != 1 {
		t.Fatalf("stt fallbacks: got %d, want 1", n)
	}
	if got := cfg.Providers.STT.Fallbacks[0].Name; got != "deepgram" {
		t.Errorf("stt fallback name: got %q, want deepgram", got)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm model: got %q, want gpt-4o-mini", cfg.Providers.LLM.Model)
	}
	if got := cfg.Providers.TTS.Options["stability"]; got != 0.4 {
		t.Errorf("tts options stability: got %v, want 0.4", got)
	}

	if cfg.Assistant.Greeting == "" {
		t.Error("assistant greeting missing")
	}
	if cfg.Assistant.Voice.VoiceID != "rachel-21m" {
		t.Errorf("voice_id: got %q, want rachel-21m", cfg.Assistant.Voice.VoiceID)
	}

	if len(cfg.Lexicon.Terms) != 2 {
		t.Errorf("lexicon terms: got %d, want 2", len(cfg.Lexicon.Terms))
	}
	if cfg.CallLog.PostgresDSN == "" {
		t.Error("call_log postgres_dsn missing")
	}
	if cfg.Resilience.Cooldown != 20*time.Second {
		t.Errorf("resilience cooldown: got %v, want 20s", cfg.Resilience.Cooldown)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listne_addr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server: [unclosed"))
	if err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "trunkline.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/trunkline.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "DEBUG", "bananas"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestLogFormat_IsValid(t *testing.T) {
	t.Parallel()
	if !config.LogText.IsValid() || !config.LogJSON.IsValid() {
		t.Error("text and json should be valid")
	}
	if config.LogFormat("xml").IsValid() {
		t.Error("xml should be invalid")
	}
}

// validConfig returns a config that passes Validate, for mutation tests.
func validConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
			LogFormat:  config.LogText,
		},
		Call: config.CallConfig{
			HardTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "whisper"},
			LLM: config.ProviderEntry{Name: "openai"},
			TTS: config.ProviderEntry{Name: "elevenlabs"},
		},
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "bananas" },
			wantErr: "server.log_level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *config.Config) { c.Server.LogFormat = "xml" },
			wantErr: "server.log_format",
		},
		{
			name:    "tls missing key",
			mutate:  func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "/tls/cert.pem"} },
			wantErr: "cert_file and key_file",
		},
		{
			name:    "negative hard timeout",
			mutate:  func(c *config.Config) { c.Call.HardTimeout = -time.Minute },
			wantErr: "call.hard_timeout",
		},
		{
			name:    "base threshold too high",
			mutate:  func(c *config.Config) { c.VAD.BaseThreshold = 0.9 },
			wantErr: "vad.base_threshold",
		},
		{
			name: "peak corridor inverted",
			mutate: func(c *config.Config) {
				c.VAD.MinPeak = 0.5
				c.VAD.MaxPeak = 0.3
			},
			wantErr: "must be below vad.max_peak",
		},
		{
			name: "band edges inverted",
			mutate: func(c *config.Config) {
				c.VAD.LowBandHz = 3000
				c.VAD.HighBandHz = 2000
			},
			wantErr: "vad.low_band_hz",
		},
		{
			name: "utterance durations inverted",
			mutate: func(c *config.Config) {
				c.Utterance.MinDuration = 2 * time.Second
				c.Utterance.MaxDuration = time.Second
			},
			wantErr: "utterance.min_duration",
		},
		{
			name:    "min rms out of range",
			mutate:  func(c *config.Config) { c.Utterance.MinRMS = 1.5 },
			wantErr: "utterance.min_rms",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *config.Config) { c.Assistant.Temperature = 3 },
			wantErr: "assistant.temperature",
		},
		{
			name:    "speed factor out of range",
			mutate:  func(c *config.Config) { c.Assistant.Voice.SpeedFactor = 3 },
			wantErr: "speed_factor",
		},
		{
			name: "lexicon thresholds inverted",
			mutate: func(c *config.Config) {
				c.Lexicon.PhoneticThreshold = 0.9
				c.Lexicon.FuzzyThreshold = 0.8
			},
			wantErr: "must not exceed lexicon.fuzzy_threshold",
		},
		{
			name:    "lexicon threshold above one",
			mutate:  func(c *config.Config) { c.Lexicon.FuzzyThreshold = 1.5 },
			wantErr: "out of range (0, 1]",
		},
		{
			name:    "negative failure threshold",
			mutate:  func(c *config.Config) { c.Resilience.FailureThreshold = -1 },
			wantErr: "resilience.failure_threshold",
		},
		{
			name: "fallback without name",
			mutate: func(c *config.Config) {
				c.Providers.TTS.Fallbacks = []config.ProviderEntry{{APIKey: "orphan"}}
			},
			wantErr: "providers.tts.fallbacks[0] has no name",
		},
		{
			name: "nested fallbacks",
			mutate: func(c *config.Config) {
				c.Providers.LLM.Fallbacks = []config.ProviderEntry{{
					Name:      "anthropic",
					Fallbacks: []config.ProviderEntry{{Name: "openai"}},
				}}
			},
			wantErr: "must not nest further fallbacks",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_ValidConfigPasses(t *testing.T) {
	t.Parallel()
	if err := config.Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "bananas"
	cfg.Assistant.Temperature = -1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "assistant.temperature"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q does not mention %q", err, want)
		}
	}
}

func TestVADConfig_Detector(t *testing.T) {
	t.Parallel()
	c := config.VADConfig{
		BaseThreshold:   0.03,
		SmoothingWindow: 14,
		HangoverFrames:  5,
		HangoverBonus:   3,
		MinPeak:         0.04,
		MaxPeak:         0.92,
		LowBandHz:       450,
		HighBandHz:      2100,
	}
	d := c.Detector()
	if d.BaseThreshold != 0.03 || d.SmoothingWindow != 14 || d.HangoverFrames != 5 {
		t.Errorf("tuning not carried over: %+v", d)
	}
	if d.LowBandHz != 450 || d.HighBandHz != 2100 {
		t.Errorf("band edges not carried over: %+v", d)
	}
}

func TestUtteranceConfig_Assembler(t *testing.T) {
	t.Parallel()
	c := config.UtteranceConfig{
		MinDuration: 400 * time.Millisecond,
		SilenceRun:  30,
		MinRMS:      0.02,
	}
	a := c.Assembler()
	if a.MinDuration != 400*time.Millisecond || a.SilenceRun != 30 || a.MinRMS != 0.02 {
		t.Errorf("tuning not carried over: %+v", a)
	}
}

func TestVoiceConfig_Profile(t *testing.T) {
	t.Parallel()
	c := config.VoiceConfig{
		Provider:    "elevenlabs",
		VoiceID:     "rachel-21m",
		Name:        "Rachel",
		SpeedFactor: 1.2,
	}
	p := c.Profile()
	if p.ID != "rachel-21m" || p.Provider != "elevenlabs" || p.SpeedFactor != 1.2 {
		t.Errorf("profile not carried over: %+v", p)
	}
}
