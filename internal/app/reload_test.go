package app

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/trunkline/trunkline/internal/call"
	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/reply"
	llmmock "github.com/trunkline/trunkline/pkg/provider/llm/mock"
	sttmock "github.com/trunkline/trunkline/pkg/provider/stt/mock"
	"github.com/trunkline/trunkline/pkg/provider/tts"
	ttsmock "github.com/trunkline/trunkline/pkg/provider/tts/mock"
)

// newReloadApp builds just enough of an App to drive applyConfigChange:
// a session registry, a level var, and a corrector seeded from cfg.
func newReloadApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	seq, err := reply.NewSequencer(&ttsmock.Synthesizer{}, tts.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("NewSequencer() error: %v", err)
	}
	mgr, err := call.NewManager(call.Collaborators{
		Recognizer: &sttmock.Recognizer{},
		Dialogue:   &llmmock.Provider{},
		Speech:     seq,
	}, call.ManagerConfig{Session: sessionConfig(cfg)}, log)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	t.Cleanup(mgr.Close)

	return &App{
		cfg:       cfg,
		log:       log,
		logLevel:  new(slog.LevelVar),
		calls:     mgr,
		corrector: newSwapCorrector(lexiconFromConfig(cfg.Lexicon)),
	}
}

func TestApplyConfigChange_SwapsLexicon(t *testing.T) {
	t.Parallel()

	old := &config.Config{Lexicon: config.LexiconConfig{Terms: []string{"Margherita"}}}
	a := newReloadApp(t, old)

	if got := a.corrector.Correct("one margarita"); got != "one Margherita" {
		t.Fatalf("Correct() before reload = %q, want %q", got, "one Margherita")
	}
	if got := a.corrector.Correct("one brusketta"); got != "one brusketta" {
		t.Fatalf("Correct() before reload = %q, want it unchanged", got)
	}

	updated := &config.Config{
		Lexicon: config.LexiconConfig{Terms: []string{"Margherita", "bruschetta"}},
	}
	a.applyConfigChange(old, updated)

	if got := a.corrector.Correct("one brusketta"); got != "one bruschetta" {
		t.Errorf("Correct() after reload = %q, want %q", got, "one bruschetta")
	}
	if got := a.corrector.Correct("one margarita"); got != "one Margherita" {
		t.Errorf("Correct() after reload = %q, want %q", got, "one Margherita")
	}
}

func TestApplyConfigChange_SetsLogLevel(t *testing.T) {
	t.Parallel()

	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	a := newReloadApp(t, old)

	updated := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}
	a.applyConfigChange(old, updated)

	if got := a.logLevel.Level(); got != slog.LevelDebug {
		t.Errorf("level var = %v, want %v", got, slog.LevelDebug)
	}
}

func TestApplyConfigChange_NoLevelVar(t *testing.T) {
	t.Parallel()

	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	a := newReloadApp(t, old)
	a.logLevel = nil

	// Must warn rather than crash when nothing is wired to receive the level.
	updated := &config.Config{Server: config.ServerConfig{LogLevel: config.LogError}}
	a.applyConfigChange(old, updated)
}

func TestApplyConfigChange_NoChanges_IsNoOp(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogWarn}}
	a := newReloadApp(t, cfg)
	a.logLevel.Set(slog.LevelWarn)

	a.applyConfigChange(cfg, cfg)

	if got := a.logLevel.Level(); got != slog.LevelWarn {
		t.Errorf("level var = %v, want untouched %v", got, slog.LevelWarn)
	}
}

// A single reload can carry several kinds of change at once; every branch
// has to apply without interfering with the others.
func TestApplyConfigChange_CombinedChanges(t *testing.T) {
	t.Parallel()

	old := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Assistant: config.AssistantConfig{SystemPrompt: "old persona", Greeting: "Hello?"},
		Lexicon:   config.LexiconConfig{Terms: []string{"Margherita"}},
	}
	a := newReloadApp(t, old)

	updated := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogDebug},
		Assistant: config.AssistantConfig{
			SystemPrompt: "new persona",
			Greeting:     "Bella Cucina, good evening.",
			Voice:        config.VoiceConfig{Provider: "elevenlabs", VoiceID: "v2"},
		},
		Lexicon: config.LexiconConfig{Terms: []string{"bruschetta"}},
	}
	a.applyConfigChange(old, updated)

	if got := a.logLevel.Level(); got != slog.LevelDebug {
		t.Errorf("level var = %v, want %v", got, slog.LevelDebug)
	}
	if got := a.corrector.Correct("one brusketta"); got != "one bruschetta" {
		t.Errorf("Correct() after reload = %q, want %q", got, "one bruschetta")
	}
	// Session tuning applies to sessions created after the reload; the
	// registry must still hand them out.
	if _, err := a.calls.Create("call-after-reload"); err != nil {
		t.Errorf("Create() after reload error: %v", err)
	}
}

func TestSessionConfig_MapsTuning(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Call: config.CallConfig{
			ProcessTimeout: 45 * time.Second,
			OutboundBuffer: 128,
		},
		VAD: config.VADConfig{BaseThreshold: 1200},
		Utterance: config.UtteranceConfig{
			MaxDuration: 20 * time.Second,
			SilenceRun:  30,
		},
		Assistant: config.AssistantConfig{
			SystemPrompt: "You answer the phone.",
			Temperature:  0.4,
			MaxTokens:    200,
			MaxHistory:   8,
		},
	}

	sc := sessionConfig(cfg)
	if sc.SystemPrompt != "You answer the phone." {
		t.Errorf("SystemPrompt = %q", sc.SystemPrompt)
	}
	if sc.Temperature != 0.4 {
		t.Errorf("Temperature = %v, want 0.4", sc.Temperature)
	}
	if sc.MaxTokens != 200 {
		t.Errorf("MaxTokens = %d, want 200", sc.MaxTokens)
	}
	if sc.MaxHistory != 8 {
		t.Errorf("MaxHistory = %d, want 8", sc.MaxHistory)
	}
	if sc.ProcessTimeout != 45*time.Second {
		t.Errorf("ProcessTimeout = %v, want 45s", sc.ProcessTimeout)
	}
	if sc.OutboundBuffer != 128 {
		t.Errorf("OutboundBuffer = %d, want 128", sc.OutboundBuffer)
	}
	if sc.VAD.BaseThreshold != 1200 {
		t.Errorf("VAD.BaseThreshold = %v, want 1200", sc.VAD.BaseThreshold)
	}
	if sc.Utterance.MaxDuration != 20*time.Second {
		t.Errorf("Utterance.MaxDuration = %v, want 20s", sc.Utterance.MaxDuration)
	}
	if sc.Utterance.SilenceRun != 30 {
		t.Errorf("Utterance.SilenceRun = %d, want 30", sc.Utterance.SilenceRun)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{config.LogLevel(""), slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := slogLevel(tc.in); got != tc.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
