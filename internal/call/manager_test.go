package call

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/trunkline/trunkline/internal/reply"
	"github.com/trunkline/trunkline/pkg/audio"
	llmmock "github.com/trunkline/trunkline/pkg/provider/llm/mock"
	sttmock "github.com/trunkline/trunkline/pkg/provider/stt/mock"
	"github.com/trunkline/trunkline/pkg/provider/tts"
	ttsmock "github.com/trunkline/trunkline/pkg/provider/tts/mock"
)

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	seq, err := reply.NewSequencer(
		&ttsmock.Synthesizer{Audio: bytes.Repeat([]byte{0x40}, audio.FrameSamples)},
		tts.VoiceProfile{ID: "voice-1"},
	)
	if err != nil {
		t.Fatalf("NewSequencer() error: %v", err)
	}
	m, err := NewManager(Collaborators{
		Recognizer: &sttmock.Recognizer{},
		Dialogue:   &llmmock.Provider{},
		Speech:     seq,
	}, cfg, testLogger())
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestNewManager_MissingCollaborator_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Collaborators{}, ManagerConfig{}, testLogger())
	if err == nil {
		t.Fatal("NewManager() with empty collaborators = nil error, want error")
	}
}

func TestManager_CreateGetDelete(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})

	s, err := m.Create("call-a")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if s.ID() != "call-a" {
		t.Errorf("ID() = %q, want %q", s.ID(), "call-a")
	}

	got, ok := m.Get("call-a")
	if !ok || got != s {
		t.Fatalf("Get() = (%p, %v), want same session", got, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	if err := m.Delete("call-a"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok := m.Get("call-a"); ok {
		t.Error("Get() after Delete found the session")
	}
	if _, open := <-s.Outbound(); open {
		t.Error("deleted session's outbound channel still open")
	}
}

func TestManager_CreateEmptyID_ReturnsError(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	if _, err := m.Create(""); err == nil {
		t.Fatal("Create(\"\") = nil error, want error")
	}
}

func TestManager_CreateIsIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	first, err := m.Create("call-a")
	if err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	second, err := m.Create("call-a")
	if err != nil {
		t.Fatalf("second Create() error: %v", err)
	}
	if first != second {
		t.Error("repeated Create returned a different session")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestManager_UpdateSessionConfig_AppliesToNewSessionsOnly(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	before, err := m.Create("call-old")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	m.UpdateSessionConfig(SessionConfig{SystemPrompt: "updated persona", MaxHistory: 4})

	after, err := m.Create("call-new")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if got := after.cfg.SystemPrompt; got != "updated persona" {
		t.Errorf("new session prompt = %q, want %q", got, "updated persona")
	}
	if got := after.cfg.MaxHistory; got != 4 {
		t.Errorf("new session max history = %d, want 4", got)
	}
	if got := before.cfg.SystemPrompt; got != "" {
		t.Errorf("live session prompt changed to %q", got)
	}
}

func TestManager_DeleteUnknown_ReturnsNotFound(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	err := m.Delete("ghost")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Delete(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_HandleFrameUnknown_ReturnsNotFound(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	err := m.HandleFrame("ghost", silenceWire())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("HandleFrame(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_HandleFrameRoutesToSession(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	s, err := m.Create("call-a")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := m.HandleFrame("call-a", silenceWire()); err != nil {
		t.Fatalf("HandleFrame() error: %v", err)
	}
	if got := s.Stats().FramesIn; got != 1 {
		t.Errorf("FramesIn = %d, want 1", got)
	}
}

func TestManager_SweepExpiresByAgeOnly(t *testing.T) {
	t.Parallel()

	const timeout = 30 * time.Minute
	m := newTestManager(t, ManagerConfig{HardTimeout: timeout})

	s, err := m.Create("call-a")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	born := s.createdAt

	// Just short of the cap: survives.
	if swept := m.sweepOnce(born.Add(timeout - time.Second)); len(swept) != 0 {
		t.Fatalf("sweep before timeout removed %v, want none", swept)
	}
	if _, ok := m.Get("call-a"); !ok {
		t.Fatal("session vanished before its time")
	}

	// Recent activity must not extend the lifetime.
	if err := m.HandleFrame("call-a", silenceWire()); err != nil {
		t.Fatalf("HandleFrame() error: %v", err)
	}

	// Just past the cap: removed, active or not.
	swept := m.sweepOnce(born.Add(timeout + time.Second))
	if len(swept) != 1 || swept[0] != "call-a" {
		t.Fatalf("sweep after timeout = %v, want [call-a]", swept)
	}
	if _, ok := m.Get("call-a"); ok {
		t.Error("expired session still registered")
	}
	if _, open := <-s.Outbound(); open {
		t.Error("expired session's outbound channel still open")
	}
}

func TestManager_SweepRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	const timeout = 10 * time.Minute
	m := newTestManager(t, ManagerConfig{HardTimeout: timeout})

	old, err := m.Create("call-old")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	old.createdAt = old.createdAt.Add(-timeout - time.Minute)
	if _, err := m.Create("call-new"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	swept := m.sweepOnce(time.Now())
	if len(swept) != 1 || swept[0] != "call-old" {
		t.Fatalf("sweepOnce() = %v, want [call-old]", swept)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
	if _, ok := m.Get("call-new"); !ok {
		t.Error("young session was swept")
	}
}

func TestManager_StatsOrderedByID(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	for _, id := range []string{"call-c", "call-a", "call-b"} {
		if _, err := m.Create(id); err != nil {
			t.Fatalf("Create(%q) error: %v", id, err)
		}
	}

	stats := m.Stats()
	if len(stats) != 3 {
		t.Fatalf("Stats() length = %d, want 3", len(stats))
	}
	for i, want := range []string{"call-a", "call-b", "call-c"} {
		if stats[i].ID != want {
			t.Errorf("stats[%d].ID = %q, want %q", i, stats[i].ID, want)
		}
	}
}

func TestManager_CloseTearsDownEverything(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	a, _ := m.Create("call-a")
	b, _ := m.Create("call-b")

	m.Close()
	if m.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", m.Len())
	}
	for _, s := range []*Session{a, b} {
		if _, open := <-s.Outbound(); open {
			t.Errorf("session %s outbound still open after manager Close", s.ID())
		}
	}
	if _, err := m.Create("call-c"); err == nil {
		t.Error("Create() after Close = nil error, want error")
	}
	m.Close()
}

func TestManagerConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := ManagerConfig{}.withDefaults()
	if cfg.HardTimeout != 30*time.Minute {
		t.Errorf("HardTimeout = %v, want 30m", cfg.HardTimeout)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.SweepInterval)
	}
}
