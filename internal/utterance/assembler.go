// Package utterance assembles the smoothed per-frame voice signal into
// discrete, validated utterances. The assembler is a small state machine
// (idle, recording) owned by exactly one call worker: the first
// smoothed-voiced frame opens a recording, a silence run whose length scales
// with how much speech has accumulated closes it, and the buffered audio
// only leaves the assembler after a whole-signal confirmation pass that is
// independent of the per-frame detector.
package utterance

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/vad"
)

// ErrNoVoiceConfirmed reports an assembled utterance that failed the
// whole-signal confirmation even though per-frame detection passed.
var ErrNoVoiceConfirmed = errors.New("utterance: no voice confirmed in assembled audio")

// State is the assembler's position in the utterance lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config bundles the assembler's behavioural knobs. The zero value of any
// field selects the default noted on it.
type Config struct {
	// SampleRate of buffered PCM in Hz. Default: 8000.
	SampleRate int

	// MinDuration is the floor below which a flushed utterance is discarded.
	// Default: 300ms.
	MinDuration time.Duration

	// MaxDuration force-flushes a recording that never goes silent, bounding
	// buffer growth. Default: 30s.
	MaxDuration time.Duration

	// SilenceRun is how many consecutive smoothed-silent frames end a short
	// utterance. Default: 25 (half a second of 20ms frames).
	SilenceRun int

	// ExtendedSilenceRun replaces SilenceRun once the recorded speech is
	// longer than ExtendAfter, giving mid-sentence pauses a longer grace
	// window. Defaults: 50 frames after 1s.
	ExtendedSilenceRun int
	ExtendAfter        time.Duration

	// MinRMS is the whole-utterance energy floor for confirmation, in
	// normalized full-scale units. Default: 0.01.
	MinRMS float64
}

// DefaultConfig returns the tuning used for an 8 kHz telephone line.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.WireSampleRate
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 300 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 30 * time.Second
	}
	if c.SilenceRun <= 0 {
		c.SilenceRun = 25
	}
	if c.ExtendedSilenceRun <= 0 {
		c.ExtendedSilenceRun = 50
	}
	if c.ExtendAfter <= 0 {
		c.ExtendAfter = time.Second
	}
	if c.MinRMS <= 0 {
		c.MinRMS = 0.01
	}
	return c
}

// Utterance is one confirmed spoken segment, ready for recognition.
type Utterance struct {
	// ID correlates this utterance across recognition, dialogue and
	// synthesis logs.
	ID string

	// PCM is the DC-corrected mono signal.
	PCM []int16

	// WAV is the same signal in a RIFF container, as recognizers expect it.
	WAV []byte

	SampleRate int
	Duration   time.Duration
	Frames     int

	// RMS is the whole-utterance energy measured during confirmation.
	RMS float64

	// CapturedAt is when the opening frame arrived.
	CapturedAt time.Time
}

// Assembler buffers frames between voice start and confirmed silence end.
// Not safe for concurrent use; one per call worker.
type Assembler struct {
	cfg Config

	state     State
	frames    [][]int16
	samples   int
	startedAt time.Time

	// silenceRun counts the current trailing run of smoothed-silent frames,
	// tailSamples the samples inside it.
	silenceRun  int
	tailSamples int

	// speechlike counts frames that passed the spectral-complexity gate,
	// bookkeeping for the confirmation pass only.
	speechlike int
}

// New creates an assembler; zero config fields take their defaults.
func New(cfg Config) *Assembler {
	return &Assembler{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaulting.
func (a *Assembler) Config() Config { return a.cfg }

// State reports the current lifecycle state.
func (a *Assembler) State() State { return a.state }

// Append feeds one decoded frame and its smoothed verdict into the state
// machine. It returns a non-nil utterance exactly when a recording closed
// and survived confirmation. A nil utterance with a nil error is the normal
// mid-stream case; [vad.ErrInsufficientAudio] and [ErrNoVoiceConfirmed]
// report discarded recordings and leave the assembler idle again.
func (a *Assembler) Append(pcm []int16, v vad.Verdict) (*Utterance, error) {
	if a.state == StateIdle {
		if !v.Voiced {
			return nil, nil
		}
		a.state = StateRecording
		a.startedAt = time.Now()
	}

	// Every inbound frame is retained while recording; the gate below only
	// affects confirmation bookkeeping, never whether the frame is kept.
	frame := append([]int16(nil), pcm...)
	a.frames = append(a.frames, frame)
	a.samples += len(frame)

	if v.Voiced {
		a.silenceRun = 0
		a.tailSamples = 0
	} else {
		a.silenceRun++
		a.tailSamples += len(frame)
	}
	if speechlikeFrame(v) {
		a.speechlike++
	}

	if a.silenceRun >= a.silenceLimit() || a.elapsed() >= a.cfg.MaxDuration {
		return a.flush()
	}
	return nil, nil
}

// Reset drops any recording in progress and returns the assembler to idle.
// Used when the owning call is torn down mid-utterance.
func (a *Assembler) Reset() { a.clear() }

// silenceLimit picks the silence-run length that closes the recording. The
// scale input is the speech accumulated so far, excluding the trailing
// silent run itself, so the run cannot extend its own grace window.
func (a *Assembler) silenceLimit() int {
	speech := audio.Duration(a.samples-a.tailSamples, a.cfg.SampleRate)
	if speech >= a.cfg.ExtendAfter {
		return a.cfg.ExtendedSilenceRun
	}
	return a.cfg.SilenceRun
}

func (a *Assembler) elapsed() time.Duration {
	return audio.Duration(a.samples, a.cfg.SampleRate)
}

// flush closes the recording: trim the trailing silent run, enforce the
// duration floor, remove DC offset and run whole-signal confirmation. All
// per-utterance sub-state is cleared on every path out.
func (a *Assembler) flush() (*Utterance, error) {
	frames := a.frames
	if trim := min(a.silenceRun, len(frames)); trim > 0 {
		frames = frames[:len(frames)-trim]
	}
	startedAt := a.startedAt
	speechlike := a.speechlike
	appended := len(a.frames)
	defer a.clear()

	total := 0
	for _, f := range frames {
		total += len(f)
	}
	dur := audio.Duration(total, a.cfg.SampleRate)
	if dur < a.cfg.MinDuration {
		return nil, fmt.Errorf("utterance: %v below %v minimum duration: %w",
			dur, a.cfg.MinDuration, vad.ErrInsufficientAudio)
	}

	pcm := make([]int16, 0, total)
	for _, f := range frames {
		pcm = append(pcm, f...)
	}
	removeDC(pcm)

	m := measure(pcm)
	if err := a.confirm(m, speechlike, appended); err != nil {
		return nil, err
	}

	return &Utterance{
		ID:         uuid.NewString(),
		PCM:        pcm,
		WAV:        audio.BuildWAV(pcm, a.cfg.SampleRate),
		SampleRate: a.cfg.SampleRate,
		Duration:   dur,
		Frames:     len(frames),
		RMS:        m.rms,
		CapturedAt: startedAt,
	}, nil
}

func (a *Assembler) clear() {
	a.state = StateIdle
	a.frames = nil
	a.samples = 0
	a.silenceRun = 0
	a.tailSamples = 0
	a.speechlike = 0
	a.startedAt = time.Time{}
}
