package vad_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/trunkline/trunkline/pkg/vad"
)

func sineFrame(amp float64, freq float64) []int16 {
	pcm := make([]int16, 160)
	for i := range pcm {
		pcm[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/8000))
	}
	return pcm
}

func silentFrame() []int16 { return make([]int16, 160) }

func TestDetector_Defaults(t *testing.T) {
	t.Parallel()

	got := vad.NewDetector(vad.Config{}).Config()
	if got != vad.DefaultConfig() {
		t.Errorf("effective config = %+v, want defaults %+v", got, vad.DefaultConfig())
	}
}

func TestDetector_InsufficientAudio(t *testing.T) {
	t.Parallel()

	d := vad.NewDetector(vad.Config{})
	_, err := d.Process(make([]int16, 10))
	if !errors.Is(err, vad.ErrInsufficientAudio) {
		t.Fatalf("Process(short frame) error = %v, want ErrInsufficientAudio", err)
	}
}

func TestDetector_SilenceStaysSilent(t *testing.T) {
	t.Parallel()

	d := vad.NewDetector(vad.Config{})
	for i := 0; i < 50; i++ {
		v, err := d.Process(silentFrame())
		if err != nil {
			t.Fatalf("frame %d: Process() error: %v", i, err)
		}
		if v.Voiced {
			t.Fatalf("frame %d: silent frame classified voiced", i)
		}
	}
}

func TestDetector_SpeechConfirmsQuickly(t *testing.T) {
	t.Parallel()

	d := vad.NewDetector(vad.Config{})
	voicedAt := -1
	for i := 0; i < 5; i++ {
		v, err := d.Process(sineFrame(8000, 500))
		if err != nil {
			t.Fatalf("frame %d: Process() error: %v", i, err)
		}
		if v.Voiced {
			voicedAt = i
			break
		}
	}
	if voicedAt == -1 || voicedAt > 1 {
		t.Errorf("speech confirmed at frame %d, want within the first 2 frames", voicedAt)
	}
}

// TestDetector_HangoverBridgesTrailingSilence replays the speech-then-silence
// boundary: with a hangover of 3 the smoothed signal must stay voiced for
// exactly 3 silent frames past the last voiced one.
func TestDetector_HangoverBridgesTrailingSilence(t *testing.T) {
	t.Parallel()

	d := vad.NewDetector(vad.Config{
		HangoverFrames: 3,
		HangoverBonus:  -1, // base hangover only, regardless of confidence
	})

	for i := 0; i < 4; i++ {
		v, err := d.Process(sineFrame(8000, 500))
		if err != nil {
			t.Fatalf("voiced frame %d: Process() error: %v", i, err)
		}
		if !v.Voiced {
			t.Fatalf("voiced frame %d classified silent", i)
		}
	}

	wantTail := []bool{true, true, true, false, false}
	for i, want := range wantTail {
		v, err := d.Process(silentFrame())
		if err != nil {
			t.Fatalf("silent frame %d: Process() error: %v", i, err)
		}
		if v.Voiced != want {
			t.Errorf("silent frame %d: Voiced = %v, want %v", i, v.Voiced, want)
		}
	}
}

func TestDetector_ThresholdStaysInCorridor(t *testing.T) {
	t.Parallel()

	d := vad.NewDetector(vad.Config{})
	base := d.Config().BaseThreshold
	rng := rand.New(rand.NewPCG(3, 9))

	for i := 0; i < 500; i++ {
		frame := sineFrame(rng.Float64()*32000, 200+rng.Float64()*1800)
		v, err := d.Process(frame)
		if err != nil {
			t.Fatalf("frame %d: Process() error: %v", i, err)
		}
		if v.Threshold < base*0.5 || v.Threshold > base*2 {
			t.Fatalf("frame %d: threshold %v outside [%v, %v]", i, v.Threshold, base*0.5, base*2)
		}
	}
}

func TestDetector_VerdictCarriesFeatures(t *testing.T) {
	t.Parallel()

	d := vad.NewDetector(vad.Config{})
	v, err := d.Process(sineFrame(8000, 500))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if v.Features.RMS <= 0 {
		t.Errorf("Features.RMS = %v, want > 0", v.Features.RMS)
	}
	if v.Decision.Confidence <= 0 {
		t.Errorf("Decision.Confidence = %v, want > 0", v.Decision.Confidence)
	}
	if v.Decision.Strength <= 0 {
		t.Errorf("Decision.Strength = %v, want > 0", v.Decision.Strength)
	}
	if v.Threshold <= 0 {
		t.Errorf("Threshold = %v, want > 0", v.Threshold)
	}
}
