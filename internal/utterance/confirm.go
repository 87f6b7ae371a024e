package utterance

import (
	"fmt"
	"math"

	"github.com/trunkline/trunkline/pkg/vad"
)

// Confirmation bands for the whole-utterance second line of defense. These
// reject recordings the per-frame detector let through: dead-flat buffers,
// crackle bursts and monotone non-speech sounds.
const (
	zcrFloor   = 0.01
	zcrCeiling = 0.45

	// crest is peak over rms; a pure tone sits near 1.4, clicks and pops
	// spike far higher, DC-flat signals collapse toward 1.
	crestFloor   = 1.15
	crestCeiling = 25.0

	// minSpeechlikeShare is the fraction of recorded frames that must have
	// passed the spectral-complexity gate.
	minSpeechlikeShare = 0.25

	// Gate bands for a speechlike frame, applied to frames whose raw
	// decision was silent.
	gateZCRLow       = 0.02
	gateZCRHigh      = 0.30
	gateCentroidLow  = 200.0
	gateCentroidHigh = 3000.0
)

// speechlikeFrame is the per-frame spectral-complexity gate. A raw voiced
// decision passes outright; otherwise the frame must at least look
// speech-shaped in zero-crossing rate and centroid.
func speechlikeFrame(v vad.Verdict) bool {
	if v.Decision.Voiced {
		return true
	}
	f := v.Features
	return f.ZeroCrossingRate >= gateZCRLow && f.ZeroCrossingRate <= gateZCRHigh &&
		f.SpectralCentroid >= gateCentroidLow && f.SpectralCentroid <= gateCentroidHigh
}

type measurements struct {
	rms  float64
	peak float64
	zcr  float64
}

// measure computes the whole-signal statistics used by confirmation,
// independent of anything the per-frame detector saw.
func measure(pcm []int16) measurements {
	if len(pcm) == 0 {
		return measurements{}
	}

	var sumSquares, peak float64
	crossings := 0
	prevPositive := pcm[0] >= 0
	for i, s := range pcm {
		v := float64(s) / 32768.0
		sumSquares += v * v
		if mag := math.Abs(v); mag > peak {
			peak = mag
		}
		if i > 0 {
			positive := s >= 0
			if positive != prevPositive {
				crossings++
			}
			prevPositive = positive
		}
	}

	n := float64(len(pcm))
	return measurements{
		rms:  math.Sqrt(sumSquares / n),
		peak: peak,
		zcr:  float64(crossings) / n,
	}
}

// confirm applies the acceptance bands to the measured signal.
func (a *Assembler) confirm(m measurements, speechlike, appended int) error {
	if m.rms < a.cfg.MinRMS {
		return fmt.Errorf("utterance: rms %.4f below floor %.4f: %w", m.rms, a.cfg.MinRMS, ErrNoVoiceConfirmed)
	}
	if m.zcr < zcrFloor || m.zcr > zcrCeiling {
		return fmt.Errorf("utterance: zero-crossing rate %.3f outside [%.2f, %.2f]: %w",
			m.zcr, zcrFloor, zcrCeiling, ErrNoVoiceConfirmed)
	}
	if crest := m.peak / m.rms; crest < crestFloor || crest > crestCeiling {
		return fmt.Errorf("utterance: crest factor %.2f outside [%.2f, %.2f]: %w",
			crest, crestFloor, crestCeiling, ErrNoVoiceConfirmed)
	}
	if share := float64(speechlike) / float64(appended); share < minSpeechlikeShare {
		return fmt.Errorf("utterance: speechlike share %.2f below %.2f: %w",
			share, minSpeechlikeShare, ErrNoVoiceConfirmed)
	}
	return nil
}

// removeDC subtracts the utterance mean from every sample. The offset is
// estimated per utterance and never carried to the next one.
func removeDC(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	var sum int64
	for _, s := range pcm {
		sum += int64(s)
	}
	mean := sum / int64(len(pcm))
	if mean == 0 {
		return
	}
	for i, s := range pcm {
		v := int64(s) - mean
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i] = int16(v)
	}
}
