package vad

import "math"

const (
	// energyHistorySize bounds the RMS history feeding EnergyVariance.
	energyHistorySize = 10

	// energyHistoryMin is the sample count below which variance reads 0.
	energyHistoryMin = 4
)

// FeatureVector holds the per-frame acoustic measurements. Spectral fields
// come from a position-based pseudo-frequency proxy, not a real transform;
// they are cheap, stable discriminators rather than true spectra.
type FeatureVector struct {
	// RMS is the root-mean-square amplitude, normalized to [0, 1].
	RMS float64

	// PeakLevel is the largest absolute sample, normalized to [0, 1].
	PeakLevel float64

	// ZeroCrossingRate is the sign-change count divided by the sample count.
	ZeroCrossingRate float64

	// SpectralCentroid is the magnitude-weighted mean proxy frequency in Hz.
	SpectralCentroid float64

	// SpectralBalance is the mid band's share of total band energy.
	SpectralBalance float64

	// LowFreqEnergy, MidFreqEnergy and HighFreqEnergy accumulate squared
	// sample energy per proxy band.
	LowFreqEnergy  float64
	MidFreqEnergy  float64
	HighFreqEnergy float64

	// EnergyVariance is the population variance of the recent RMS history;
	// 0 until enough frames have been seen.
	EnergyVariance float64
}

// extractor computes feature vectors and owns the bounded RMS history.
type extractor struct {
	minSamples int
	nyquist    float64
	lowEdge    float64
	highEdge   float64

	rmsHistory []float64
}

// extract measures one PCM frame in a single pass. Frames shorter than the
// analysis floor yield [ErrInsufficientAudio] without touching the history.
func (e *extractor) extract(pcm []int16) (FeatureVector, error) {
	if len(pcm) < e.minSamples {
		return FeatureVector{}, ErrInsufficientAudio
	}

	n := len(pcm)
	var sumSquares, peak float64
	var weightedFreq, magnitudeSum float64
	var low, mid, high float64
	crossings := 0
	prevPositive := pcm[0] >= 0

	for i, s := range pcm {
		v := float64(s) / 32768.0
		mag := math.Abs(v)

		sumSquares += v * v
		if mag > peak {
			peak = mag
		}
		if i > 0 {
			positive := s >= 0
			if positive != prevPositive {
				crossings++
			}
			prevPositive = positive
		}

		// Sample position stands in for frequency: early samples count as
		// low, late as high, scaled to the Nyquist range.
		freq := float64(i) / float64(n) * e.nyquist
		weightedFreq += mag * freq
		magnitudeSum += mag

		energy := v * v
		switch {
		case freq < e.lowEdge:
			low += energy
		case freq < e.highEdge:
			mid += energy
		default:
			high += energy
		}
	}

	fv := FeatureVector{
		RMS:              math.Sqrt(sumSquares / float64(n)),
		PeakLevel:        peak,
		ZeroCrossingRate: float64(crossings) / float64(n),
		LowFreqEnergy:    low,
		MidFreqEnergy:    mid,
		HighFreqEnergy:   high,
	}
	if magnitudeSum > 0 {
		fv.SpectralCentroid = weightedFreq / magnitudeSum
	}
	if total := low + mid + high; total > 0 {
		fv.SpectralBalance = mid / total
	}

	e.pushRMS(fv.RMS)
	fv.EnergyVariance = e.energyVariance()

	return fv, nil
}

func (e *extractor) pushRMS(rms float64) {
	e.rmsHistory = append(e.rmsHistory, rms)
	if len(e.rmsHistory) > energyHistorySize {
		e.rmsHistory = e.rmsHistory[1:]
	}
}

func (e *extractor) energyVariance() float64 {
	if len(e.rmsHistory) < energyHistoryMin {
		return 0
	}
	var mean float64
	for _, r := range e.rmsHistory {
		mean += r
	}
	mean /= float64(len(e.rmsHistory))

	var variance float64
	for _, r := range e.rmsHistory {
		d := r - mean
		variance += d * d
	}
	return variance / float64(len(e.rmsHistory))
}
