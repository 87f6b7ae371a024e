package vad

// Scoring bands. These are heuristic speech ranges for 8 kHz telephony; the
// per-frame score is a count of independent agreements, so no single band is
// load-bearing.
const (
	zcrSpeechLow  = 0.02
	zcrSpeechHigh = 0.30
	zcrBonusLow   = 0.05
	zcrBonusHigh  = 0.15

	centroidSpeechLow  = 200.0
	centroidSpeechHigh = 3000.0
	centroidBonusLow   = 300.0
	centroidBonusHigh  = 2500.0

	balanceLow  = 0.25
	balanceHigh = 0.85

	varianceLow  = 1e-6
	varianceHigh = 0.01

	// partialCredit is the fraction of the adaptive threshold at which a
	// frame's energy earns partial rather than full credit.
	partialCredit = 0.7

	// sustainedFactor is how far above the background noise floor a frame
	// must sit to count as sustained energy.
	sustainedFactor = 3.0

	// scoreStrong and scoreWeak are the decision bars: weak individual
	// evidence (low confidence) requires broader agreement.
	scoreStrong      = 6
	scoreWeak        = 8
	confidenceStrong = 0.7
)

// Decision is the raw classifier output for one frame.
type Decision struct {
	// Voiced is the scorer's verdict before temporal smoothing.
	Voiced bool

	// Confidence in [0, 1] reflects how many checks agreed and how strongly.
	Confidence float64

	// Strength is the frame RMS as a multiple of the adaptive threshold.
	Strength float64
}

// scorer is the stateless multi-criterion classifier.
type scorer struct {
	minPeak float64
	maxPeak float64
}

// score accumulates an integer score and a capped confidence from
// independent additive checks on one feature vector.
func (sc scorer) score(fv FeatureVector, threshold, backgroundNoise float64) Decision {
	score := 0
	confidence := 0.0

	// Energy against the adaptive threshold: full or partial credit.
	switch {
	case fv.RMS >= threshold:
		score += 3
		confidence += 0.30
	case fv.RMS >= threshold*partialCredit:
		score++
		confidence += 0.10
	}

	// Sustained energy well clear of the measured noise floor.
	if fv.RMS > backgroundNoise*sustainedFactor {
		score += 2
		confidence += 0.20
	}

	// Zero-crossing rate in the speech band, tighter bonus sub-band.
	if fv.ZeroCrossingRate >= zcrSpeechLow && fv.ZeroCrossingRate <= zcrSpeechHigh {
		score += 2
		confidence += 0.15
		if fv.ZeroCrossingRate >= zcrBonusLow && fv.ZeroCrossingRate <= zcrBonusHigh {
			score++
			confidence += 0.05
		}
	}

	// Spectral centroid in the speech band, bonus sub-band.
	if fv.SpectralCentroid >= centroidSpeechLow && fv.SpectralCentroid <= centroidSpeechHigh {
		score += 2
		confidence += 0.15
		if fv.SpectralCentroid >= centroidBonusLow && fv.SpectralCentroid <= centroidBonusHigh {
			score++
			confidence += 0.05
		}
	}

	// Mid-band dominance: speech energy concentrates between the band edges.
	if fv.SpectralBalance >= balanceLow && fv.SpectralBalance <= balanceHigh {
		score++
		confidence += 0.05
	}

	// Peak inside the non-silent, non-clipping corridor.
	if fv.PeakLevel >= sc.minPeak && fv.PeakLevel <= sc.maxPeak {
		score++
		confidence += 0.05
	}

	// Natural energy variation; dead-steady tones earn nothing here.
	if fv.EnergyVariance >= varianceLow && fv.EnergyVariance <= varianceHigh {
		score++
		confidence += 0.05
	}

	if confidence > 1 {
		confidence = 1
	}

	var voiced bool
	if confidence > confidenceStrong {
		voiced = score >= scoreStrong
	} else {
		voiced = score >= scoreWeak
	}

	var strength float64
	if threshold > 0 {
		strength = fv.RMS / threshold
	}

	return Decision{Voiced: voiced, Confidence: confidence, Strength: strength}
}
