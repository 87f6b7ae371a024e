package vad

const (
	// quietFactor marks frames quiet enough to feed the noise floor.
	quietFactor = 0.4

	// loudFactor marks frames excluded from floor estimation entirely.
	loudFactor = 2.0

	// floorDecayFast and floorDecaySlow are the asymmetric blend weights for
	// the background noise floor: fast downward so the floor follows a quiet
	// line quickly, throttled upward so transient loud sounds cannot drag it
	// up within a few frames.
	floorDecayFast = 0.05
	floorDecaySlow = 0.005

	// longTermInterval and longTermBlend control the second, slower time
	// constant that damps oscillation in the derived threshold.
	longTermInterval = 50
	longTermBlend    = 0.1

	// noiseToThreshold scales the long-term noise floor into a voice
	// threshold.
	noiseToThreshold = 4.0

	// floorFactor and ceilingFactor pin the adaptive threshold to a corridor
	// around the configured base threshold.
	floorFactor   = 0.5
	ceilingFactor = 2.0
)

// thresholdTracker estimates the background noise of one call and derives the
// adaptive voice threshold from it. A fixed-threshold energy gate fails when
// the line noise drifts; the two-speed estimator adapts within seconds while
// the corridor keeps a noisy line from swallowing the detector whole.
type thresholdTracker struct {
	base            float64
	backgroundNoise float64
	longTermNoise   float64
	adaptive        float64
	updateCounter   int
}

func newThresholdTracker(base float64) thresholdTracker {
	return thresholdTracker{
		base:            base,
		backgroundNoise: base / noiseToThreshold,
		longTermNoise:   base / noiseToThreshold,
		adaptive:        base,
	}
}

// update consumes one frame's RMS and returns the adaptive threshold to use
// for that same frame.
func (t *thresholdTracker) update(rms float64) float64 {
	switch {
	case rms < t.adaptive*quietFactor:
		if rms < t.backgroundNoise {
			t.backgroundNoise += (rms - t.backgroundNoise) * floorDecayFast
		} else {
			t.backgroundNoise += (rms - t.backgroundNoise) * floorDecaySlow
		}
	case rms > t.adaptive*loudFactor:
		// Loud transient, almost certainly voice: not noise evidence.
	default:
		// Ambiguous band still nudges the floor, but only at the throttled
		// upward rate.
		t.backgroundNoise += (rms - t.backgroundNoise) * floorDecaySlow
	}

	t.updateCounter++
	if t.updateCounter%longTermInterval == 0 {
		t.longTermNoise += (t.backgroundNoise - t.longTermNoise) * longTermBlend
	}

	t.adaptive = max(t.longTermNoise*noiseToThreshold, t.base*floorFactor)
	if ceiling := t.base * ceilingFactor; t.adaptive > ceiling {
		t.adaptive = ceiling
	}
	return t.adaptive
}
