package vad

// Smoothing constants. The vote thresholds are fractions of the
// confidence-weighted window mass that must be voiced for a raw voiced
// decision to survive smoothing.
const (
	minVoteWeight  = 0.1
	highConfidence = 0.8

	voteThresholdBase        = 0.5
	voteThresholdStreak      = 0.4
	voteThresholdLongSilence = 0.65
	voteThresholdHangover    = 0.35

	streakFrames      = 3
	longSilenceFrames = 20
)

// vote is one raw frame decision retained for windowed voting.
type vote struct {
	voiced     bool
	confidence float64
	strength   float64
}

// smoother turns the per-frame decisions into a stable voiced/silent
// signal. Raw voiced decisions must win a confidence-weighted majority
// vote over the recent window, raw silent decisions are bridged while
// the hangover counter runs. The hangover resets on every voiced frame
// and earns a bonus when the frame was high confidence, so utterance
// tails survive brief trailing consonants without the detector
// flapping.
type smoother struct {
	window         int
	hangoverFrames int
	hangoverBonus  int

	ring []vote

	consecutiveVoiced  int
	consecutiveSilence int
	hangoverRemaining  int
}

func newSmoother(window, hangoverFrames, hangoverBonus int) smoother {
	return smoother{
		window:         window,
		hangoverFrames: hangoverFrames,
		hangoverBonus:  hangoverBonus,
		ring:           make([]vote, 0, window),
	}
}

// apply folds the raw decision into the smoothing state and returns the
// final voiced verdict for this frame. The vote threshold is taken from
// the context before this frame so the frame cannot lower its own bar.
func (s *smoother) apply(d Decision) bool {
	threshold := s.voteThreshold()

	bridged := false
	if d.Voiced {
		s.consecutiveVoiced++
		s.consecutiveSilence = 0
		s.hangoverRemaining = s.hangoverFrames
		if d.Confidence > highConfidence {
			s.hangoverRemaining += s.hangoverBonus
		}
	} else {
		s.consecutiveVoiced = 0
		s.consecutiveSilence++
		if s.hangoverRemaining > 0 {
			s.hangoverRemaining--
			bridged = true
		}
	}

	s.push(d)

	if d.Voiced {
		return s.weightedVoicedRatio() >= threshold
	}
	return bridged
}

func (s *smoother) push(d Decision) {
	s.ring = append(s.ring, vote{voiced: d.Voiced, confidence: d.Confidence, strength: d.Strength})
	if len(s.ring) > s.window {
		s.ring = s.ring[1:]
	}
}

// weightedVoicedRatio is the voiced share of the window where each
// frame votes with its confidence. Low-confidence frames still get a
// floor weight so a window of hesitant frames cannot divide by zero.
func (s *smoother) weightedVoicedRatio() float64 {
	var voicedWeight, totalWeight float64
	for _, v := range s.ring {
		w := max(minVoteWeight, v.confidence)
		totalWeight += w
		if v.voiced {
			voicedWeight += w
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return voicedWeight / totalWeight
}

// voteThreshold adapts the majority bar to recent context. While a
// silence gap is being bridged the bar is lowest so speech resuming
// mid utterance is not chopped, during a voiced streak it stays low,
// and after a long silence it rises so line noise has to work harder
// to open a new utterance.
func (s *smoother) voteThreshold() float64 {
	switch {
	case s.consecutiveSilence > 0 && s.hangoverRemaining > 0:
		return voteThresholdHangover
	case s.consecutiveVoiced >= streakFrames:
		return voteThresholdStreak
	case s.consecutiveSilence >= longSilenceFrames:
		return voteThresholdLongSilence
	default:
		return voteThresholdBase
	}
}
