// Package vad implements the voice activity detector for narrow-band
// telephone audio.
//
// The detector chains four stages over a stream of 16-bit PCM frames:
//
//  1. Feature extraction — per-frame energy, zero-crossing and spectral
//     proxy measurements ([FeatureVector]).
//  2. Adaptive threshold tracking — a two-speed background noise estimator
//     that keeps the voice threshold inside a fixed corridor while the line
//     noise drifts.
//  3. Decision scoring — a multi-criterion integer score plus confidence
//     turning one feature vector into a raw [Decision].
//  4. Temporal smoothing — hangover bridging and a confidence-weighted
//     sliding vote turning raw decisions into a stable voiced/silence signal.
//
// One [Detector] owns all mutable state for one call and is not safe for
// concurrent use; create one per call worker.
package vad

import "errors"

// ErrInsufficientAudio reports a frame or segment too short to analyse.
var ErrInsufficientAudio = errors.New("vad: insufficient audio for analysis")

// Config bundles every tuning knob of the detector so that behavioural
// variants are configuration, not forked code. The zero value of any field
// selects the default noted on it.
type Config struct {
	// SampleRate of incoming PCM in Hz. Default: 8000.
	SampleRate int

	// MinAnalysisSamples is the shortest frame the feature extractor accepts.
	// Shorter frames yield [ErrInsufficientAudio]. Default: 64.
	MinAnalysisSamples int

	// BaseThreshold anchors the adaptive voice threshold, in normalized
	// full-scale RMS units. The adaptive threshold never leaves the corridor
	// [BaseThreshold/2, BaseThreshold*2]. Default: 0.015.
	BaseThreshold float64

	// SmoothingWindow is the capacity of the sliding decision ring.
	// Default: 10.
	SmoothingWindow int

	// HangoverFrames is how many silent frames stay bridged to voiced after
	// the last voiced frame. Default: 8.
	HangoverFrames int

	// HangoverBonus is added to the hangover when the triggering frame was
	// high-confidence. Negative disables the bonus. Default: 4.
	HangoverBonus int

	// MinPeak and MaxPeak bound the per-frame peak level corridor the scorer
	// treats as plausible speech (below: silence; above: clipping).
	// Defaults: 0.02 and 0.95.
	MinPeak float64
	MaxPeak float64

	// LowBandHz and HighBandHz are the band edges of the spectral proxy
	// accumulators: low < LowBandHz <= mid < HighBandHz <= high.
	// Defaults: 500 and 2000.
	LowBandHz  float64
	HighBandHz float64
}

// DefaultConfig returns the tuning used for an 8 kHz telephone line.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.MinAnalysisSamples <= 0 {
		c.MinAnalysisSamples = 64
	}
	if c.BaseThreshold <= 0 {
		c.BaseThreshold = 0.015
	}
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = 10
	}
	if c.HangoverFrames <= 0 {
		c.HangoverFrames = 8
	}
	if c.HangoverBonus == 0 {
		c.HangoverBonus = 4
	} else if c.HangoverBonus < 0 {
		c.HangoverBonus = 0
	}
	if c.MinPeak <= 0 {
		c.MinPeak = 0.02
	}
	if c.MaxPeak <= 0 {
		c.MaxPeak = 0.95
	}
	if c.LowBandHz <= 0 {
		c.LowBandHz = 500
	}
	if c.HighBandHz <= 0 {
		c.HighBandHz = 2000
	}
	return c
}

// Verdict is the outcome of processing one frame.
type Verdict struct {
	// Voiced is the final smoothed decision for this frame.
	Voiced bool

	// Decision is the raw scorer output before smoothing.
	Decision Decision

	// Features are the measurements the decision was based on.
	Features FeatureVector

	// Threshold is the adaptive voice threshold after this frame's update.
	Threshold float64
}

// Detector runs the full per-frame detection chain for one call.
type Detector struct {
	cfg       Config
	extractor extractor
	tracker   thresholdTracker
	scorer    scorer
	smoother  smoother
}

// NewDetector creates a detector with cfg; zero fields take their defaults.
func NewDetector(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg: cfg,
		extractor: extractor{
			minSamples: cfg.MinAnalysisSamples,
			nyquist:    float64(cfg.SampleRate) / 2,
			lowEdge:    cfg.LowBandHz,
			highEdge:   cfg.HighBandHz,
		},
		tracker:  newThresholdTracker(cfg.BaseThreshold),
		scorer:   scorer{minPeak: cfg.MinPeak, maxPeak: cfg.MaxPeak},
		smoother: newSmoother(cfg.SmoothingWindow, cfg.HangoverFrames, cfg.HangoverBonus),
	}
}

// Config returns the effective configuration after defaulting.
func (d *Detector) Config() Config { return d.cfg }

// Process runs one PCM frame through extraction, threshold update, scoring
// and smoothing. Frames shorter than the analysis floor return
// [ErrInsufficientAudio] and leave all detector state untouched.
func (d *Detector) Process(pcm []int16) (Verdict, error) {
	fv, err := d.extractor.extract(pcm)
	if err != nil {
		return Verdict{}, err
	}

	threshold := d.tracker.update(fv.RMS)
	decision := d.scorer.score(fv, threshold, d.tracker.backgroundNoise)
	voiced := d.smoother.apply(decision)

	return Verdict{
		Voiced:    voiced,
		Decision:  decision,
		Features:  fv,
		Threshold: threshold,
	}, nil
}

// BackgroundNoise returns the current background noise floor estimate.
func (d *Detector) BackgroundNoise() float64 { return d.tracker.backgroundNoise }

// AdaptiveThreshold returns the current adaptive voice threshold.
func (d *Detector) AdaptiveThreshold() float64 { return d.tracker.adaptive }
