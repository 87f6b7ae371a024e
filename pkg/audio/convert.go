package audio

import (
	"log/slog"
	"sync"
)

// Resampler converts mono PCM to a fixed target rate by linear interpolation.
// It logs a warning on the first rate mismatch it sees. Create one per
// stream; not designed for shared use across goroutines.
type Resampler struct {
	TargetRate     int
	warnedResample sync.Once
}

// Resample converts pcm from srcRate to the target rate. If the source rate
// already matches the target, pcm is returned unchanged (zero allocation).
func (r *Resampler) Resample(pcm []int16, srcRate int) []int16 {
	if srcRate == r.TargetRate {
		return pcm
	}

	// Log once per stream so a misconfigured upstream is visible without
	// flooding the log at frame rate.
	r.warnedResample.Do(func() {
		slog.Warn("audio resampler: rate mismatch, converting",
			"from", srcRate,
			"to", r.TargetRate,
		)
	})

	return ResampleMono(pcm, srcRate, r.TargetRate)
}

// ResampleMono resamples mono 16-bit PCM from srcRate to dstRate using linear
// interpolation. If either rate is non-positive, or the rates match, the
// input is returned unchanged.
func ResampleMono(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) == 0 {
		return pcm
	}
	dstSamples := int(int64(len(pcm)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := pcm[srcIdx]
		s1 := s0
		if srcIdx+1 < len(pcm) {
			s1 = pcm[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
