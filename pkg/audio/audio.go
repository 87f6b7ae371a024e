// Package audio implements the narrow-band wire codec for telephone media
// streams: G.711 mu-law companding, linear PCM frame handling, WAV container
// framing for recognition uploads, and mono sample-rate conversion.
//
// All multi-byte PCM is little-endian signed 16-bit. The wire format is fixed
// by the media server: 8 kHz mono mu-law in ~20 ms frames.
package audio

import "time"

const (
	// WireSampleRate is the telephone line sample rate in Hz.
	WireSampleRate = 8000

	// FrameSamples is the sample count of one wire frame (20 ms at 8 kHz).
	FrameSamples = 160

	// FrameDuration is the wall-clock span of one wire frame.
	FrameDuration = 20 * time.Millisecond

	// SilenceByte is the mu-law encoding of a zero sample, used to pad the
	// tail of outbound audio to a whole frame.
	SilenceByte = 0xFF
)

// Duration returns the wall-clock span of n samples at the given rate.
func Duration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// SplitFrames slices an outbound mu-law buffer into wire-sized frames. The
// final frame is padded with [SilenceByte] so every frame carries exactly
// frameBytes bytes. An empty buffer yields no frames.
func SplitFrames(mulaw []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 || len(mulaw) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(mulaw)+frameBytes-1)/frameBytes)
	for off := 0; off < len(mulaw); off += frameBytes {
		end := off + frameBytes
		if end <= len(mulaw) {
			frames = append(frames, mulaw[off:end:end])
			continue
		}
		tail := make([]byte, frameBytes)
		n := copy(tail, mulaw[off:])
		for i := n; i < frameBytes; i++ {
			tail[i] = SilenceByte
		}
		frames = append(frames, tail)
	}
	return frames
}
