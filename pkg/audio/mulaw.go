package audio

import "errors"

// ErrMalformedFrame reports codec input that cannot be a valid wire frame:
// empty, or an odd element count left over from a truncated transport read.
var ErrMalformedFrame = errors.New("audio: malformed frame")

const (
	// muLawBias is the G.711 bias added before the segment search. It also
	// carries the mantissa's implicit leading bit during expansion.
	muLawBias = 0x84

	// muLawClip bounds input magnitude to the codec's 13-bit dynamic range.
	muLawClip = 32635
)

// EncodeSample compands one linear 16-bit sample into a G.711 mu-law byte:
// bias, clamp, locate the doubling-width segment, pack sign|exponent|mantissa
// and complement the result.
func EncodeSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	// Segment search: seven doubling-width chords above the linear base.
	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

// DecodeSample expands one mu-law byte back to a linear 16-bit sample. The
// bias term restores the mantissa's implicit leading bit and centres the
// value inside its quantization interval.
func DecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	v := (int32(mantissa)<<3 + muLawBias) << exponent
	v -= muLawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// DecodeFrame expands a whole wire frame of mu-law bytes into PCM samples.
// Wire frames always carry an even sample count; empty or odd-length input
// indicates a truncated read and yields [ErrMalformedFrame].
func DecodeFrame(frame []byte) ([]int16, error) {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return nil, ErrMalformedFrame
	}
	pcm := make([]int16, len(frame))
	for i, b := range frame {
		pcm[i] = DecodeSample(b)
	}
	return pcm, nil
}

// EncodeFrame compands PCM samples into mu-law wire bytes, subject to the
// same even-count rule as [DecodeFrame].
func EncodeFrame(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, ErrMalformedFrame
	}
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeSample(s)
	}
	return out, nil
}
