package whisper

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

var errMalformedWAV = errors.New("not a valid RIFF/WAVE file")

// decodeWAV parses a RIFF/WAVE payload and returns its samples as mono
// 16-bit PCM together with the container's sample rate. Multi-channel audio
// is downmixed by averaging.
func decodeWAV(data []byte) ([]int16, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("whisper: decode wav: %w", errMalformedWAV)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("whisper: decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return nil, 0, fmt.Errorf("whisper: unsupported wav bit depth %d", dec.BitDepth)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}

	if channels == 1 {
		pcm := make([]int16, len(buf.Data))
		for i, v := range buf.Data {
			pcm[i] = int16(v)
		}
		return pcm, buf.Format.SampleRate, nil
	}

	frames := len(buf.Data) / channels
	pcm := make([]int16, frames)
	for i := range frames {
		sum := 0
		for c := range channels {
			sum += buf.Data[i*channels+c]
		}
		pcm[i] = int16(sum / channels)
	}
	return pcm, buf.Format.SampleRate, nil
}

// pcmToFloat32 converts 16-bit PCM samples to the normalized float32 mono
// format the whisper.cpp bindings expect.
func pcmToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}
