package audio

import (
	"encoding/binary"
	"time"
)

// wavHeaderSize is the canonical RIFF + fmt + data header length.
const wavHeaderSize = 44

// BuildWAV wraps mono 16-bit PCM in a canonical 44-byte RIFF/WAVE container.
// Every size field is computed from the actual payload length, so a zero-
// sample payload produces a valid (if silent) file.
func BuildWAV(pcm []int16, sampleRate int) []byte {
	dataLen := len(pcm) * 2
	buf := make([]byte, wavHeaderSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // fmt chunk payload size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // format tag: linear PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // channels: mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	return buf
}

// WAVDuration reports the play time of a canonical mono 16-bit WAV file as
// produced by BuildWAV. Returns 0 for payloads too short to carry the
// standard header or with a zero sample rate.
func WAVDuration(wav []byte) time.Duration {
	if len(wav) < wavHeaderSize {
		return 0
	}
	rate := binary.LittleEndian.Uint32(wav[24:28])
	if rate == 0 {
		return 0
	}
	samples := (len(wav) - wavHeaderSize) / 2
	return time.Duration(float64(samples) / float64(rate) * float64(time.Second))
}
