// Package audio implements the client-side capture pipeline and the playback
// sequencer: float32/PCM16 conversion, chunk aggregation with a dual flush
// threshold, a speech-level estimator, and strictly ordered fragment playback.
package audio

import "encoding/binary"

// EncodePCM16 converts float32 samples in [-1, 1] to 16-bit little-endian
// signed PCM. Out-of-range samples are clamped. Negative and positive halves
// scale asymmetrically so that -1.0 maps to -32768 and 1.0 to 32767.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian signed PCM to float32 samples in
// [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 0x8000
	}
	return out
}

// MeanAbsLevel returns the mean absolute amplitude of a PCM16 frame,
// normalized to [0, 1]. Used by the speech estimator.
func MeanAbsLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			sum -= float64(v)
		} else {
			sum += float64(v)
		}
	}
	return sum / float64(n) / 32768
}
