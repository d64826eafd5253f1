package audio

import (
	"encoding/binary"
	"math"
)

// pcmScale is the divisor used when expanding 16-bit samples back to floats.
// Positive samples quantize against 32767 and negative against 32768 so both
// endpoints of [-1, 1] are representable.
const pcmScale = 32768.0

// EncodePCM16LE quantizes normalized float samples to 16-bit little-endian
// PCM. Samples are clamped to [-1, 1] first; NaN quantizes to zero and
// infinities clamp to full scale, so the function is total over any input.
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(Quantize(s)))
	}
	return out
}

// Quantize converts one normalized sample to its 16-bit value.
func Quantize(s float32) int16 {
	f := float64(s)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= 1:
		return math.MaxInt16
	case f <= -1:
		return math.MinInt16
	case f >= 0:
		return int16(f * (pcmScale - 1))
	default:
		return int16(f * pcmScale)
	}
}

// DecodePCM16LE expands 16-bit little-endian PCM back to normalized floats.
// A trailing partial sample is dropped rather than treated as an error.
func DecodePCM16LE(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(float64(v) / pcmScale)
	}
	return out
}
