package audio

import "math"

// RMS returns the root-mean-square energy of normalized float samples.
// The result is in [0, 1]: 0 for silence, 1 for a full-scale square wave.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample value, in [0, 1] for
// normalized input.
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		f := math.Abs(float64(s))
		if f > peak {
			peak = f
		}
	}
	return peak
}

// RMSPCM16LE computes RMS energy directly over 16-bit little-endian PCM
// bytes, normalized to [0, 1]. A trailing partial sample is ignored.
func RMSPCM16LE(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		f := float64(v) / pcmScale
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// PeakPCM16LE returns the peak absolute amplitude of 16-bit little-endian
// PCM bytes, normalized to [0, 1].
func PeakPCM16LE(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(pcm[i]) | int16(pcm[i+1])<<8
		f := math.Abs(float64(v) / pcmScale)
		if f > peak {
			peak = f
		}
	}
	return peak
}
