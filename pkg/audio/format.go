// Package audio provides the sample-level building blocks of the duplex
// pipeline: PCM formats, 16-bit linear quantization, and signal level
// measurement. Everything here is pure computation over sample buffers;
// device handling lives with the callers.
package audio

import (
	"fmt"
	"time"
)

// Format describes a linear PCM stream.
type Format struct {
	SampleRate    int // samples per second
	Channels      int
	BitsPerSample int
}

// CaptureFormat returns the microphone format: 16 kHz mono 16-bit.
func CaptureFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// PlaybackFormat returns the synthesized-audio format: 24 kHz mono 16-bit.
func PlaybackFormat() Format {
	return Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

// BytesPerSample returns the width of one sample across all channels.
func (f Format) BytesPerSample() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond returns the byte rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerSample()
}

// Duration returns the play time of byteLen bytes of audio in this format.
func (f Format) Duration(byteLen int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || byteLen <= 0 {
		return 0
	}
	return time.Duration(byteLen) * time.Second / time.Duration(bps)
}

// BytesFor returns the byte count covering duration d, aligned down to a
// whole sample so the result is always directly playable.
func (f Format) BytesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return f.AlignBytes(int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second)))
}

// AlignBytes rounds byteLen down to a whole number of samples,
// dropping a trailing partial sample.
func (f Format) AlignBytes(byteLen int) int {
	step := f.BytesPerSample()
	if step <= 0 || byteLen <= 0 {
		return 0
	}
	return byteLen - byteLen%step
}

// MIMEType returns the transport tag for raw PCM in this format,
// e.g. "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}
