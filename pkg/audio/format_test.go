package audio

import (
	"testing"
	"time"
)

func TestFormat_BytesPerSecond(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		expected int
	}{
		{name: "capture 16kHz mono", format: CaptureFormat(), expected: 32000},
		{name: "playback 24kHz mono", format: PlaybackFormat(), expected: 48000},
		{name: "stereo 44.1kHz", format: Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}, expected: 176400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.BytesPerSecond(); got != tt.expected {
				t.Fatalf("BytesPerSecond() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestFormat_Duration(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		byteLen  int
		expected time.Duration
	}{
		{name: "one second of capture audio", format: CaptureFormat(), byteLen: 32000, expected: time.Second},
		{name: "4096-sample frame at 16kHz", format: CaptureFormat(), byteLen: 8192, expected: 256 * time.Millisecond},
		{name: "one second of playback audio", format: PlaybackFormat(), byteLen: 48000, expected: time.Second},
		{name: "empty", format: PlaybackFormat(), byteLen: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.Duration(tt.byteLen); got != tt.expected {
				t.Fatalf("Duration(%d) = %v, want %v", tt.byteLen, got, tt.expected)
			}
		})
	}
}

func TestFormat_BytesFor(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		d        time.Duration
		expected int
	}{
		{name: "20ms capture frame", format: CaptureFormat(), d: 20 * time.Millisecond, expected: 640},
		{name: "one second playback", format: PlaybackFormat(), d: time.Second, expected: 48000},
		{name: "zero", format: CaptureFormat(), d: 0, expected: 0},
		// 1.03ms at 16kHz is 32.96 bytes; must align down to a whole sample.
		{name: "sample aligned", format: CaptureFormat(), d: 1030 * time.Microsecond, expected: 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.format.BytesFor(tt.d)
			if got != tt.expected {
				t.Fatalf("BytesFor(%v) = %d, want %d", tt.d, got, tt.expected)
			}
			if step := tt.format.BytesPerSample(); step > 0 && got%step != 0 {
				t.Fatalf("BytesFor(%v) = %d is not sample aligned", tt.d, got)
			}
		})
	}
}

func TestFormat_AlignBytes(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		byteLen  int
		expected int
	}{
		{name: "already aligned", format: PlaybackFormat(), byteLen: 4800, expected: 4800},
		{name: "trailing partial sample", format: PlaybackFormat(), byteLen: 4801, expected: 4800},
		{name: "single stray byte", format: PlaybackFormat(), byteLen: 1, expected: 0},
		{name: "empty", format: CaptureFormat(), byteLen: 0, expected: 0},
		// Stereo 16-bit frames are 4 bytes wide; 7 bytes is one frame plus change.
		{name: "stereo frame boundary", format: Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}, byteLen: 7, expected: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.AlignBytes(tt.byteLen); got != tt.expected {
				t.Fatalf("AlignBytes(%d) = %d, want %d", tt.byteLen, got, tt.expected)
			}
		})
	}
}

func TestFormat_MIMEType(t *testing.T) {
	if got := CaptureFormat().MIMEType(); got != "audio/pcm;rate=16000" {
		t.Fatalf("capture MIMEType = %q, want %q", got, "audio/pcm;rate=16000")
	}
	if got := PlaybackFormat().MIMEType(); got != "audio/pcm;rate=24000" {
		t.Fatalf("playback MIMEType = %q, want %q", got, "audio/pcm;rate=24000")
	}
}
