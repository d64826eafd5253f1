package call

import "time"

// Event is a UI-facing notification from the call pipeline. Delivery
// is best effort: a slow consumer misses events rather than stalling
// the audio path.
type Event interface {
	eventType() string
}

// StateEvent reports a lifecycle transition.
type StateEvent struct {
	From State
	To   State
}

func (e StateEvent) eventType() string { return "state" }

// LevelEvent carries the input level for one capture tick, normalized
// to [0,1]. Emitted while muted too, so a level indicator can show the
// mic is alive.
type LevelEvent struct {
	RMS  float64
	Peak float64
}

func (e LevelEvent) eventType() string { return "level" }

// SpeakingEvent marks assistant playback starting (true) and draining
// to silence (false).
type SpeakingEvent struct {
	Active bool
}

func (e SpeakingEvent) eventType() string { return "speaking" }

// AudioScheduledEvent reports one playback unit placed on the cursor.
type AudioScheduledEvent struct {
	Start    time.Time
	Duration time.Duration
}

func (e AudioScheduledEvent) eventType() string { return "audio_scheduled" }

// PlaybackFlushedEvent reports a barge-in flush of pending playback.
type PlaybackFlushedEvent struct{}

func (e PlaybackFlushedEvent) eventType() string { return "playback_flushed" }

// FrameDroppedEvent reports the cumulative count of outbound frames
// dropped because the send queue was full.
type FrameDroppedEvent struct {
	Dropped uint64
}

func (e FrameDroppedEvent) eventType() string { return "frame_dropped" }

// DecodeErrorEvent reports a recovered per-chunk failure; the call
// stays connected.
type DecodeErrorEvent struct {
	Err *Error
}

func (e DecodeErrorEvent) eventType() string { return "decode_error" }

// ErrorEvent reports a fatal call error; teardown follows.
type ErrorEvent struct {
	Err *Error
}

func (e ErrorEvent) eventType() string { return "error" }
