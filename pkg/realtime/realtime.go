// Package realtime defines the narrow contract between the duplex call
// pipeline and a cloud speech session.
//
// A realtime session is a long-lived bidirectional stream: the client pushes
// base64-encoded PCM chunks upward and receives synthesized audio, turn
// markers, and an interruption signal downward. The pipeline in pkg/call is
// written entirely against the interfaces here; pkg/realtime/gemini provides
// the production transports.
//
// Implementations must deliver inbound events on a single channel in arrival
// order, emit *Closed as the final event, and then close the channel.
package realtime

import (
	"context"
	"errors"

	"github.com/voxkit/duplex/pkg/audio"
)

// ErrNoCredential is returned by a Dialer that has no API key configured.
// Dialers must fail with it before any network activity.
var ErrNoCredential = errors.New("realtime: missing api key")

// ErrSessionClosed is returned by Send after the session has been closed.
var ErrSessionClosed = errors.New("realtime: session closed")

// SessionConfig describes the session to establish. Output modality is
// always audio; the voice and instruction select how that audio sounds
// and behaves.
type SessionConfig struct {
	// Model is the speech model identifier, without any vendor prefix.
	Model string

	// VoiceName selects the prebuilt synthesis voice.
	VoiceName string

	// SystemInstruction is the composed behavioral prompt for the session.
	SystemInstruction string

	// Input and Output declare the PCM formats for each direction.
	// Zero values default to audio.CaptureFormat and audio.PlaybackFormat.
	Input  audio.Format
	Output audio.Format
}

// Normalized returns the config with zero-valued fields defaulted, so
// transport implementations can rely on complete audio formats.
func (c SessionConfig) Normalized() SessionConfig {
	if c.Input.SampleRate == 0 {
		c.Input = audio.CaptureFormat()
	}
	if c.Output.SampleRate == 0 {
		c.Output = audio.PlaybackFormat()
	}
	return c
}

// Dialer establishes realtime sessions.
type Dialer interface {
	// Dial connects and performs the session handshake. The returned
	// Session is live: its Events channel already carries *Opened.
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is an open realtime speech session.
//
// Send must be safe for concurrent use with Close. Events returns the same
// channel on every call. Close is idempotent and causes the event channel
// to terminate with *Closed.
type Session interface {
	// Send delivers one encoded audio chunk as realtime input.
	Send(chunk MediaChunk) error

	// Events returns the ordered inbound event stream.
	Events() <-chan ServerEvent

	// Close tears the session down. Safe to call more than once.
	Close() error
}
