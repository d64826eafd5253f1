// Package call implements the live voice call pipeline: microphone
// capture feeding a realtime speech session, and gapless playback of
// the synthesized response with barge-in interruption.
//
// A Call runs at most one session. Its owner creates a Call, starts
// it, consumes Events until Done, and creates a new Call for the next
// conversation.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxkit/duplex/pkg/audio"
	"github.com/voxkit/duplex/pkg/realtime"
)

const (
	// DefaultFrameSamples is the capture tick size: 4096 samples,
	// 256 ms at 16 kHz.
	DefaultFrameSamples = 4096

	outboundQueueSize = 16
	eventBufferSize   = 32
)

// State is the call lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config assembles a call's collaborators.
type Config struct {
	// Session selects the remote model, voice, and instruction;
	// passed through to the dialer.
	Session realtime.SessionConfig

	Dialer realtime.Dialer
	Source Source
	Sink   Sink

	// FrameSamples overrides the capture tick size. Defaults to
	// DefaultFrameSamples.
	FrameSamples int

	// StartMuted gates transmission from the first tick.
	StartMuted bool

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FrameSamples <= 0 {
		c.FrameSamples = DefaultFrameSamples
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Call owns one live voice session end to end: the capture device,
// the outbound send queue, the inbound event loop, and the playback
// scheduler.
type Call struct {
	cfg    Config
	logger *slog.Logger

	source    Source
	scheduler *Scheduler
	session   realtime.Session // set before the loops start

	state         atomic.Int32
	muted         atomic.Bool
	droppedFrames atomic.Uint64

	events   chan Event
	outbound chan realtime.MediaChunk

	stop chan struct{} // closed on teardown; stops capture and sender
	done chan struct{} // closed once the call has fully stopped

	teardownOnce sync.Once
	doneOnce     sync.Once
}

// New validates the configuration and assembles a call. The call does
// nothing until Start.
func New(cfg Config) (*Call, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("call: dialer is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("call: capture source is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("call: playback sink is required")
	}
	cfg = cfg.withDefaults()

	c := &Call{
		cfg:       cfg,
		logger:    cfg.Logger,
		source:    cfg.Source,
		scheduler: NewScheduler(cfg.Sink, audio.PlaybackFormat()),
		events:    make(chan Event, eventBufferSize),
		outbound:  make(chan realtime.MediaChunk, outboundQueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.scheduler.OnActive(func(active bool) { c.emit(SpeakingEvent{Active: active}) })
	c.muted.Store(cfg.StartMuted)
	return c, nil
}

// Start proves microphone access, dials the remote session, and
// launches the pipeline. Capture begins once the session reports
// open. Preflight and dial failures move the call to StateError and
// are returned; no remote handshake is attempted without a device and
// a credential.
func (c *Call) Start(ctx context.Context) error {
	if !c.transition(StateDisconnected, StateConnecting) {
		return fmt.Errorf("call: already started (state %s)", c.State())
	}

	if err := c.source.Start(); err != nil {
		callErr := NewPermissionError("open capture device", err)
		c.fail(callErr)
		return callErr
	}

	sess, err := c.cfg.Dialer.Dial(ctx, c.cfg.Session)
	if err != nil {
		var callErr *Error
		if errors.Is(err, realtime.ErrNoCredential) {
			callErr = NewCredentialError("missing API credential", err)
		} else {
			callErr = NewRemoteSessionError("connect", err)
		}
		c.fail(callErr)
		return callErr
	}
	c.session = sess

	go c.eventLoop()
	go c.senderLoop()
	return nil
}

// eventLoop consumes the ordered inbound stream and drives the state
// machine. It is the only goroutine that reads session events, so
// capture ticks interleave with inbound handling in arrival order.
func (c *Call) eventLoop() {
	for ev := range c.session.Events() {
		switch ev := ev.(type) {
		case *realtime.Opened:
			if !c.transition(StateConnecting, StateConnected) {
				return // torn down during the handshake
			}
			// Fresh session, fresh playback timeline.
			c.scheduler.Flush()
			go c.captureLoop()
		case *realtime.Audio:
			c.handleAudio(ev.Chunk)
		case *realtime.Interrupted:
			c.scheduler.Flush()
			c.emit(PlaybackFlushedEvent{})
		case *realtime.TurnComplete:
			c.logger.Debug("turn complete")
		case *realtime.Closed:
			if ev.Err != nil {
				c.fail(NewRemoteSessionError("session ended", ev.Err))
			} else {
				c.shutdown(StateDisconnected)
			}
			return
		}
	}
}

// handleAudio decodes one inbound chunk, drops any trailing partial
// sample, and schedules the rest. Chunk-level failures drop the chunk
// with a diagnostic; the call stays up.
func (c *Call) handleAudio(chunk realtime.MediaChunk) {
	pcm, err := chunk.PCM()
	if err != nil {
		c.recoverChunk(NewDecodeError("undecodable audio payload", err))
		return
	}
	format := audio.PlaybackFormat()
	pcm = pcm[:format.AlignBytes(len(pcm))]
	if len(pcm) == 0 {
		return
	}
	start, err := c.scheduler.Enqueue(pcm)
	if err != nil {
		c.recoverChunk(NewDecodeError("schedule playback", err))
		return
	}
	c.emit(AudioScheduledEvent{Start: start, Duration: format.Duration(len(pcm))})
}

func (c *Call) recoverChunk(callErr *Error) {
	c.logger.Warn("dropping audio chunk", "error", callErr)
	c.emit(DecodeErrorEvent{Err: callErr})
}

// Hangup stops capture, flushes playback, and closes the session.
// Safe to call at any time, any number of times, from any state; it
// always leaves the call disconnected and never surfaces a close
// failure.
func (c *Call) Hangup() {
	c.shutdown(StateDisconnected)
}

// fail reports a fatal error and tears down into StateError.
func (c *Call) fail(callErr *Error) {
	c.logger.Error("call failed", "error", callErr)
	c.emit(ErrorEvent{Err: callErr})
	c.shutdown(StateError)
}

// shutdown tears the pipeline down exactly once and settles the final
// state. A later explicit hangup still moves an errored call to
// disconnected.
func (c *Call) shutdown(final State) {
	c.teardownOnce.Do(func() {
		close(c.stop)
		if err := c.source.Close(); err != nil {
			c.logger.Debug("capture close failed", "error", err)
		}
		c.scheduler.Flush()
		if c.session != nil {
			if err := c.session.Close(); err != nil {
				c.logger.Warn("session close failed", "error", NewCloseError("close session", err))
			}
		}
	})

	from := State(c.state.Swap(int32(final)))
	if from != final {
		c.emit(StateEvent{From: from, To: final})
	}
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Call) transition(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.emit(StateEvent{From: from, To: to})
	return true
}

func (c *Call) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// Events yields pipeline notifications. The channel is never closed;
// select against Done to detect the end of the call.
func (c *Call) Events() <-chan Event { return c.events }

// Done is closed once the call has fully stopped, after the final
// state event was queued.
func (c *Call) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Call) State() State { return State(c.state.Load()) }

// SetMuted gates outbound transmission. Takes effect on the next
// capture tick.
func (c *Call) SetMuted(muted bool) { c.muted.Store(muted) }

// Muted reports the current mute flag.
func (c *Call) Muted() bool { return c.muted.Load() }

// ToggleMute flips the mute flag and returns the new value.
func (c *Call) ToggleMute() bool {
	muted := !c.muted.Load()
	c.muted.Store(muted)
	return muted
}

// DroppedFrames returns how many outbound frames were dropped on a
// full send queue.
func (c *Call) DroppedFrames() uint64 { return c.droppedFrames.Load() }
