package call

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxkit/duplex/pkg/audio"
	"github.com/voxkit/duplex/pkg/realtime"
)

type fakeSource struct {
	frames   chan []float32
	quit     chan struct{}
	startErr error

	closeOnce sync.Once
	started   atomic.Bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		frames: make(chan []float32, 64),
		quit:   make(chan struct{}),
	}
}

func (s *fakeSource) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started.Store(true)
	return nil
}

func (s *fakeSource) ReadFrame(buf []float32) error {
	select {
	case frame := <-s.frames:
		copy(buf, frame)
		return nil
	case <-s.quit:
		return errors.New("source closed")
	}
}

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return nil
}

func (s *fakeSource) push(frame []float32) { s.frames <- frame }

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

type fakeSession struct {
	events chan realtime.ServerEvent
	sent   chan realtime.MediaChunk

	// When non-nil, Send blocks until the channel is closed.
	gate chan struct{}

	finishOnce sync.Once
	closeCalls atomic.Int32
	closed     atomic.Bool
	closeErr   error
}

func newFakeSession() *fakeSession {
	s := &fakeSession{
		events: make(chan realtime.ServerEvent, 32),
		sent:   make(chan realtime.MediaChunk, 64),
	}
	s.events <- &realtime.Opened{}
	return s
}

func (s *fakeSession) Send(chunk realtime.MediaChunk) error {
	if s.closed.Load() {
		return realtime.ErrSessionClosed
	}
	if s.gate != nil {
		<-s.gate
	}
	s.sent <- chunk
	return nil
}

func (s *fakeSession) Events() <-chan realtime.ServerEvent { return s.events }

func (s *fakeSession) Close() error {
	s.closeCalls.Add(1)
	s.closed.Store(true)
	s.finish(nil)
	return s.closeErr
}

// finish ends the event stream the way a transport would: a final
// Closed event, then channel closure.
func (s *fakeSession) finish(err error) {
	s.finishOnce.Do(func() {
		s.events <- &realtime.Closed{Err: err}
		close(s.events)
	})
}

func (s *fakeSession) serveAudio(pcm []byte) {
	s.events <- &realtime.Audio{Chunk: realtime.NewMediaChunk(pcm, audio.PlaybackFormat())}
}

func (s *fakeSession) serveMalformedAudio() {
	s.events <- &realtime.Audio{Chunk: realtime.MediaChunk{MIMEType: "audio/pcm;rate=24000", Data: "%%not-base64%%"}}
}

func (s *fakeSession) serveInterrupted() {
	s.events <- &realtime.Interrupted{}
}

type fakeDialer struct {
	session *fakeSession
	err     error

	called bool
	gotCfg realtime.SessionConfig
}

func (d *fakeDialer) Dial(_ context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	d.called = true
	d.gotCfg = cfg
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type callFixture struct {
	call   *Call
	src    *fakeSource
	sink   *fakeSink
	sess   *fakeSession
	dialer *fakeDialer
}

func newCallFixture(t *testing.T) *callFixture {
	t.Helper()

	src := newFakeSource()
	sink := &fakeSink{}
	sess := newFakeSession()
	dialer := &fakeDialer{session: sess}

	c, err := New(Config{
		Session: realtime.SessionConfig{
			Model:             "gemini-2.0-flash-live-001",
			VoiceName:         "Puck",
			SystemInstruction: "You are concise.",
		},
		Dialer:       dialer,
		Source:       src,
		Sink:         sink,
		FrameSamples: 4,
		Logger:       slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Hangup)

	return &callFixture{call: c, src: src, sink: sink, sess: sess, dialer: dialer}
}

func (f *callFixture) start(t *testing.T) {
	t.Helper()
	if err := f.call.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, f.call, StateConnected)
}

func waitForState(t *testing.T, c *Call, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextSend(t *testing.T, sess *fakeSession) realtime.MediaChunk {
	t.Helper()
	select {
	case chunk := <-sess.sent:
		return chunk
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a send")
	}
	return realtime.MediaChunk{}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Dialer: &fakeDialer{session: newFakeSession()},
			Source: newFakeSource(),
			Sink:   &fakeSink{},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "nil dialer", mutate: func(c *Config) { c.Dialer = nil }},
		{name: "nil source", mutate: func(c *Config) { c.Source = nil }},
		{name: "nil sink", mutate: func(c *Config) { c.Sink = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatalf("expected config error")
			}
		})
	}

	if _, err := New(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestCall_PassesSessionConfigToDialer(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	if f.dialer.gotCfg.Model != "gemini-2.0-flash-live-001" {
		t.Fatalf("model = %q", f.dialer.gotCfg.Model)
	}
	if f.dialer.gotCfg.VoiceName != "Puck" {
		t.Fatalf("voice = %q", f.dialer.gotCfg.VoiceName)
	}
	if f.dialer.gotCfg.SystemInstruction != "You are concise." {
		t.Fatalf("instruction = %q", f.dialer.gotCfg.SystemInstruction)
	}
}

func TestCall_ThreeTicksThreeSendsInOrder(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	frames := [][]float32{
		{0.1, 0.1, 0.1, 0.1},
		{0.2, 0.2, 0.2, 0.2},
		{0.3, 0.3, 0.3, 0.3},
	}
	for _, frame := range frames {
		f.src.push(frame)
	}

	for i, frame := range frames {
		chunk := nextSend(t, f.sess)
		if chunk.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("send %d mimeType = %q", i, chunk.MIMEType)
		}
		pcm, err := chunk.PCM()
		if err != nil {
			t.Fatalf("send %d payload: %v", i, err)
		}
		if want := audio.EncodePCM16LE(frame); !bytes.Equal(pcm, want) {
			t.Fatalf("send %d payload mismatch: got %x want %x", i, pcm, want)
		}
	}
}

func TestCall_MuteGatesTransmission(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	f.call.SetMuted(true)
	f.src.push([]float32{0.5, 0.5, 0.5, 0.5})
	f.src.push([]float32{0.5, 0.5, 0.5, 0.5})

	select {
	case <-f.sess.sent:
		t.Fatalf("frame transmitted while muted")
	case <-time.After(150 * time.Millisecond):
	}

	f.call.SetMuted(false)
	unmutedFrame := []float32{0.25, 0.25, 0.25, 0.25}
	f.src.push(unmutedFrame)

	chunk := nextSend(t, f.sess)
	pcm, err := chunk.PCM()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if want := audio.EncodePCM16LE(unmutedFrame); !bytes.Equal(pcm, want) {
		t.Fatalf("first unmuted send carries stale frame: got %x want %x", pcm, want)
	}
}

func TestCall_StartMuted(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	sess := newFakeSession()
	c, err := New(Config{
		Dialer:       &fakeDialer{session: sess},
		Source:       src,
		Sink:         &fakeSink{},
		FrameSamples: 4,
		StartMuted:   true,
		Logger:       slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Hangup)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, c, StateConnected)

	if !c.Muted() {
		t.Fatalf("call not muted at start")
	}
	src.push([]float32{0.5, 0.5, 0.5, 0.5})
	select {
	case <-sess.sent:
		t.Fatalf("frame transmitted while start-muted")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCall_PlaybackGoesThroughScheduler(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	pcm := make([]byte, audio.PlaybackFormat().BytesFor(100*time.Millisecond))
	for i := range pcm {
		pcm[i] = byte(i)
	}
	f.sess.serveAudio(pcm)

	waitFor(t, "sink write", func() bool { return f.sink.writeCount() == 1 })
	f.sink.mu.Lock()
	got := f.sink.writes[0]
	f.sink.mu.Unlock()
	if !bytes.Equal(got, pcm) {
		t.Fatalf("sink received %d bytes, want %d matching payload", len(got), len(pcm))
	}
}

func TestCall_PlaybackDropsPartialSample(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	whole := make([]byte, audio.PlaybackFormat().BytesFor(50*time.Millisecond))
	for i := range whole {
		whole[i] = byte(i)
	}
	f.sess.serveAudio(append(whole, 0x7f))

	waitFor(t, "sink write", func() bool { return f.sink.writeCount() == 1 })
	f.sink.mu.Lock()
	got := f.sink.writes[0]
	f.sink.mu.Unlock()
	if !bytes.Equal(got, whole) {
		t.Fatalf("sink received %d bytes, want the %d whole-sample bytes", len(got), len(whole))
	}
	if got := f.call.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
}

func TestCall_InterruptFlushesPlayback(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	f.sess.serveAudio(make([]byte, audio.PlaybackFormat().BytesFor(2*time.Second)))
	waitFor(t, "sink write", func() bool { return f.sink.writeCount() == 1 })

	f.sess.serveInterrupted()
	waitFor(t, "playback flush", func() bool { return f.sink.discardCount() > 0 })

	if got := f.call.scheduler.Active(); got != 0 {
		t.Fatalf("active units after interrupt = %d, want 0", got)
	}
	if !f.call.scheduler.cursorForTest().IsZero() {
		t.Fatalf("cursor not reset after interrupt")
	}
	if got := f.call.State(); got != StateConnected {
		t.Fatalf("state after interrupt = %s, want connected", got)
	}
}

func TestCall_DecodeFailureRecovers(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	f.sess.serveMalformedAudio()
	valid := make([]byte, audio.PlaybackFormat().BytesFor(50*time.Millisecond))
	f.sess.serveAudio(valid)

	// The malformed chunk is dropped; the next one still plays.
	waitFor(t, "sink write", func() bool { return f.sink.writeCount() == 1 })
	if got := f.call.State(); got != StateConnected {
		t.Fatalf("state after decode failure = %s, want connected", got)
	}
}

func TestCall_HangupIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	f.call.Hangup()
	f.call.Hangup()

	if got := f.call.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
	if got := f.sess.closeCalls.Load(); got != 1 {
		t.Fatalf("session closed %d times, want 1", got)
	}
	if !f.src.isClosed() {
		t.Fatalf("capture source not released")
	}
	select {
	case <-f.call.Done():
	default:
		t.Fatalf("Done not closed after hangup")
	}
}

func TestCall_HangupNeverConnected(t *testing.T) {
	t.Parallel()

	c, err := New(Config{
		Dialer: &fakeDialer{session: newFakeSession()},
		Source: newFakeSource(),
		Sink:   &fakeSink{},
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Hangup()
	c.Hangup()

	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done not closed")
	}
}

func TestCall_RemoteCleanCloseDisconnects(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	f.sess.finish(nil)

	waitForState(t, f.call, StateDisconnected)
	if !f.src.isClosed() {
		t.Fatalf("capture source not released on remote close")
	}
	waitFor(t, "playback flush", func() bool { return f.sink.discardCount() > 0 })
}

func TestCall_RemoteErrorEntersErrorState(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	f.sess.finish(errors.New("quota exhausted"))
	waitForState(t, f.call, StateError)
	if !f.src.isClosed() {
		t.Fatalf("capture source not released on remote error")
	}

	// An explicit hangup still lands in disconnected.
	f.call.Hangup()
	if got := f.call.State(); got != StateDisconnected {
		t.Fatalf("state after hangup = %s, want disconnected", got)
	}
}

func TestCall_CredentialFailureBeforeDial(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	c, err := New(Config{
		Dialer: &fakeDialer{err: fmt.Errorf("gemini: %w", realtime.ErrNoCredential)},
		Source: src,
		Sink:   &fakeSink{},
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	startErr := c.Start(context.Background())
	if startErr == nil {
		t.Fatalf("expected credential error")
	}
	var callErr *Error
	if !errors.As(startErr, &callErr) || callErr.Type != ErrCredential {
		t.Fatalf("error = %v, want %s", startErr, ErrCredential)
	}
	if !callErr.IsFatal() {
		t.Fatalf("credential error should be fatal")
	}
	if got := c.State(); got != StateError {
		t.Fatalf("state = %s, want error", got)
	}
	if !src.isClosed() {
		t.Fatalf("capture source leaked after failed dial")
	}
}

func TestCall_PermissionFailureSkipsDial(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.startErr = errors.New("microphone busy")
	dialer := &fakeDialer{session: newFakeSession()}
	c, err := New(Config{
		Dialer: dialer,
		Source: src,
		Sink:   &fakeSink{},
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	startErr := c.Start(context.Background())
	var callErr *Error
	if !errors.As(startErr, &callErr) || callErr.Type != ErrPermission {
		t.Fatalf("error = %v, want %s", startErr, ErrPermission)
	}
	if dialer.called {
		t.Fatalf("dial attempted despite device failure")
	}
	if got := c.State(); got != StateError {
		t.Fatalf("state = %s, want error", got)
	}
}

func TestCall_StartTwiceFails(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)
	f.start(t)

	if err := f.call.Start(context.Background()); err == nil {
		t.Fatalf("second Start succeeded")
	}
}

func TestCall_DropsFramesWhenQueueFull(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	sess := newFakeSession()
	sess.gate = make(chan struct{})
	defer close(sess.gate)

	c, err := New(Config{
		Dialer:       &fakeDialer{session: sess},
		Source:       src,
		Sink:         &fakeSink{},
		FrameSamples: 4,
		Logger:       slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Hangup)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, c, StateConnected)

	// One frame stalls in Send, the queue holds the next batch, and
	// everything beyond that is dropped. Whether the sender dequeued
	// its first chunk before the overflow is timing-dependent, so the
	// exact count is 3 or 4.
	total := 1 + outboundQueueSize + 3
	for i := 0; i < total; i++ {
		src.push([]float32{0.1, 0.1, 0.1, 0.1})
	}

	waitFor(t, "dropped frames", func() bool { return c.DroppedFrames() >= 3 })
}

func TestCall_EmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	f := newCallFixture(t)

	var mu sync.Mutex
	var states []StateEvent
	go func() {
		for {
			select {
			case ev := <-f.call.Events():
				if st, ok := ev.(StateEvent); ok {
					mu.Lock()
					states = append(states, st)
					mu.Unlock()
				}
			case <-f.call.Done():
				for {
					select {
					case ev := <-f.call.Events():
						if st, ok := ev.(StateEvent); ok {
							mu.Lock()
							states = append(states, st)
							mu.Unlock()
						}
					default:
						return
					}
				}
			}
		}
	}()

	f.start(t)
	f.sess.finish(nil)
	waitForState(t, f.call, StateDisconnected)

	want := []StateEvent{
		{From: StateDisconnected, To: StateConnecting},
		{From: StateConnecting, To: StateConnected},
		{From: StateConnected, To: StateDisconnected},
	}
	waitFor(t, "state events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= len(want)
	})

	mu.Lock()
	defer mu.Unlock()
	for i, w := range want {
		if states[i] != w {
			t.Fatalf("state event %d = %+v, want %+v (all: %+v)", i, states[i], w, states)
		}
	}
}
