package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/voxkit/duplex/pkg/audio"
)

// micPeriodMS is the malgo callback period. Small periods keep the
// capture buffer shallow; frames are assembled on the read side.
const micPeriodMS = 20

// micSource adapts a malgo capture device to call.Source. The device
// callback appends signed-16 bytes to a cond-guarded buffer; ReadFrame
// blocks until a full frame of bytes accumulated and converts it to
// float samples.
type micSource struct {
	format audio.Format

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	closeOnce sync.Once
}

func newMicSource(format audio.Format) *micSource {
	m := &micSource{format: format}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *micSource) Start() error {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.format.Channels)
	deviceConfig.SampleRate = uint32(m.format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = micPeriodMS

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.mu.Lock()
			if !m.closed {
				m.buf = append(m.buf, pInputSamples...)
			}
			m.mu.Unlock()
			m.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("start microphone: %w", err)
	}

	m.mctx = mctx
	m.device = device
	return nil
}

func (m *micSource) ReadFrame(buf []float32) error {
	need := len(buf) * 2

	m.mu.Lock()
	for len(m.buf) < need && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		m.mu.Unlock()
		return errors.New("microphone closed")
	}
	raw := m.buf[:need]
	samples := audio.DecodePCM16LE(raw)
	m.buf = m.buf[need:]
	m.mu.Unlock()

	copy(buf, samples)
	return nil
}

func (m *micSource) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.cond.Broadcast()

		if m.device != nil {
			_ = m.device.Stop()
			m.device.Uninit()
		}
		if m.mctx != nil {
			_ = m.mctx.Uninit()
			m.mctx.Free()
		}
	})
	return nil
}

// speakerSink adapts an oto player to call.Sink. Writes append to a
// pull buffer the player reads from; the player is created lazily on
// the first write and recreated after a Discard so device-buffered
// audio from before the flush never resurfaces.
type speakerSink struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

func newSpeakerSink(format audio.Format) (*speakerSink, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &speakerSink{otoCtx: otoCtx}, nil
}

func (s *speakerSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("speaker closed")
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	return nil
}

// Read feeds the oto player. An empty buffer yields silence instead of
// blocking, so a flush never has to wait out a stalled pull.
func (s *speakerSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *speakerSink) Discard() {
	s.mu.Lock()
	s.buf = nil
	player := s.player
	s.player = nil
	s.playing = false
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		player.Reset()
		player.Close()
	}
}

func (s *speakerSink) Close() {
	s.mu.Lock()
	s.closed = true
	player := s.player
	s.player = nil
	s.playing = false
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
}
