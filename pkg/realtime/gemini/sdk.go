package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/voxkit/duplex/pkg/realtime"
	"google.golang.org/genai"
)

// SDKDialer opens Gemini Live sessions through the official
// google.golang.org/genai client instead of the raw websocket. It
// presents the same session surface, so callers can switch backends
// without touching the pipeline.
type SDKDialer struct {
	apiKey string
}

var _ realtime.Dialer = (*SDKDialer)(nil)

// NewSDKDialer creates an SDK-backed dialer authenticating with the
// given API key.
func NewSDKDialer(apiKey string) *SDKDialer {
	return &SDKDialer{apiKey: apiKey}
}

// Dial connects via the genai Live client. The returned session's
// event channel already carries the Opened event.
func (d *SDKDialer) Dial(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	if strings.TrimSpace(d.apiKey) == "" {
		return nil, fmt.Errorf("gemini: %w (set GEMINI_API_KEY)", realtime.ErrNoCredential)
	}
	cfg = cfg.Normalized()
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: sdk client: %w", err)
	}

	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.SystemInstruction != "" {
		connectCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.VoiceName != "" {
		connectCfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		}
	}

	live, err := client.Live.Connect(ctx, cfg.Model, connectCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: sdk connect: %w", err)
	}

	sess := &sdkSession{
		live:   live,
		events: make(chan realtime.ServerEvent, eventBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	sess.events <- &realtime.Opened{}
	go sess.receiveLoop()
	return sess, nil
}

type sdkSession struct {
	live *genai.Session

	events chan realtime.ServerEvent
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ realtime.Session = (*sdkSession)(nil)

// Send decodes the transport chunk and forwards the raw PCM, since the
// SDK encodes media payloads itself.
func (s *sdkSession) Send(chunk realtime.MediaChunk) error {
	if s.closed.Load() {
		return realtime.ErrSessionClosed
	}
	pcm, err := chunk.PCM()
	if err != nil {
		return fmt.Errorf("gemini: chunk payload: %w", err)
	}
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: chunk.MIMEType, Data: pcm},
	})
}

func (s *sdkSession) Events() <-chan realtime.ServerEvent { return s.events }

func (s *sdkSession) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.quit)
		closeErr = s.live.Close()
	})
	<-s.done
	return closeErr
}

func (s *sdkSession) receiveLoop() {
	defer close(s.done)

	var termErr error
loop:
	for {
		msg, err := s.live.Receive()
		if err != nil {
			if !s.closed.Load() && !errors.Is(err, io.EOF) &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				termErr = err
			}
			break
		}
		for _, ev := range sdkEvents(msg) {
			if !s.emit(ev) {
				break loop
			}
		}
	}

	s.emit(&realtime.Closed{Err: termErr})
	close(s.events)
}

func (s *sdkSession) emit(ev realtime.ServerEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// sdkEvents mirrors serverEvents for the SDK message shapes. The SDK
// hands inline data already base64-decoded, so audio is re-encoded to
// keep the transport chunk contract uniform across backends.
func sdkEvents(msg *genai.LiveServerMessage) []realtime.ServerEvent {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	var events []realtime.ServerEvent
	if sc.Interrupted {
		events = append(events, &realtime.Interrupted{})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			events = append(events, &realtime.Audio{Chunk: realtime.MediaChunk{
				MIMEType: p.InlineData.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
			}})
		}
	}
	if sc.TurnComplete {
		events = append(events, &realtime.TurnComplete{})
	}
	return events
}
