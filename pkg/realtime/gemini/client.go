// Package gemini speaks the Gemini Live (BidiGenerateContent) protocol
// behind the realtime session contract.
//
// The default Dialer drives the wire protocol directly over a
// gorilla/websocket connection. SDKDialer provides the same surface via
// the google.golang.org/genai client for deployments that prefer the
// official SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voxkit/duplex/pkg/realtime"
)

const (
	// DefaultModel is used when SessionConfig.Model is blank.
	DefaultModel = "gemini-2.0-flash-live-001"

	// DefaultBaseURL is the production Live endpoint base.
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	bidiPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultDialTimeout = 15 * time.Second
	closeWriteTimeout  = 2 * time.Second
	keepaliveInterval  = 20 * time.Second
	keepaliveTimeout   = 5 * time.Second

	eventBuffer = 32
)

// Option configures a Dialer.
type Option func(*Dialer)

// WithBaseURL overrides the Live endpoint base URL. Primarily used in
// tests to point at a local mock server.
func WithBaseURL(baseURL string) Option {
	return func(d *Dialer) { d.baseURL = baseURL }
}

// WithLogger sets the logger for transport diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dialer) { d.logger = logger }
}

// Dialer opens Gemini Live sessions over a raw websocket.
type Dialer struct {
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

var _ realtime.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer authenticating with the given API key.
func NewDialer(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial connects, sends the setup frame, and waits for the server's
// setupComplete acknowledgement. The returned session's event channel
// already carries the Opened event.
//
// An empty API key fails before any network activity with an error
// wrapping realtime.ErrNoCredential.
func (d *Dialer) Dial(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	if strings.TrimSpace(d.apiKey) == "" {
		return nil, fmt.Errorf("gemini: %w (set GEMINI_API_KEY)", realtime.ErrNoCredential)
	}
	cfg = cfg.Normalized()
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	wsURL := d.baseURL + bidiPath + "?key=" + url.QueryEscape(d.apiKey)

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gemini: dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	if err := conn.WriteJSON(newSetupMessage(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini: send setup: %w", err)
	}

	// The server must acknowledge setup before any audio flows.
	_ = conn.SetReadDeadline(time.Now().Add(defaultDialTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini: read setup ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var first serverMessage
	if err := json.Unmarshal(payload, &first); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini: decode setup ack: %w", err)
	}
	switch {
	case first.Error != nil:
		_ = conn.Close()
		return nil, fmt.Errorf("gemini: setup rejected: %w", first.Error)
	case first.SetupComplete == nil:
		_ = conn.Close()
		return nil, fmt.Errorf("gemini: unexpected first frame before setupComplete")
	}

	sess := &session{
		conn:   conn,
		logger: d.logger,
		events: make(chan realtime.ServerEvent, eventBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	sess.events <- &realtime.Opened{}
	go sess.readLoop()
	go sess.keepaliveLoop()
	return sess, nil
}

// session is a live websocket session. The read loop owns the event
// channel: it delivers Closed as the final event, then closes it.
type session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events chan realtime.ServerEvent
	quit   chan struct{} // closed by Close
	done   chan struct{} // closed when readLoop exits

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ realtime.Session = (*session)(nil)

// Send streams one media chunk as realtime input.
func (s *session) Send(chunk realtime.MediaChunk) error {
	if s.closed.Load() {
		return realtime.ErrSessionClosed
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []realtime.MediaChunk{chunk}},
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Events yields the ordered inbound event stream.
func (s *session) Events() <-chan realtime.ServerEvent { return s.events }

// Close sends a normal-closure frame and tears the connection down.
// Idempotent; it returns the close handshake error, if any, from the
// first call only.
func (s *session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.quit)

		s.writeMu.Lock()
		err := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		s.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			closeErr = err
		}
		if err := s.conn.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	<-s.done
	return closeErr
}

func (s *session) readLoop() {
	defer close(s.done)

	var termErr error
loop:
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				termErr = err
			}
			break
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("gemini: skipping malformed frame", "error", err)
			continue
		}
		if msg.Error != nil {
			termErr = fmt.Errorf("gemini: server error: %w", msg.Error)
			break
		}

		for _, ev := range serverEvents(&msg) {
			if !s.emit(ev) {
				break loop
			}
		}
	}

	s.emit(&realtime.Closed{Err: termErr})
	close(s.events)
}

// emit delivers ev in order, blocking until the consumer takes it.
// Returns false once Close has been called.
func (s *session) emit(ev realtime.ServerEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// keepaliveLoop pings the connection so intermediaries keep long idle
// sessions open. Control writes are safe alongside WriteJSON.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(keepaliveTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("gemini: keepalive ping failed", "error", err)
			}
		}
	}
}
