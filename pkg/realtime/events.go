package realtime

// ServerEvent is one inbound event from the speech session. Events arrive
// on a single channel in the order the server produced them.
type ServerEvent interface {
	EventType() string
}

// Opened signals that the session handshake completed and the server is
// ready for realtime input. It is always the first event.
type Opened struct{}

func (*Opened) EventType() string { return "opened" }

// Audio carries one synthesized audio chunk, still in transport encoding.
// Decoding is the consumer's responsibility so that a malformed payload can
// be dropped without losing the session.
type Audio struct {
	Chunk MediaChunk
}

func (*Audio) EventType() string { return "audio" }

// Interrupted signals that the user barged in while the model was speaking:
// all locally buffered playback for the current response must be discarded.
type Interrupted struct{}

func (*Interrupted) EventType() string { return "interrupted" }

// TurnComplete marks the end of one model response.
type TurnComplete struct{}

func (*TurnComplete) EventType() string { return "turn_complete" }

// Closed is the terminal event. Err is nil when the session ended cleanly
// (server close or local Close) and non-nil when it ended with a transport
// or protocol failure. The event channel is closed immediately after.
type Closed struct {
	Err error
}

func (*Closed) EventType() string { return "closed" }
