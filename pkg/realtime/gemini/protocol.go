package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxkit/duplex/pkg/realtime"
)

// Outgoing frame shapes for the BidiGenerateContent protocol. Field
// names are part of the wire format.

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// realtimeInputMessage streams one tick of microphone audio. The
// realtime.MediaChunk JSON shape is the mediaChunks element shape, so
// the transport payload goes on the wire unchanged.
type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []realtime.MediaChunk `json:"mediaChunks"`
}

// newSetupMessage builds the session-opening frame from a normalized
// session config.
func newSetupMessage(cfg realtime.SessionConfig) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: qualifyModel(cfg.Model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}
	if cfg.VoiceName != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.SystemInstruction}},
		}
	}
	return msg
}

// qualifyModel adds the "models/" resource prefix the protocol expects.
func qualifyModel(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// Incoming frame shapes.

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *apiError        `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *apiError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s (code %d, %s)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// serverEvents flattens one decoded frame into ordered session events.
// Interruption surfaces before any audio carried by the same frame, so
// stale playback is flushed before new chunks are scheduled.
func serverEvents(msg *serverMessage) []realtime.ServerEvent {
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
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			events = append(events, &realtime.Audio{Chunk: realtime.MediaChunk{
				MIMEType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			}})
		}
	}
	if sc.TurnComplete {
		events = append(events, &realtime.TurnComplete{})
	}
	return events
}
