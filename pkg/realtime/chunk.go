package realtime

import (
	"encoding/base64"

	"github.com/voxkit/duplex/pkg/audio"
)

// MediaChunk is the transport payload shape shared by both directions:
// a MIME tag naming the PCM format and standard-base64 sample data.
type MediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewMediaChunk encodes raw PCM bytes into a transport chunk tagged with
// the format's MIME type.
func NewMediaChunk(pcm []byte, format audio.Format) MediaChunk {
	return MediaChunk{
		MIMEType: format.MIMEType(),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// PCM decodes the chunk payload back to raw PCM bytes.
func (c MediaChunk) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Data)
}

// Empty reports whether the chunk carries no audio.
func (c MediaChunk) Empty() bool { return c.Data == "" }
