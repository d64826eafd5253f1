package call

import (
	"github.com/voxkit/duplex/pkg/audio"
	"github.com/voxkit/duplex/pkg/realtime"
)

// Source delivers microphone audio as float frames in [-1,1]. It is
// the only component that touches the input device.
//
// Start opens the device; ReadFrame blocks until it can fill buf with
// one frame of consecutive samples; Close releases the device and
// unblocks a pending ReadFrame. Close must be safe to call at any
// time, including before Start and more than once.
type Source interface {
	Start() error
	ReadFrame(buf []float32) error
	Close() error
}

// captureLoop reads one frame per tick, meters it, and hands encoded
// chunks to the outbound queue. Muted ticks still meter but send
// nothing; the flag is read fresh each tick. The queue never blocks
// capture: when it is full the frame is dropped and counted.
func (c *Call) captureLoop() {
	frame := make([]float32, c.cfg.FrameSamples)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.source.ReadFrame(frame); err != nil {
			select {
			case <-c.stop:
				return
			default:
			}
			c.fail(NewPermissionError("capture device failed", err))
			return
		}

		c.emit(LevelEvent{RMS: audio.RMS(frame), Peak: audio.Peak(frame)})
		if c.muted.Load() {
			continue
		}

		chunk := realtime.NewMediaChunk(audio.EncodePCM16LE(frame), audio.CaptureFormat())
		select {
		case c.outbound <- chunk:
		default:
			c.emit(FrameDroppedEvent{Dropped: c.droppedFrames.Add(1)})
		}
	}
}

// senderLoop drains the outbound queue into the session, preserving
// capture order. Transport failures end the loop; the terminal state
// arrives through the session's event stream.
func (c *Call) senderLoop() {
	for {
		select {
		case <-c.stop:
			return
		case chunk := <-c.outbound:
			if err := c.session.Send(chunk); err != nil {
				c.logger.Debug("send failed", "error", err)
				return
			}
		}
	}
}
