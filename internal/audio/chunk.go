package audio

import (
	"errors"
	"time"
)

const bytesPerSample = 2

var (
	// ErrDeviceLost reports that the capture device went away after the
	// stream was opened. It ends the session without persisting anything.
	ErrDeviceLost = errors.New("audio device lost")
	// ErrDeviceOpen reports that the capture stream could not be opened.
	ErrDeviceOpen = errors.New("audio device open failed")
)

// Format describes the fixed PCM layout used for the whole session:
// signed 16-bit little-endian samples at SampleRate, BlockSize frames per chunk.
type Format struct {
	SampleRate int
	Channels   int
	BlockSize  int
}

// DefaultFormat is 16 kHz mono with 8000-frame blocks (half a second).
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BlockSize: 8000}

// BlockBytes is the byte length of one full chunk.
func (f Format) BlockBytes() int {
	return f.BlockSize * f.Channels * bytesPerSample
}

// BlockDuration is the wall-clock span of one full chunk.
func (f Format) BlockDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.BlockSize) * time.Second / time.Duration(f.SampleRate)
}

// Chunk is one captured block of PCM. It is never modified after capture;
// the queue owns it until the recognition loop dequeues it.
type Chunk struct {
	Seq        uint64
	PCM        []byte
	CapturedAt time.Time
}

// Sink receives captured chunks. Push must not block beyond the sink's own
// bounded policy and reports whether the chunk was accepted.
type Sink interface {
	Push(Chunk) bool
}
