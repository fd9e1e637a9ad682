package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource replays a 16-bit PCM WAV file as if it were captured live. The
// end of the file is a clean end of input, not a device loss.
type WAVSource struct {
	path     string
	format   Format
	realtime bool

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	status chan string
}

func NewWAVSource(path string, format Format, realtime bool) *WAVSource {
	return &WAVSource{
		path:     path,
		format:   format,
		realtime: realtime,
		done:     make(chan struct{}),
		status:   make(chan string, statusBuffer),
	}
}

func (s *WAVSource) Start(ctx context.Context, sink Sink) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return fmt.Errorf("%w: %s is not a valid wav file", ErrDeviceOpen, s.path)
	}
	if int(dec.SampleRate) != s.format.SampleRate || int(dec.NumChans) != s.format.Channels || dec.BitDepth != 16 {
		file.Close()
		return fmt.Errorf("%w: %s is %d Hz %d ch %d bit, want %d Hz %d ch 16 bit", ErrDeviceOpen,
			s.path, dec.SampleRate, dec.NumChans, dec.BitDepth, s.format.SampleRate, s.format.Channels)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		defer file.Close()
		s.err = s.replay(ctx, dec, sink)
	}()
	return nil
}

func (s *WAVSource) replay(ctx context.Context, dec *wav.Decoder, sink Sink) error {
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: s.format.Channels, SampleRate: s.format.SampleRate},
		Data:   make([]int, s.format.BlockSize*s.format.Channels),
	}
	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.format.BlockDuration())
		defer ticker.Stop()
	}

	var seq uint64
	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %v", ErrDeviceLost, err)
		}
		if n == 0 {
			return nil
		}
		pcm := make([]byte, n*bytesPerSample)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(buf.Data[i])))
		}
		sink.Push(Chunk{Seq: seq, PCM: pcm, CapturedAt: time.Now()})
		seq++
	}
}

func (s *WAVSource) Stop() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
	return nil
}

func (s *WAVSource) Done() <-chan struct{} { return s.done }
func (s *WAVSource) Status() <-chan string { return s.status }

func (s *WAVSource) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Recorder streams dequeued chunks into a WAV file so a session can be
// replayed later through WAVSource.
type Recorder struct {
	file *os.File
	enc  *wav.Encoder
	buf  *goaudio.IntBuffer
}

func NewRecorder(path string, format Format) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{
		file: file,
		enc:  wav.NewEncoder(file, format.SampleRate, 16, format.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// Write appends a chunk of S16LE PCM.
func (r *Recorder) Write(pcm []byte) error {
	if len(pcm)%bytesPerSample != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	r.buf.Data = pcmToInts(pcm)
	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

func (r *Recorder) Close() error {
	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return r.file.Close()
}

// WriteWAV encodes a complete PCM buffer into w.
func WriteWAV(w io.WriteSeeker, pcm []byte, format Format) error {
	if len(pcm)%bytesPerSample != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:   pcmToInts(pcm),
	}

	enc := wav.NewEncoder(w, format.SampleRate, 16, format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

func pcmToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}
