package stt

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
)

// EventKind tags a DecodeEvent.
type EventKind int

const (
	Partial EventKind = iota
	Final
)

func (k EventKind) String() string {
	if k == Final {
		return "final"
	}
	return "partial"
}

// Event is a decode result for one chunk. Partial text is superseded by the
// next event of the same utterance; Final text is committed.
type Event struct {
	Kind      EventKind
	Text      string
	Utterance int
	ChunkSeq  uint64
	At        time.Time
}

// Stats are running counters, safe to read from another goroutine.
type Stats struct {
	Chunks    uint64
	Partials  uint64
	Finals    uint64
	Malformed uint64
}

// Recognizer drives a Decoder one chunk at a time and classifies each result
// as Partial or Final. Empty text never produces an event. It is owned by the
// recognition loop and is not safe for concurrent Accept calls.
type Recognizer struct {
	dec       Decoder
	logger    *slog.Logger
	utterance int
	clock     func() time.Time

	chunks    atomic.Uint64
	partials  atomic.Uint64
	finals    atomic.Uint64
	malformed atomic.Uint64
}

func NewRecognizer(dec Decoder, logger *slog.Logger) *Recognizer {
	return &Recognizer{
		dec:    dec,
		logger: logger.With(slog.String("component", "recognizer")),
		clock:  time.Now,
	}
}

// Accept feeds one chunk. ok is false when the chunk produced no event,
// either because the text was empty or the payload was malformed; the latter
// is logged and returned as an error wrapping ErrMalformedPayload so callers
// can count it, but it never invalidates the decoder.
func (r *Recognizer) Accept(chunk audio.Chunk) (Event, bool, error) {
	r.chunks.Add(1)
	committed, err := r.dec.AcceptWaveform(chunk.PCM)
	if err != nil {
		r.malformed.Add(1)
		r.logger.Warn("decoder rejected chunk", slog.Uint64("seq", chunk.Seq), slog.String("error", err.Error()))
		return Event{}, false, fmt.Errorf("accept chunk %d: %w", chunk.Seq, err)
	}
	if committed {
		return r.commit(r.dec.Result(), chunk.Seq)
	}
	return r.partial(r.dec.PartialResult(), chunk.Seq)
}

// Flush commits whatever the decoder still holds. It is called once after
// the queue has drained so trailing speech is not lost.
func (r *Recognizer) Flush() (Event, bool, error) {
	return r.commit(r.dec.FinalResult(), 0)
}

func (r *Recognizer) commit(payload []byte, seq uint64) (Event, bool, error) {
	text, err := parseFinal(payload)
	if err != nil {
		r.malformed.Add(1)
		r.logger.Warn("skipping final result", slog.Uint64("seq", seq), slog.String("error", err.Error()))
		return Event{}, false, err
	}
	// The decoder has reset its utterance state regardless of the text.
	utterance := r.utterance
	r.utterance++
	text = strings.TrimSpace(text)
	if text == "" {
		return Event{}, false, nil
	}
	r.finals.Add(1)
	return Event{Kind: Final, Text: text, Utterance: utterance, ChunkSeq: seq, At: r.clock()}, true, nil
}

func (r *Recognizer) partial(payload []byte, seq uint64) (Event, bool, error) {
	text, err := parsePartial(payload)
	if err != nil {
		r.malformed.Add(1)
		r.logger.Warn("skipping partial result", slog.Uint64("seq", seq), slog.String("error", err.Error()))
		return Event{}, false, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Event{}, false, nil
	}
	r.partials.Add(1)
	return Event{Kind: Partial, Text: text, Utterance: r.utterance, ChunkSeq: seq, At: r.clock()}, true, nil
}

func (r *Recognizer) Stats() Stats {
	return Stats{
		Chunks:    r.chunks.Load(),
		Partials:  r.partials.Load(),
		Finals:    r.finals.Load(),
		Malformed: r.malformed.Load(),
	}
}

func (r *Recognizer) Close() error {
	return r.dec.Close()
}
