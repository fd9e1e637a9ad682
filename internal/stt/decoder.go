package stt

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload marks a decoder result that could not be parsed. It is
// local to the chunk that produced it.
var ErrMalformedPayload = errors.New("malformed decoder payload")

// Decoder is a streaming acoustic decoder in the Vosk style: audio is fed
// chunk by chunk, and results come back as JSON payloads.
type Decoder interface {
	// AcceptWaveform feeds S16LE PCM and reports whether the decoder
	// committed an utterance boundary. After true, Result returns the
	// committed text and the decoder starts a new utterance.
	AcceptWaveform(pcm []byte) (bool, error)
	// Result returns {"text": "..."} for the last committed utterance.
	Result() []byte
	// PartialResult returns {"partial": "..."} for the utterance in progress.
	PartialResult() []byte
	// FinalResult flushes whatever is buffered as a committed result.
	FinalResult() []byte
	Close() error
}

type finalPayload struct {
	Text *string `json:"text"`
}

type partialPayload struct {
	Partial *string `json:"partial"`
}

func parseFinal(payload []byte) (string, error) {
	var p finalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Text == nil {
		return "", fmt.Errorf("%w: missing text field", ErrMalformedPayload)
	}
	return *p.Text, nil
}

func parsePartial(payload []byte) (string, error) {
	var p partialPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Partial == nil {
		return "", fmt.Errorf("%w: missing partial field", ErrMalformedPayload)
	}
	return *p.Partial, nil
}
