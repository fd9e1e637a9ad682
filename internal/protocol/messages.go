package protocol

import "time"

// Transcript is a decode event broadcast on the bus.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Utterance int       `json:"utterance"`
	Timestamp time.Time `json:"timestamp"`
}

// Metric is one accuracy evaluation broadcast on the bus.
type Metric struct {
	SessionID       string    `json:"session_id"`
	ReferenceWords  int       `json:"reference_words"`
	HypothesisWords int       `json:"hypothesis_words"`
	WER             float64   `json:"wer"`
	Timestamp       time.Time `json:"timestamp"`
}

// SessionState announces a session state transition.
type SessionState struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectMetricWER         = "stt.metrics.wer"
	SubjectSessionState      = "stt.session.state"
)
