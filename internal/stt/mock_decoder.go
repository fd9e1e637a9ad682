package stt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MockStep scripts the decoder's answer to one chunk.
type MockStep struct {
	Final     bool
	Text      string
	Malformed bool
}

type mockDecoder struct {
	mu      sync.Mutex
	steps   []MockStep
	pos     int
	current MockStep
	pending string
}

// NewMockDecoder replays steps, one per accepted chunk. Once the script is
// exhausted every chunk yields an empty partial.
func NewMockDecoder(steps []MockStep) Decoder {
	return &mockDecoder{steps: steps}
}

// ParseMockScript reads a script such as "p:hel|p:hello|f:hello world|-|!".
// "p:" is a partial, "f:" a final, "-" an empty partial and "!" a malformed
// payload.
func ParseMockScript(script string) ([]MockStep, error) {
	if strings.TrimSpace(script) == "" {
		return nil, nil
	}
	var steps []MockStep
	for i, raw := range strings.Split(script, "|") {
		item := strings.TrimSpace(raw)
		switch {
		case item == "-":
			steps = append(steps, MockStep{})
		case item == "!":
			steps = append(steps, MockStep{Malformed: true})
		case strings.HasPrefix(item, "p:"):
			steps = append(steps, MockStep{Text: strings.TrimPrefix(item, "p:")})
		case strings.HasPrefix(item, "f:"):
			steps = append(steps, MockStep{Final: true, Text: strings.TrimPrefix(item, "f:")})
		default:
			return nil, fmt.Errorf("mock script step %d: unrecognised %q", i, item)
		}
	}
	return steps, nil
}

func (m *mockDecoder) AcceptWaveform(_ []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = MockStep{}
	if m.pos < len(m.steps) {
		m.current = m.steps[m.pos]
		m.pos++
	}
	if m.current.Final {
		m.pending = ""
	} else if !m.current.Malformed {
		m.pending = m.current.Text
	}
	return m.current.Final, nil
}

func (m *mockDecoder) Result() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Malformed {
		return []byte(`{"text": `)
	}
	data, _ := json.Marshal(map[string]string{"text": m.current.Text})
	return data
}

func (m *mockDecoder) PartialResult() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Malformed {
		return []byte(`{"partial": `)
	}
	data, _ := json.Marshal(map[string]string{"partial": m.current.Text})
	return data
}

// FinalResult commits the last partial that was never finalised.
func (m *mockDecoder) FinalResult() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := json.Marshal(map[string]string{"text": m.pending})
	m.pending = ""
	return data
}

func (m *mockDecoder) Close() error { return nil }
