// Package transcript collects committed utterances for a session and writes
// them to the transcript store once, when the session ends.
package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// ErrPersisted is returned when the transcript is touched after it was written.
var ErrPersisted = errors.New("transcript already persisted")

// Store is the durable home of a session transcript.
type Store interface {
	Write(content string) error
}

// Accumulator is the in-memory, append-only transcript of one session.
type Accumulator struct {
	mu        sync.Mutex
	lines     []string
	persisted bool
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds one committed utterance.
func (a *Accumulator) Append(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.persisted {
		return ErrPersisted
	}
	a.lines = append(a.lines, text)
	return nil
}

func (a *Accumulator) Lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.lines...)
}

// Text renders one utterance per line with surrounding whitespace trimmed.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return render(a.lines)
}

func render(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// Persist writes the transcript to store. A failed write leaves the
// accumulator untouched so the caller may retry; after a successful write the
// transcript is frozen.
func (a *Accumulator) Persist(store Store) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.persisted {
		return "", ErrPersisted
	}
	content := render(a.lines)
	if err := store.Write(content); err != nil {
		return "", err
	}
	a.persisted = true
	return content, nil
}

func (a *Accumulator) Persisted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persisted
}

// FileStore writes the transcript as UTF-8 text. The write goes through a
// temporary file and a rename, so readers see either the old file or the
// complete new one.
type FileStore struct {
	Path string
}

func (s FileStore) Write(content string) error {
	if dir := filepath.Dir(s.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create transcript dir: %w", err)
		}
	}
	if err := renameio.WriteFile(s.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write transcript %s: %w", s.Path, err)
	}
	return nil
}

func (s FileStore) Read() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
