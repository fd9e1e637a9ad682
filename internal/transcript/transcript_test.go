package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type failingStore struct{ calls int }

func (f *failingStore) Write(string) error {
	f.calls++
	return errors.New("disk full")
}

func TestAccumulatorRendersOneLinePerUtterance(t *testing.T) {
	acc := NewAccumulator()
	for _, l := range []string{"hello world", "second line"} {
		if err := acc.Append(l); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if got := acc.Text(); got != "hello world\nsecond line" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestPersistWritesOnceAndFreezes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "transcript.txt")
	store := FileStore{Path: path}
	acc := NewAccumulator()
	_ = acc.Append("  hello world")
	_ = acc.Append("bye  ")

	content, err := acc.Persist(store)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if content != "hello world\nbye" {
		t.Fatalf("unexpected content %q", content)
	}
	onDisk, err := store.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if onDisk != content {
		t.Fatalf("disk %q != returned %q", onDisk, content)
	}

	if err := acc.Append("late"); !errors.Is(err, ErrPersisted) {
		t.Fatalf("expected ErrPersisted on append, got %v", err)
	}
	if _, err := acc.Persist(store); !errors.Is(err, ErrPersisted) {
		t.Fatalf("expected ErrPersisted on second persist, got %v", err)
	}
}

func TestPersistFailureAllowsRetry(t *testing.T) {
	acc := NewAccumulator()
	_ = acc.Append("hello")
	bad := &failingStore{}
	if _, err := acc.Persist(bad); err == nil {
		t.Fatalf("expected failure")
	}
	if acc.Persisted() {
		t.Fatalf("failed write must not freeze the transcript")
	}

	path := filepath.Join(t.TempDir(), "t.txt")
	first, err := acc.Persist(FileStore{Path: path})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if first != "hello" {
		t.Fatalf("unexpected content %q", first)
	}
}

func TestFileStoreOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.txt")
	if err := os.WriteFile(path, []byte("previous session\nmore"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := (FileStore{Path: path}).Write("new"); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "new" {
		t.Fatalf("expected overwrite, got %q", data)
	}
}

func TestEmptyTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.txt")
	content, err := NewAccumulator().Persist(FileStore{Path: path})
	if err != nil || content != "" {
		t.Fatalf("unexpected %q %v", content, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("empty transcript should still be written: %v", err)
	}
}
