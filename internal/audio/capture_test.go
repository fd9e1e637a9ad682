package audio

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

type collectSink struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (s *collectSink) Push(c Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
	return true
}

func (s *collectSink) snapshot() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks...)
}

var smallFormat = Format{SampleRate: 16000, Channels: 1, BlockSize: 800}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestNewExecCaptureExpandsPlaceholders(t *testing.T) {
	c, err := NewExecCapture("arecord -q -t raw -f S16_LE -r {rate} -c {channels}", "-D", "hw:1,0", DefaultFormat)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	want := []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", "16000", "-c", "1", "-D", "hw:1,0"}
	if !reflect.DeepEqual(c.Args(), want) {
		t.Fatalf("unexpected args %v", c.Args())
	}
}

func TestNewExecCaptureEmpty(t *testing.T) {
	if _, err := NewExecCapture("   ", "", "", DefaultFormat); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestExecCaptureOpenFailure(t *testing.T) {
	c, err := NewExecCapture("/nonexistent/capture-binary", "", "", smallFormat)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	err = c.Start(context.Background(), &collectSink{})
	if !errors.Is(err, ErrDeviceOpen) {
		t.Fatalf("expected ErrDeviceOpen, got %v", err)
	}
}

func TestExecCaptureDeviceLost(t *testing.T) {
	requireShell(t)
	// Three full blocks, then the "device" disappears.
	c, err := NewExecCapture(`sh -c "head -c 4800 /dev/zero; echo 'device unplugged' >&2; exit 1"`, "", "", smallFormat)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	sink := &collectSink{}
	if err := c.Start(context.Background(), sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not finish")
	}
	if !errors.Is(c.Err(), ErrDeviceLost) {
		t.Fatalf("expected ErrDeviceLost, got %v", c.Err())
	}
	chunks := sink.snapshot()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Seq != uint64(i) || len(ch.PCM) != smallFormat.BlockBytes() {
			t.Fatalf("chunk %d: seq=%d len=%d", i, ch.Seq, len(ch.PCM))
		}
	}
}

func TestExecCaptureStopIsClean(t *testing.T) {
	requireShell(t)
	c, err := NewExecCapture(`sh -c "echo overrun >&2; head -c 3200 /dev/zero; exec sleep 30"`, "", "", smallFormat)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	sink := &collectSink{}
	if err := c.Start(context.Background(), sink); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case status := <-c.Status():
		if status != "overrun" {
			t.Fatalf("unexpected status %q", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected driver status line")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(sink.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Err(); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if got := len(sink.snapshot()); got != 2 {
		t.Fatalf("expected 2 chunks, got %d", got)
	}
}

func TestExecCaptureEarlyExitIsOpenFailure(t *testing.T) {
	requireShell(t)
	c, err := NewExecCapture(`sh -c "echo 'audio open error: No such device' >&2; exit 1"`, "-D", "hw:9,0", smallFormat)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	err = c.Start(context.Background(), &collectSink{})
	if !errors.Is(err, ErrDeviceOpen) {
		t.Fatalf("expected ErrDeviceOpen, got %v", err)
	}
	if !strings.Contains(err.Error(), "No such device") {
		t.Fatalf("expected driver message in %v", err)
	}
	if !errors.Is(c.Err(), ErrDeviceOpen) {
		t.Fatalf("Err should report the open failure, got %v", c.Err())
	}
}

func TestExecCaptureSilentStartReturnsAfterWindow(t *testing.T) {
	requireShell(t)
	c, err := NewExecCapture(`sh -c "exec sleep 30"`, "", "", smallFormat)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	c.startupWindow = 20 * time.Millisecond
	if err := c.Start(context.Background(), &collectSink{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Err(); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
