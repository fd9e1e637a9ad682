//go:build !windows

package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/procgroup"
)

// TestExecCaptureInterruptHelper is not a real test: it is a stand-in for
// loqa-scribe that gets a terminal Ctrl+C while capturing. It exits 0 when
// the capture stopped cleanly and 3 otherwise.
func TestExecCaptureInterruptHelper(t *testing.T) {
	if os.Getenv("LOQA_SCRIBE_CAPTURE_HELPER") != "1" {
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := NewExecCapture(`sh -c "head -c 3200 /dev/zero; exec sleep 30"`, "", "", smallFormat)
	if err != nil {
		fmt.Println("new capture:", err)
		os.Exit(3)
	}
	if err := c.Start(context.Background(), &collectSink{}); err != nil {
		fmt.Println("start:", err)
		os.Exit(3)
	}
	time.Sleep(100 * time.Millisecond)
	// Same delivery as a terminal: every process in our group.
	_ = syscall.Kill(0, syscall.SIGINT)

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		fmt.Println("interrupt not delivered")
		os.Exit(3)
	}
	// Give a signalled child time to die before stopping.
	time.Sleep(50 * time.Millisecond)
	if err := c.Stop(); err != nil {
		fmt.Println("stop:", err)
		os.Exit(3)
	}
	if err := c.Err(); err != nil {
		fmt.Println("capture error:", err)
		os.Exit(3)
	}
	fmt.Println("clean stop")
	os.Exit(0)
}

func TestExecCaptureIgnoresTerminalInterrupt(t *testing.T) {
	requireShell(t)
	cmd := exec.Command(os.Args[0], "-test.run=^TestExecCaptureInterruptHelper$")
	cmd.Env = append(os.Environ(), "LOQA_SCRIBE_CAPTURE_HELPER=1")
	// The helper signals its whole group, which must not include this test.
	procgroup.Detach(cmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("helper failed: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "clean stop") {
		t.Fatalf("unexpected helper output:\n%s", out)
	}
}

func TestExecCaptureRunsInOwnProcessGroup(t *testing.T) {
	requireShell(t)
	c, err := NewExecCapture(`sh -c "head -c 1600 /dev/zero; exec sleep 30"`, "", "", smallFormat)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	if err := c.Start(context.Background(), &collectSink{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })

	pgid, err := syscall.Getpgid(c.pid())
	if err != nil {
		t.Fatalf("getpgid: %v", err)
	}
	if pgid == syscall.Getpgrp() {
		t.Fatalf("capture process shares our process group %d", pgid)
	}
}
