//go:build !windows

package stt

import (
	"syscall"
	"testing"
)

func TestExecDecoderRunsInOwnProcessGroup(t *testing.T) {
	dec, err := NewExecDecoder(helperCommand(t), "", 16000, newLogger())
	if err != nil {
		t.Fatalf("start decoder: %v", err)
	}
	t.Cleanup(func() { _ = dec.Close() })

	pgid, err := syscall.Getpgid(dec.(*execDecoder).cmd.Process.Pid)
	if err != nil {
		t.Fatalf("getpgid: %v", err)
	}
	if pgid == syscall.Getpgrp() {
		t.Fatalf("decoder process shares our process group %d", pgid)
	}
}
