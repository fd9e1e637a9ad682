//go:build !windows

// Package procgroup keeps helper processes out of the terminal's foreground
// process group so that a Ctrl+C reaches only loqa-scribe, which then stops
// its children itself.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Detach starts cmd as the leader of a new process group. It must be called
// before cmd.Start.
func Detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
