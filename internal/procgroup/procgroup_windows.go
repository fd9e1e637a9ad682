//go:build windows

package procgroup

import "os/exec"

// Detach is a no-op on Windows, where console interrupts are not delivered
// through process groups.
func Detach(*exec.Cmd) {}
