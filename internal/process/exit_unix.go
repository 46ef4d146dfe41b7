//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

func signaledBy(ee *exec.ExitError) (bool, string) {
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return true, ws.Signal().String()
	}
	return false, ""
}
