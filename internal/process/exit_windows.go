//go:build windows

package process

import "os/exec"

func signaledBy(_ *exec.ExitError) (bool, string) {
	return false, ""
}
