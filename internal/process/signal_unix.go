//go:build !windows

package process

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	// Own process group so signals reach the script's children too.
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
