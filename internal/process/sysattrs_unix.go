//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// sysProcAttr puts the child in its own process group so signals reach
// wrapper scripts and their children alike.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if err := syscall.Kill(-cmd.Process.Pid, sig); err == nil {
		return nil
	}
	return cmd.Process.Signal(sig)
}
