//go:build !windows

package client

import (
	"os/exec"
	"syscall"
)

// detachProcess puts the spawned daemon in its own session so it
// survives the client process exiting and signals sent to the client's
// process group.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
