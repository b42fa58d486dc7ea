//go:build windows

package client

import (
	"os/exec"
	"syscall"
)

// detachProcess creates the daemon in its own process group, the
// Windows equivalent of detaching it from the client's console.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
