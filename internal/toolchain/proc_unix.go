//go:build unix

package toolchain

import (
	"os/exec"
	"syscall"
)

// isolateProcessGroup puts the compiler into its own process group so that a
// timeout or cancellation kills the whole toolchain tree (platformio forks
// gcc, ld, objcopy), not just the leader.
func isolateProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid signals the whole group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
