//go:build !unix

package toolchain

import "os/exec"

// isolateProcessGroup is a no-op on platforms without process groups; the
// default CommandContext kill of the leader process applies.
func isolateProcessGroup(cmd *exec.Cmd) {}
