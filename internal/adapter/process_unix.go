//go:build unix

package adapter

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the process in its own group so a timeout
// kills the test binaries spawned by the runner as well.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
