//go:build windows

package llm

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on windows; process-tree termination falls
// back to killing the direct child only (documented limitation).
func setProcessGroup(cmd *exec.Cmd) {}

// KillProcessGroup terminates only the process itself on windows.
func KillProcessGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
