package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveBinaryPath finds the configured agent binary, checking common
// install locations when it is not already absolute or on PATH. The
// install locations are those of the Claude CLI and are only checked for a
// binary named "claude"; any other unresolvable name is returned unchanged.
func ResolveBinaryPath(binaryPath string) string {
	if filepath.IsAbs(binaryPath) {
		return binaryPath
	}

	if path, err := exec.LookPath(binaryPath); err == nil {
		return path
	}

	if strings.HasPrefix(binaryPath, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, binaryPath[1:])
		}
	}

	home, err := os.UserHomeDir()
	if err == nil && filepath.Base(binaryPath) == "claude" {
		commonPaths := []string{
			filepath.Join(home, ".claude", "local", "claude"),
			"/usr/local/bin/claude",
			"/opt/homebrew/bin/claude",
		}

		for _, p := range commonPaths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}

	// Return original, will fail with helpful error later.
	return binaryPath
}

// AgentNotFoundError returns a helpful error message when the configured
// agent binary cannot be resolved at startup.
func AgentNotFoundError(configured string) error {
	return fmt.Errorf(`agent binary %q not found in PATH

To fix, either add its install directory to PATH, or set the full path in
.foreman/config.yaml:

  agent:
    binary: /path/to/binary`, configured)
}
