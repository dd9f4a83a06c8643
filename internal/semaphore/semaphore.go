// Package semaphore implements a stop semaphore: a file
// whose presence prevents new tasks from starting. Any sibling process,
// signal handler, or operator can create it without knowing the
// orchestrator's PID.
package semaphore

import "os"

// FileName is the well-known basename checked for in the plan directory.
const FileName = ".foreman-stop"

func pathIn(planDir string) string {
	if planDir == "" {
		planDir = "."
	}
	return planDir + string(os.PathSeparator) + FileName
}

// Present reports whether the stop semaphore exists in planDir.
func Present(planDir string) bool {
	_, err := os.Stat(pathIn(planDir))
	return err == nil
}

// ClearStale removes any semaphore left over from a previous run. The
// orchestrator calls this once at startup so a stale stop file doesn't
// prevent a fresh invocation from ever starting.
func ClearStale(planDir string) error {
	err := os.Remove(pathIn(planDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Raise creates the semaphore, for operators or sibling processes that
// want to request a graceful stop.
func Raise(planDir string) error {
	f, err := os.OpenFile(pathIn(planDir), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
