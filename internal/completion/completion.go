// Package completion reads and writes the CompletionRecord — the sole
// cross-process handshake artifact a spawned agent uses to report its
// outcome. It follows the same atomic-write contract used for the plan
// document, even though the payload here is a single small JSON document
// rather than the plan itself.
package completion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/types"
)

// FileName is the well-known basename the orchestrator looks for after a
// spawned agent exits.
const FileName = ".foreman-completion.json"

// PathFor returns the well-known completion record path for a task running
// in workDir.
func PathFor(workDir string) string {
	return filepath.Join(workDir, FileName)
}

// Clear removes any stale completion record before spawning an agent, so a
// leftover file from a previous attempt (or, in a worktree, one inherited
// from the primary checkout) is never mistaken for this attempt's result.
func Clear(workDir string) error {
	err := os.Remove(PathFor(workDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale completion record: %w", err)
	}
	return nil
}

// Read loads the completion record left by the agent that just exited.
// Absence and malformed content are both expected, recoverable conditions
// — callers translate them into a failed outcome rather than treating
// them as an invariant violation.
func Read(workDir string) (*types.CompletionRecord, error) {
	data, err := os.ReadFile(PathFor(workDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no completion record written: %w", errkind.ProtocolViolation)
		}
		return nil, fmt.Errorf("read completion record: %v: %w", err, errkind.ProtocolViolation)
	}

	var rec types.CompletionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("malformed completion record: %v: %w", err, errkind.ProtocolViolation)
	}
	if rec.TaskID == "" || !rec.Status.IsValid() {
		return nil, fmt.Errorf("malformed completion record: missing task_id or invalid status: %w", errkind.ProtocolViolation)
	}
	return &rec, nil
}

// Write is used by the verification agent harness and by tests to
// construct completion records without a real agent subprocess.
func Write(workDir string, rec *types.CompletionRecord) error {
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = types.CurrentCompletionSchemaVersion
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal completion record: %w", err)
	}

	path := PathFor(workDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp completion record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp completion record into place: %w", err)
	}
	return nil
}
