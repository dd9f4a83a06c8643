// Package plan loads and saves the plan document: strict required-field
// checking on load, atomic temp-file-then-rename on save.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/types"
)

// Load reads a plan document from path. It fails with errkind.SchemaErr if
// a required field is missing; any other YAML field not recognized by
// types.Plan is retained in that struct's Extra map and re-emitted by Save.
func Load(path string) (*types.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, errkind.Configuration)
	}

	var p types.Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %v: %w", path, err, errkind.SchemaErr)
	}

	if err := requireFields(&p); err != nil {
		return nil, err
	}

	resetStaleInProgress(&p)

	return &p, nil
}

// resetStaleInProgress re-enters any task found in_progress back to
// pending. A task is only ever written in_progress while its agent
// subprocess is running; finding one on load means the process that set
// it died before the task reached a terminal status, so it is re-entered
// exactly like any other non-terminal state.
func resetStaleInProgress(p *types.Plan) {
	for _, t := range p.Tasks() {
		if t.Status == types.TaskInProgress {
			t.Status = types.TaskPending
		}
	}
}

// ResumeSuspended completes the suspend -> notify -> answer -> resume
// protocol: it re-enters taskID to pending with the answer appended to its
// description, and resets its attempt counter, since the suspension it
// just recovered from was not itself a failed attempt and should not count
// against max_attempts. Reports whether taskID was found and suspended.
func ResumeSuspended(p *types.Plan, taskID, answer string) (bool, error) {
	for _, t := range p.Tasks() {
		if t.ID != taskID {
			continue
		}
		if t.Status != types.TaskSuspended {
			return false, fmt.Errorf("task %s is not suspended (status %s)", taskID, t.Status)
		}
		t.Description = strings.TrimRight(t.Description, "\n") + "\n\n### Answer\n" + answer + "\n"
		t.Status = types.TaskPending
		t.Attempts = 0
		return true, nil
	}
	return false, fmt.Errorf("task %s not found in plan", taskID)
}

func requireFields(p *types.Plan) error {
	if p.Meta.Name == "" {
		return fmt.Errorf("meta.name is required: %w", errkind.SchemaErr)
	}
	if len(p.Sections) == 0 {
		return fmt.Errorf("plan has no sections: %w", errkind.SchemaErr)
	}
	for _, s := range p.Sections {
		if s.ID == "" {
			return fmt.Errorf("section missing id: %w", errkind.SchemaErr)
		}
		for _, t := range s.Tasks {
			if t.ID == "" {
				return fmt.Errorf("task in section %s missing id: %w", s.ID, errkind.SchemaErr)
			}
			if !t.Status.IsValid() {
				return fmt.Errorf("task %s has invalid status %q: %w", t.ID, t.Status, errkind.SchemaErr)
			}
			if t.ExecutionMode == "agent_team" {
				return fmt.Errorf("task %s uses unsupported execution_mode %q: %w", t.ID, t.ExecutionMode, errkind.Configuration)
			}
		}
	}
	return nil
}

// Save writes the plan atomically: marshal to a temp file in the same
// directory, then rename over the destination. A crash mid-write can never
// leave a torn plan document on disk.
func Save(p *types.Plan, path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".plan-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp plan file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp plan file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp plan file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp plan file into place: %w", err)
	}
	return nil
}

// RecomputeSectionStatus derives each section's status from its tasks:
// completed iff every task is completed or skipped; in_progress iff at
// least one task has started; pending otherwise. Sections are derived
// views only — never trust a stale value loaded from disk.
func RecomputeSectionStatus(p *types.Plan) {
	for _, s := range p.Sections {
		s.Status = deriveSectionStatus(s)
	}
}

func deriveSectionStatus(s *types.Section) types.SectionStatus {
	if len(s.Tasks) == 0 {
		return types.SectionPending
	}
	allDone := true
	anyStarted := false
	for _, t := range s.Tasks {
		if t.Status != types.TaskCompleted && t.Status != types.TaskSkipped {
			allDone = false
		}
		if t.Status != types.TaskPending {
			anyStarted = true
		}
	}
	switch {
	case allDone:
		return types.SectionCompleted
	case anyStarted:
		return types.SectionInProgress
	default:
		return types.SectionPending
	}
}
