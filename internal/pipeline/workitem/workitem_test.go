package workitem

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foreman-run/foreman/internal/types"
)

func writeFixture(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadParsesHeaders(t *testing.T) {
	dir := t.TempDir()
	body := "Status: Open\nDependencies: other-item, another-item\nCreated: 2026-01-01\n\n## Root Cause\n\nsomething broke\n"
	path := writeFixture(t, dir, "fix-login.md", body)

	w, err := Load(path, types.WorkItemDefect)
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}
	if w.Slug != "fix-login" {
		t.Errorf("Slug = %q, want fix-login", w.Slug)
	}
	if w.Status != types.WorkItemOpen {
		t.Errorf("Status = %q, want Open", w.Status)
	}
	if len(w.Dependencies) != 2 || w.Dependencies[0] != "other-item" || w.Dependencies[1] != "another-item" {
		t.Errorf("Dependencies = %v, want [other-item another-item]", w.Dependencies)
	}
}

func TestLoadDefaultsStatusAndDependenciesWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "bare.md", "Just a description, no headers.\n")

	w, err := Load(path, types.WorkItemFeature)
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}
	if w.Status != types.WorkItemOpen {
		t.Errorf("Status = %q, want default Open", w.Status)
	}
	if w.Dependencies != nil {
		t.Errorf("Dependencies = %v, want nil", w.Dependencies)
	}
}

func TestLoadTreatsNoneDependenciesAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "solo.md", "Status: Open\nDependencies: none\n")

	w, err := Load(path, types.WorkItemDefect)
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}
	if len(w.Dependencies) != 0 {
		t.Errorf("Dependencies = %v, want empty for 'none'", w.Dependencies)
	}
}

func TestAppendVerificationPersistsAndParsesBack(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "defect-1.md", "Status: Open\nDependencies: none\n\nDescription here.\n")

	w, err := Load(path, types.WorkItemDefect)
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}

	at := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	if err := AppendVerification(w, types.VerdictFail, "missing edge case handling", at); err != nil {
		t.Fatalf("AppendVerification() unexpected error = %v", err)
	}
	if len(w.VerificationLog) != 1 || w.VerificationLog[0].Cycle != 1 {
		t.Fatalf("VerificationLog = %+v, want one cycle-1 entry", w.VerificationLog)
	}

	reloaded, err := Load(path, types.WorkItemDefect)
	if err != nil {
		t.Fatalf("reload after AppendVerification: %v", err)
	}
	if len(reloaded.VerificationLog) != 1 {
		t.Fatalf("reloaded VerificationLog = %+v, want one entry", reloaded.VerificationLog)
	}
	if reloaded.VerificationLog[0].Verdict != types.VerdictFail {
		t.Errorf("reloaded Verdict = %q, want FAIL", reloaded.VerificationLog[0].Verdict)
	}

	if err := AppendVerification(w, types.VerdictPass, "looks good now", at.Add(time.Hour)); err != nil {
		t.Fatalf("second AppendVerification() unexpected error = %v", err)
	}
	if w.VerificationLog[1].Cycle != 2 {
		t.Errorf("second cycle number = %d, want 2", w.VerificationLog[1].Cycle)
	}
}

func TestExtractVerdictDefaultsToWarnWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "ambiguous.md", "Status: Open\n\n## Verification #1\n\nNo clear verdict line here.\n")

	w, err := Load(path, types.WorkItemDefect)
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}
	if len(w.VerificationLog) != 1 {
		t.Fatalf("VerificationLog = %+v, want one entry", w.VerificationLog)
	}
	if w.VerificationLog[0].Verdict != types.VerdictWarn {
		t.Errorf("Verdict = %q, want WARN default", w.VerificationLog[0].Verdict)
	}
}

func TestSetStatusRewritesExistingHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "toggle.md", "Status: Open\nDependencies: none\n\nbody\n")

	w, err := Load(path, types.WorkItemDefect)
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}

	if err := SetStatus(w, types.WorkItemFixed); err != nil {
		t.Fatalf("SetStatus() unexpected error = %v", err)
	}
	if !strings.Contains(w.Body, "Status: Fixed") {
		t.Errorf("Body = %q, want updated Status header", w.Body)
	}

	reloaded, err := Load(path, types.WorkItemDefect)
	if err != nil {
		t.Fatalf("reload after SetStatus: %v", err)
	}
	if reloaded.Status != types.WorkItemFixed {
		t.Errorf("reloaded Status = %q, want Fixed", reloaded.Status)
	}
}

func TestSetStatusPrependsHeaderWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "no-header.md", "Just body text.\n")

	w, err := Load(path, types.WorkItemDefect)
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}
	if err := SetStatus(w, types.WorkItemCompleted); err != nil {
		t.Fatalf("SetStatus() unexpected error = %v", err)
	}
	if !strings.HasPrefix(w.Body, "Status: Completed") {
		t.Errorf("Body = %q, want Status header prepended", w.Body)
	}
}
