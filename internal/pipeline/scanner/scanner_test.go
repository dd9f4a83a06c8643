package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/foreman-run/foreman/internal/types"
)

func writeItem(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestScanOrdersByTypeThenFilenameAndArchivesTerminal(t *testing.T) {
	defects := t.TempDir()
	features := t.TempDir()

	writeItem(t, defects, "02-second-defect.md", "Status: Open\n\nfix this\n")
	writeItem(t, defects, "01-first-defect.md", "Status: Open\n\nfix that\n")
	writeItem(t, defects, "03-done-defect.md", "Status: Completed\n\nalready fixed\n")
	writeItem(t, features, "01-a-feature.md", "Status: Open\n\nadd this\n")

	var archived []string
	s := &Scanner{
		Roots: map[types.WorkItemType]string{
			types.WorkItemDefect:  defects,
			types.WorkItemFeature: features,
		},
		Archive: func(w *types.WorkItem) error {
			archived = append(archived, w.Slug)
			return nil
		},
	}

	candidates, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() unexpected error = %v", err)
	}

	if len(archived) != 1 || archived[0] != "03-done-defect" {
		t.Errorf("archived = %v, want exactly the completed defect", archived)
	}

	if len(candidates) != 3 {
		t.Fatalf("candidates = %v, want 3 (excluding the archived item)", candidates)
	}
	if candidates[0].Slug != "01-first-defect" || candidates[1].Slug != "02-second-defect" {
		t.Errorf("defects not ordered by numeric filename prefix: %v", sluglist(candidates))
	}
	if candidates[2].Type != types.WorkItemFeature {
		t.Errorf("features should sort after all defects: %v", sluglist(candidates))
	}
}

func TestScanSkipsMissingRootsWithoutError(t *testing.T) {
	s := &Scanner{Roots: map[types.WorkItemType]string{
		types.WorkItemDefect: filepath.Join(t.TempDir(), "does-not-exist"),
	}}
	candidates, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() unexpected error = %v", err)
	}
	if candidates != nil {
		t.Errorf("Scan() = %v, want nil for a missing root", candidates)
	}
}

func TestScanOrdersReadyItemsBeforeWaiting(t *testing.T) {
	defects := t.TempDir()
	writeItem(t, defects, "01-blocked.md", "Status: Open\nDependencies: needs-something\n\nwaits\n")
	writeItem(t, defects, "02-ready.md", "Status: Open\nDependencies: none\n\nready to go\n")

	s := &Scanner{
		Roots: map[types.WorkItemType]string{types.WorkItemDefect: defects},
		Completed: func() (map[string]bool, error) {
			return map[string]bool{}, nil
		},
	}

	candidates, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() unexpected error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %v, want 2", candidates)
	}
	if candidates[0].Slug != "02-ready" {
		t.Errorf("ready item should sort first, got order %v", sluglist(candidates))
	}
}

func TestScanHonorsSatisfiedDependency(t *testing.T) {
	defects := t.TempDir()
	writeItem(t, defects, "01-dependent.md", "Status: Open\nDependencies: upstream-fix\n\ndepends on upstream\n")

	s := &Scanner{
		Roots: map[types.WorkItemType]string{types.WorkItemDefect: defects},
		Completed: func() (map[string]bool, error) {
			return map[string]bool{"upstream-fix": true}, nil
		},
	}

	candidates, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() unexpected error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %v, want 1", candidates)
	}
}

func sluglist(items []*types.WorkItem) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Slug)
	}
	return out
}
