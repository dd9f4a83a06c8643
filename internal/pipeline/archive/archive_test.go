package archive

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/foreman-run/foreman/internal/gitutil"
	"github.com/foreman-run/foreman/internal/metrics"
	"github.com/foreman-run/foreman/internal/types"
)

func newTestRepo(t *testing.T) *gitutil.Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed"), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "seed")

	return gitutil.New(dir)
}

func TestMoveRelocatesAndCommits(t *testing.T) {
	repo := newTestRepo(t)
	backlog := filepath.Join(repo.Dir, "defects")
	archiveRoot := filepath.Join(repo.Dir, "archive")
	if err := os.MkdirAll(backlog, 0o755); err != nil {
		t.Fatalf("mkdir backlog: %v", err)
	}
	src := filepath.Join(backlog, "01-fix-login.md")
	if err := os.WriteFile(src, []byte("Status: Completed\n"), 0o644); err != nil {
		t.Fatalf("write item: %v", err)
	}

	a := New(repo, archiveRoot)
	w := &types.WorkItem{Slug: "01-fix-login", Type: types.WorkItemDefect, Path: src}

	before := testutil.ToFloat64(metrics.WorkItemsArchived.WithLabelValues(string(types.WorkItemDefect)))

	if err := a.Move(w); err != nil {
		t.Fatalf("Move() unexpected error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.WorkItemsArchived.WithLabelValues(string(types.WorkItemDefect))); got != before+1 {
		t.Errorf("WorkItemsArchived{defect} = %v, want %v", got, before+1)
	}

	dest := filepath.Join(archiveRoot, string(types.WorkItemDefect), "01-fix-login.md")
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("Move() should have placed the file at %s: %v", dest, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("Move() should have removed the source file")
	}

	has, err := repo.HasChanges()
	if err != nil {
		t.Fatalf("HasChanges() unexpected error = %v", err)
	}
	if has {
		t.Error("Move() should have left a committed, clean working tree")
	}
}

func TestMoveIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	backlog := filepath.Join(repo.Dir, "defects")
	archiveRoot := filepath.Join(repo.Dir, "archive")
	if err := os.MkdirAll(backlog, 0o755); err != nil {
		t.Fatalf("mkdir backlog: %v", err)
	}
	src := filepath.Join(backlog, "01-fix-login.md")
	if err := os.WriteFile(src, []byte("Status: Completed\n"), 0o644); err != nil {
		t.Fatalf("write item: %v", err)
	}

	a := New(repo, archiveRoot)
	w := &types.WorkItem{Slug: "01-fix-login", Type: types.WorkItemDefect, Path: src}

	if err := a.Move(w); err != nil {
		t.Fatalf("first Move() unexpected error = %v", err)
	}
	if err := a.Move(w); err != nil {
		t.Fatalf("second Move() unexpected error = %v", err)
	}
}

func TestMoveFindsFileAtCompletedWaypoint(t *testing.T) {
	repo := newTestRepo(t)
	backlog := filepath.Join(repo.Dir, "defects")
	completed := filepath.Join(backlog, "completed")
	archiveRoot := filepath.Join(repo.Dir, "archive")
	if err := os.MkdirAll(completed, 0o755); err != nil {
		t.Fatalf("mkdir completed: %v", err)
	}
	waypoint := filepath.Join(completed, "01-fix-login.md")
	if err := os.WriteFile(waypoint, []byte("Status: Completed\n"), 0o644); err != nil {
		t.Fatalf("write item: %v", err)
	}

	a := New(repo, archiveRoot)
	w := &types.WorkItem{
		Slug: "01-fix-login",
		Type: types.WorkItemDefect,
		Path: filepath.Join(backlog, "01-fix-login.md"),
	}

	if err := a.Move(w); err != nil {
		t.Fatalf("Move() unexpected error = %v", err)
	}
	dest := filepath.Join(archiveRoot, string(types.WorkItemDefect), "01-fix-login.md")
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("Move() should have relocated the completed waypoint file: %v", err)
	}
}

func TestMoveErrorsWhenSourceAndDestinationBothMissing(t *testing.T) {
	repo := newTestRepo(t)
	a := New(repo, filepath.Join(repo.Dir, "archive"))
	w := &types.WorkItem{
		Slug: "ghost",
		Type: types.WorkItemDefect,
		Path: filepath.Join(repo.Dir, "defects", "ghost.md"),
	}
	if err := a.Move(w); err == nil {
		t.Fatal("Move() expected an error when neither the source nor an archive copy exists")
	}
}

func TestCompletedSlugsWalksArchiveRoot(t *testing.T) {
	dir := t.TempDir()
	defectsDir := filepath.Join(dir, string(types.WorkItemDefect))
	if err := os.MkdirAll(defectsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(defectsDir, "01-fix-login.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := New(nil, dir)
	slugs, err := a.CompletedSlugs()
	if err != nil {
		t.Fatalf("CompletedSlugs() unexpected error = %v", err)
	}
	if !slugs["01-fix-login"] {
		t.Errorf("CompletedSlugs() = %v, want it to include 01-fix-login", slugs)
	}
}

func TestCompletedSlugsToleratesMissingRoot(t *testing.T) {
	a := New(nil, filepath.Join(t.TempDir(), "does-not-exist"))
	slugs, err := a.CompletedSlugs()
	if err != nil {
		t.Fatalf("CompletedSlugs() unexpected error = %v", err)
	}
	if len(slugs) != 0 {
		t.Errorf("CompletedSlugs() = %v, want empty for a missing root", slugs)
	}
}

func TestStartupSweepRecoversUncommittedArchiveMove(t *testing.T) {
	repo := newTestRepo(t)
	archiveRoot := filepath.Join(repo.Dir, "archive", string(types.WorkItemDefect))
	if err := os.MkdirAll(archiveRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(archiveRoot, "01-fix-login.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := New(repo, filepath.Join(repo.Dir, "archive"))
	if err := a.StartupSweep([]string{filepath.Join(repo.Dir, "archive")}); err != nil {
		t.Fatalf("StartupSweep() unexpected error = %v", err)
	}

	has, err := repo.HasChanges()
	if err != nil {
		t.Fatalf("HasChanges() unexpected error = %v", err)
	}
	if has {
		t.Error("StartupSweep() should have committed the recovered archive move")
	}
}

func TestStartupSweepNoOpOnCleanTree(t *testing.T) {
	repo := newTestRepo(t)
	a := New(repo, filepath.Join(repo.Dir, "archive"))
	if err := a.StartupSweep([]string{repo.Dir}); err != nil {
		t.Fatalf("StartupSweep() unexpected error = %v", err)
	}
}

func TestStartupSweepIgnoresChangesOutsideGivenDirs(t *testing.T) {
	repo := newTestRepo(t)
	if err := os.WriteFile(filepath.Join(repo.Dir, "unrelated.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := New(repo, filepath.Join(repo.Dir, "archive"))
	if err := a.StartupSweep([]string{filepath.Join(repo.Dir, "archive")}); err != nil {
		t.Fatalf("StartupSweep() unexpected error = %v", err)
	}

	has, err := repo.HasChanges()
	if err != nil {
		t.Fatalf("HasChanges() unexpected error = %v", err)
	}
	if !has {
		t.Error("StartupSweep() should not have staged or committed the unrelated change")
	}
}
