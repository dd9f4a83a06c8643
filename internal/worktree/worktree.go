// Package worktree manages isolated working copies for parallel task
// execution. File-copy-not-merge back-sync is chosen
// deliberately to avoid git-level conflicts on the plan document, which
// every parallel task touches.
package worktree

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/foreman-run/foreman/internal/completion"
	"github.com/foreman-run/foreman/internal/gitutil"
)

// Worktree is one isolated checkout created for a single parallel task.
type Worktree struct {
	ID     string
	Dir    string
	repo   *gitutil.Repo
	branch string
}

// Create adds a new git worktree under root, named with a fresh UUID so
// concurrent batches never collide, and clears any inherited completion
// record before the caller spawns an agent in it.
func Create(repo *gitutil.Repo, root string) (*Worktree, error) {
	id := uuid.NewString()
	dir := filepath.Join(root, "wt-"+id)
	branch := "foreman-wt-" + id

	if err := repo.WorktreeAdd(dir, branch); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}
	if err := completion.Clear(dir); err != nil {
		return nil, err
	}

	return &Worktree{ID: id, Dir: dir, repo: repo, branch: branch}, nil
}

// CopyBack copies the worktree's produced files back into the primary
// working copy (copy, not merge) and returns the list of
// relative paths copied so the caller can stage exactly those paths in the
// single orchestrator-authored commit.
func (w *Worktree) CopyBack(primaryDir string) ([]string, error) {
	changed, err := gitutil.New(w.Dir).StatusPorcelain()
	if err != nil {
		return nil, err
	}

	var copied []string
	for _, line := range changed {
		if len(line) < 4 {
			continue
		}
		relPath := line[3:]
		src := filepath.Join(w.Dir, relPath)
		dst := filepath.Join(primaryDir, relPath)
		if err := copyFile(src, dst); err != nil {
			return copied, fmt.Errorf("copy %s back from worktree: %w", relPath, err)
		}
		copied = append(copied, relPath)
	}
	return copied, nil
}

// Remove tears down the worktree unconditionally, on any outcome.
func (w *Worktree) Remove() error {
	return w.repo.WorktreeRemove(w.Dir)
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			// File was deleted in the worktree; mirror the deletion.
			return removeIfExists(dst)
		}
		return err
	}
	if info.IsDir() {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode())
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
