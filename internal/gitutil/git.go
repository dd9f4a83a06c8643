// Package gitutil wraps the git binary directly — plain
// os/exec.Command("git", "-C", repo, ...) calls, no git library. Git
// itself is an external collaborator out of scope beyond invoking the
// binary, so nothing here tries to reimplement git internals.
package gitutil

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Repo is a thin handle onto a working copy's root.
type Repo struct {
	Dir string
}

func New(dir string) *Repo { return &Repo{Dir: dir} }

func (r *Repo) run(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", r.Dir}, args...)...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(errBuf.String()))
	}
	return out.String(), nil
}

// StatusPorcelain returns the porcelain status lines for the working copy.
func (r *Repo) StatusPorcelain() ([]string, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return splitNonEmpty(out), nil
}

// HasChanges reports whether the working copy has anything to commit.
func (r *Repo) HasChanges() (bool, error) {
	lines, err := r.StatusPorcelain()
	if err != nil {
		return false, err
	}
	return len(lines) > 0, nil
}

// Add stages the given paths, or everything when paths is empty.
func (r *Repo) Add(paths ...string) error {
	args := append([]string{"add"}, paths...)
	if len(paths) == 0 {
		args = append(args, "-A")
	}
	_, err := r.run(args...)
	return err
}

// Commit creates a commit with the given message. It is a no-op-safe
// error when there is nothing staged, which callers can check with
// HasChanges before calling.
func (r *Repo) Commit(message string) error {
	_, err := r.run("commit", "-m", message)
	return err
}

// StashPushExcluding stashes all uncommitted changes except the given
// paths, via git's pathspec exclusion syntax. Returns false if
// there was nothing to stash.
func (r *Repo) StashPushExcluding(excludePaths []string) (bool, error) {
	args := []string{"stash", "push", "--include-untracked", "--"}
	args = append(args, ".")
	for _, p := range excludePaths {
		args = append(args, ":(exclude)"+p)
	}
	out, err := r.run(args...)
	if err != nil {
		return false, err
	}
	if strings.Contains(out, "No local changes to save") {
		return false, nil
	}
	return true, nil
}

// StashPop restores the most recent stash.
func (r *Repo) StashPop() error {
	_, err := r.run("stash", "pop")
	return err
}

// StashDrop discards the most recent stash without applying it.
func (r *Repo) StashDrop() error {
	_, err := r.run("stash", "drop")
	return err
}

// CheckoutPath discards local modifications to a single path, used to
// resolve a stash-pop conflict on the transient completion-status file by
// taking the stash's version and discarding the local copy.
func (r *Repo) CheckoutPath(path string) error {
	_, err := r.run("checkout", "--", path)
	return err
}

// ResetMerge aborts an in-progress merge and restores a clean index, the
// fallback when a stash pop conflicts outside the completion file.
func (r *Repo) ResetMerge() error {
	_, err := r.run("merge", "--abort")
	if err != nil {
		// merge --abort fails if there's no merge in progress; that's
		// fine, fall through to a plain reset.
		_, err = r.run("reset", "--merge")
	}
	return err
}

// WorktreeAdd creates a new worktree at dir on a new branch off HEAD.
func (r *Repo) WorktreeAdd(dir, branch string) error {
	_, err := r.run("worktree", "add", "-b", branch, dir)
	return err
}

// WorktreeRemove removes a worktree, forcing removal of any uncommitted
// changes left in it (the orchestrator has already copied out anything it
// needed before calling this).
func (r *Repo) WorktreeRemove(dir string) error {
	_, err := r.run("worktree", "remove", "--force", dir)
	return err
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
