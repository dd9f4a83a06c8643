// Package stash implements the pre-task stash/pop cycle with plan-file
// exclusion: the agent sees a clean tree plus only its own
// prospective changes, but any plan-document edits the agent itself makes
// are left untouched rather than stashed and conflicted on restore.
package stash

import (
	"strings"

	"github.com/foreman-run/foreman/internal/gitutil"
)

// Handle tracks whether a stash was actually created, so Pop is a no-op
// when there was nothing to stash in the first place.
type Handle struct {
	repo    *gitutil.Repo
	stashed bool
}

// Push stashes everything in repo except the given plan-file paths.
func Push(repo *gitutil.Repo, planPaths []string) (*Handle, error) {
	stashed, err := repo.StashPushExcluding(planPaths)
	if err != nil {
		return nil, err
	}
	return &Handle{repo: repo, stashed: stashed}, nil
}

// completionStatusMarkers identifies the transient per-task file whose
// stash-pop conflicts are resolved by discarding the local copy rather
// than a full merge-state reset.
var completionStatusMarkers = []string{".foreman-completion.json"}

// Pop restores the stash created by Push, resolving conflicts per this
// protocol: a conflict isolated to the completion-status file is resolved
// by discarding the local copy and re-popping; any other conflict falls
// back to a merge-state reset followed by dropping the stash. The
// repository is never left in an unresolved-merge state across task
// boundaries.
func (h *Handle) Pop() error {
	if h == nil || !h.stashed {
		return nil
	}

	err := h.repo.StashPop()
	if err == nil {
		return nil
	}

	if conflictIsolatedToCompletionFile(err.Error()) {
		for _, marker := range completionStatusMarkers {
			_ = h.repo.CheckoutPath(marker)
		}
		if err := h.repo.StashPop(); err == nil {
			return nil
		}
	}

	if resetErr := h.repo.ResetMerge(); resetErr != nil {
		return resetErr
	}
	return h.repo.StashDrop()
}

func conflictIsolatedToCompletionFile(gitErr string) bool {
	if !strings.Contains(gitErr, "conflict") && !strings.Contains(gitErr, "CONFLICT") {
		return false
	}
	for _, marker := range completionStatusMarkers {
		if strings.Contains(gitErr, marker) {
			return true
		}
	}
	return false
}
