// Package archive moves finished WorkItems into the archive layout and
// commits the move, and performs the startup sweep that
// recovers from a crash between move and commit.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/foreman-run/foreman/internal/gitutil"
	"github.com/foreman-run/foreman/internal/metrics"
	"github.com/foreman-run/foreman/internal/types"
)

// Archiver moves completed WorkItems from their backlog directory into
// the archive root, then commits the move.
type Archiver struct {
	Repo       *gitutil.Repo
	ArchiveRoot string

	mu        sync.Mutex
	processed map[string]bool // slugs successfully archived this session
}

func New(repo *gitutil.Repo, archiveRoot string) *Archiver {
	return &Archiver{Repo: repo, ArchiveRoot: archiveRoot, processed: map[string]bool{}}
}

// Move implements the archive resolution protocol and is idempotent:
// calling it any number of times for the same WorkItem results in the file
// being at the archive path with no spurious commits after the first (P5).
func (a *Archiver) Move(w *types.WorkItem) error {
	a.mu.Lock()
	if a.processed[w.Slug] {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	dest := filepath.Join(a.ArchiveRoot, string(w.Type), filepath.Base(w.Path))

	src, warn, err := resolveSource(w)
	if err != nil {
		return err
	}
	if warn != "" {
		// Not fatal: the warning is discarded and the move proceeds from
		// the completed/ waypoint.
		_ = warn
	}

	if src == "" {
		// Source already gone and destination already holds the file:
		// idempotent success, no commit (case 3 of the resolution
		// protocol).
		if _, err := os.Stat(dest); err == nil {
			a.markProcessed(w.Slug)
			return nil
		}
		return fmt.Errorf("archive %s: source file is gone and no archive copy exists", w.Slug)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("move %s to archive: %w", w.Slug, err)
	}

	if err := a.Repo.Add(src, dest); err != nil {
		return fmt.Errorf("stage archive move for %s: %w", w.Slug, err)
	}
	has, err := a.Repo.HasChanges()
	if err != nil {
		return err
	}
	if has {
		if err := a.Repo.Commit(fmt.Sprintf("archive: %s (%s)", w.Slug, w.Type)); err != nil {
			return fmt.Errorf("commit archive move for %s: %w", w.Slug, err)
		}
	}

	metrics.WorkItemsArchived.WithLabelValues(string(w.Type)).Inc()
	a.markProcessed(w.Slug)
	return nil
}

func (a *Archiver) markProcessed(slug string) {
	a.mu.Lock()
	a.processed[slug] = true
	a.mu.Unlock()
}

// resolveSource implements the four-step archive resolution protocol.
// An empty returned path with a nil error means "already archived,
// idempotent success"; the caller checks the destination in that case.
func resolveSource(w *types.WorkItem) (src string, warning string, err error) {
	if _, statErr := os.Stat(w.Path); statErr == nil {
		return w.Path, "", nil
	}

	completedPath := filepath.Join(filepath.Dir(w.Path), "completed", filepath.Base(w.Path))
	if _, statErr := os.Stat(completedPath); statErr == nil {
		return completedPath, fmt.Sprintf("found %s in completed/ waypoint instead of recorded path", w.Slug), nil
	}

	return "", "", nil
}

// StartupSweep recovers from a crash between an archive move and its
// commit: it stages any uncommitted or untracked paths under
// the given directories and folds them into a single recovery commit. It
// is also called best-effort from a signal handler before the daemon
// process terminates.
func (a *Archiver) StartupSweep(dirs []string) error {
	lines, err := a.Repo.StatusPorcelain()
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	var toStage []string
	for _, line := range lines {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if underAny(path, dirs) || underAny(filepath.Join(a.Repo.Dir, path), dirs) {
			toStage = append(toStage, path)
		}
	}
	if len(toStage) == 0 {
		return nil
	}

	if err := a.Repo.Add(toStage...); err != nil {
		return fmt.Errorf("stage archival recovery paths: %w", err)
	}
	has, err := a.Repo.HasChanges()
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	return a.Repo.Commit("recover uncommitted archival artifacts from interrupted pipeline")
}

func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		rel, err := filepath.Rel(d, path)
		if err == nil && rel != ".." && !hasDotDotPrefix(rel) {
			return true
		}
	}
	return false
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

// CompletedSlugs returns the set of slugs already present anywhere in the
// archive root, for the scanner's lazy dependency-readiness lookup.
func (a *Archiver) CompletedSlugs() (map[string]bool, error) {
	out := map[string]bool{}
	err := filepath.Walk(a.ArchiveRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		slug := filepath.Base(path)
		slug = slug[:len(slug)-len(filepath.Ext(slug))]
		out[slug] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
