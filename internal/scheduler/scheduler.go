// Package scheduler picks the next runnable task(s), detects deadlock, and
// decides parallel batching.
package scheduler

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/types"
)

// Outcome is the result of one scheduling tick.
type Outcome int

const (
	// Runnable means Tasks holds one or more tasks ready to execute.
	Runnable Outcome = iota
	// Done means every task reached completed or skipped; the plan is
	// finished successfully.
	Done
	// Deadlocked means no task is runnable and at least one non-terminal
	// task is blocked on a failed or suspended upstream.
	Deadlocked
)

// Tick is the result of calling Next: either a set of runnable tasks, plan
// completion, or deadlock. Exactly one of these three holds (P2).
type Tick struct {
	Outcome Outcome
	Tasks   []*types.Task
}

func dependsSatisfied(t *types.Task, byID map[string]*types.Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := byID[depID]
		if !ok || dep.Status != types.TaskCompleted {
			return false
		}
	}
	return true
}

// NextRunnable returns the first task in document order whose status is
// pending and whose dependencies are all completed (P1: scheduler
// soundness — every depends_on member is completed at selection time).
func NextRunnable(p *types.Plan) *types.Task {
	byID := indexByID(p)
	for _, t := range p.Tasks() {
		if t.Status == types.TaskPending && dependsSatisfied(t, byID) {
			return t
		}
	}
	return nil
}

func indexByID(p *types.Plan) map[string]*types.Task {
	m := make(map[string]*types.Task)
	for _, t := range p.Tasks() {
		m[t.ID] = t
	}
	return m
}

// Next runs next_runnable and, if it finds nothing, distinguishes plan
// completion from deadlock.
func Next(p *types.Plan) Tick {
	if t := NextRunnable(p); t != nil {
		return Tick{Outcome: Runnable, Tasks: []*types.Task{t}}
	}

	allTerminalSuccess := true
	blocked := false
	byID := indexByID(p)
	for _, t := range p.Tasks() {
		if t.Status != types.TaskCompleted && t.Status != types.TaskSkipped {
			allTerminalSuccess = false
			for _, depID := range t.DependsOn {
				dep, ok := byID[depID]
				if ok && dep.Status.IsTerminalBlocking() {
					blocked = true
					break
				}
			}
		}
	}

	if allTerminalSuccess {
		return Tick{Outcome: Done}
	}
	if blocked {
		return Tick{Outcome: Deadlocked}
	}
	// Neither all-done nor blocked: tasks remain pending on dependencies
	// that are themselves still pending/in_progress. Not yet runnable,
	// not deadlocked — nothing to report this tick.
	return Tick{Outcome: Runnable, Tasks: nil}
}

// MarkDeadlocked sets the plan to its terminal failed status: the caller
// persists it, emits an out-of-band notification, and exits non-zero.
func MarkDeadlocked(p *types.Plan) error {
	p.Meta.Status = types.PlanFailed
	return fmt.Errorf("plan deadlocked: no runnable task and a non-terminal task depends on a failed/suspended upstream: %w", errkind.Deadlock)
}

// filePathPattern extracts path-like tokens from free text: anything
// containing a path separator or a dotted extension, trimmed of common
// markdown/punctuation wrapping.
var filePathPattern = regexp.MustCompile(`[A-Za-z0-9_./\-]*(?:/[A-Za-z0-9_.\-]+)+(?:\.[A-Za-z0-9]+)?|[A-Za-z0-9_\-]+\.[A-Za-z0-9]{1,6}`)

// ParseFilePaths extracts the set of file-path-looking tokens referenced
// in a task's description, used for the parallel-batch disjointness check.
func ParseFilePaths(description string) []string {
	matches := filePathPattern.FindAllString(description, -1)
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func stringSetsDisjoint(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return false
		}
	}
	return true
}

// pathsOverlap reports whether any path/glob in a matches any path/glob in
// b, treating either side as a doublestar pattern so exclusive_resources
// or description paths expressed as globs (e.g. "internal/**") are honored
// rather than compared for literal string equality only.
func pathsOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if pa == pb {
				return true
			}
			if ok, _ := doublestar.Match(pa, pb); ok {
				return true
			}
			if ok, _ := doublestar.Match(pb, pa); ok {
				return true
			}
		}
	}
	return false
}

// conflicts reports whether two tasks may not run concurrently: either
// they share an exclusive_resources entry, or the file paths parsed from
// their descriptions overlap (P7).
func conflicts(a, b *types.Task) bool {
	if !stringSetsDisjoint(a.ExclusiveResources, b.ExclusiveResources) {
		return true
	}
	if pathsOverlap(a.ExclusiveResources, b.ExclusiveResources) {
		return true
	}
	aPaths := ParseFilePaths(a.Description)
	bPaths := ParseFilePaths(b.Description)
	return pathsOverlap(aPaths, bPaths)
}

// ParallelBatch selects a maximal conflict-free set of runnable tasks
// sharing a parallel_group tag. If any
// pair in the full runnable group conflicts, the scheduler falls back to
// sequential execution of that group: callers should treat a returned
// batch of size 1 as "run sequentially", since that's indistinguishable
// from no parallel opportunity existing at all.
func ParallelBatch(p *types.Plan) []*types.Task {
	byID := indexByID(p)
	groups := make(map[string][]*types.Task)
	var order []string
	for _, t := range p.Tasks() {
		if t.Status != types.TaskPending || t.ParallelGroup == "" {
			continue
		}
		if !dependsSatisfied(t, byID) {
			continue
		}
		if _, ok := groups[t.ParallelGroup]; !ok {
			order = append(order, t.ParallelGroup)
		}
		groups[t.ParallelGroup] = append(groups[t.ParallelGroup], t)
	}
	sort.Strings(order)

	for _, g := range order {
		candidates := groups[g]
		if len(candidates) < 2 {
			continue
		}
		if allDisjoint(candidates) {
			return candidates
		}
		// S4: a conflicting pair falls back to sequential — return just
		// the first task of the group so the caller executes it alone
		// and re-evaluates the batch next tick.
		return candidates[:1]
	}
	return nil
}

func allDisjoint(tasks []*types.Task) bool {
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			if conflicts(tasks[i], tasks[j]) {
				return false
			}
		}
	}
	return true
}
