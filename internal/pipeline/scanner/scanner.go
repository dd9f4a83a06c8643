// Package scanner walks the pipeline's input backlog directories and
// produces a dependency-respecting, type-ordered candidate list.
package scanner

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/foreman-run/foreman/internal/pipeline/workitem"
	"github.com/foreman-run/foreman/internal/types"
)

// ArchiveFunc is invoked for any work item whose Status: header already
// indicates terminal completion — it must not sit in an active backlog
// directory.
type ArchiveFunc func(*types.WorkItem) error

// CompletedLookup resolves the set of slugs considered "done" for the
// purpose of satisfying a candidate's Dependencies: header. It is only
// invoked lazily, when at least one candidate declares a dependency.
type CompletedLookup func() (map[string]bool, error)

// Scanner walks a fixed set of typed backlog roots.
type Scanner struct {
	Roots   map[types.WorkItemType]string
	Archive ArchiveFunc
	Completed CompletedLookup
}

var numericPrefix = regexp.MustCompile(`^(\d+)`)

// Scan walks every configured root, archiving terminally-complete items in
// place and returning the remaining candidates in scan order: items whose
// dependencies are all satisfied come before items still waiting, and
// within each group by type rank, then numeric filename prefix.
func (s *Scanner) Scan() ([]*types.WorkItem, error) {
	var candidates []*types.WorkItem

	for _, itemType := range []types.WorkItemType{types.WorkItemDefect, types.WorkItemFeature, types.WorkItemAnalysis} {
		root, ok := s.Roots[itemType]
		if !ok || root == "" {
			continue
		}
		items, err := s.scanDir(root, itemType)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, items...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Type.Rank() != b.Type.Rank() {
			return a.Type.Rank() < b.Type.Rank()
		}
		return slugSortKey(a.Slug) < slugSortKey(b.Slug)
	})

	needsDeps := false
	for _, c := range candidates {
		if len(c.Dependencies) > 0 {
			needsDeps = true
			break
		}
	}
	if !needsDeps {
		return candidates, nil
	}

	completed := map[string]bool{}
	if s.Completed != nil {
		var err error
		completed, err = s.Completed()
		if err != nil {
			return nil, err
		}
	}

	return orderByReadiness(candidates, completed), nil
}

func (s *Scanner) scanDir(root string, itemType types.WorkItemType) ([]*types.WorkItem, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*types.WorkItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(root, entry.Name())
		item, err := workitem.Load(path, itemType)
		if err != nil {
			continue
		}
		if item.Status.IsTerminalComplete() {
			if s.Archive != nil {
				_ = s.Archive(item)
			}
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func slugSortKey(slug string) string {
	m := numericPrefix.FindStringSubmatch(slug)
	if m == nil {
		return "9999999999_" + slug
	}
	n, _ := strconv.Atoi(m[1])
	return padNumber(n) + "_" + slug
}

func padNumber(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}

// orderByReadiness yields a WorkItem with an unsatisfied dependency to one
// that is ready, while preserving the type/filename ordering among items
// with equal readiness.
func orderByReadiness(candidates []*types.WorkItem, completed map[string]bool) []*types.WorkItem {
	ready := make([]*types.WorkItem, 0, len(candidates))
	waiting := make([]*types.WorkItem, 0)

	satisfiedBySelf := map[string]bool{}
	for k, v := range completed {
		satisfiedBySelf[k] = v
	}

	for _, c := range candidates {
		if c.ReadyGiven(satisfiedBySelf) {
			ready = append(ready, c)
		} else {
			waiting = append(waiting, c)
		}
	}
	return append(ready, waiting...)
}
