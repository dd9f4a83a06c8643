// Package workitem parses and rewrites the markdown WorkItem files that
// live in the pipeline's typed backlog directories.
package workitem

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/foreman-run/foreman/internal/types"
)

var (
	statusPattern       = regexp.MustCompile(`(?m)^Status:\s*(.+)$`)
	dependenciesPattern = regexp.MustCompile(`(?m)^Dependencies:\s*(.+)$`)
	verificationHeader  = regexp.MustCompile(`(?m)^## Verification #(\d+)\s*$`)
)

// Load reads a WorkItem markdown file and extracts its header metadata.
// The slug is the filename minus extension; file location is the
// canonical state, the Status: header is metadata only.
func Load(path string, itemType types.WorkItemType) (*types.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work item %s: %w", path, err)
	}
	body := string(data)

	slug := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	status := types.WorkItemOpen
	if m := statusPattern.FindStringSubmatch(body); len(m) == 2 {
		status = types.WorkItemStatus(strings.TrimSpace(m[1]))
	}

	var deps []string
	if m := dependenciesPattern.FindStringSubmatch(body); len(m) == 2 {
		for _, d := range strings.Split(m[1], ",") {
			d = strings.TrimSpace(d)
			if d != "" && !strings.EqualFold(d, "none") {
				deps = append(deps, d)
			}
		}
	}

	return &types.WorkItem{
		Slug:            slug,
		Type:            itemType,
		Path:            path,
		Body:            body,
		Status:          status,
		Dependencies:    deps,
		VerificationLog: parseVerificationLog(body),
	}, nil
}

func parseVerificationLog(body string) []types.VerificationEntry {
	idx := verificationHeader.FindAllStringSubmatchIndex(body, -1)
	if idx == nil {
		return nil
	}
	var entries []types.VerificationEntry
	for i, loc := range idx {
		cycleStr := body[loc[2]:loc[3]]
		cycle, _ := strconv.Atoi(cycleStr)

		sectionStart := loc[1]
		sectionEnd := len(body)
		if i+1 < len(idx) {
			sectionEnd = idx[i+1][0]
		}
		section := body[sectionStart:sectionEnd]

		entries = append(entries, types.VerificationEntry{
			Cycle:    cycle,
			Verdict:  extractVerdict(section),
			Findings: strings.TrimSpace(section),
		})
	}
	return entries
}

var verdictPattern = regexp.MustCompile(`Verdict:\s*(PASS|WARN|FAIL)`)

func extractVerdict(section string) types.Verdict {
	if m := verdictPattern.FindStringSubmatch(section); len(m) == 2 {
		return types.Verdict(m[1])
	}
	return types.VerdictWarn
}

// AppendVerification appends a new "Verification #N" section to the work
// item's body and rewrites it to disk, so findings become part of the
// item text for the next plan-creation cycle to see.
func AppendVerification(w *types.WorkItem, verdict types.Verdict, findings string, at time.Time) error {
	cycle := len(w.VerificationLog) + 1
	section := fmt.Sprintf("\n\n## Verification #%d\n\nVerdict: %s\nTimestamp: %s\n\n%s\n",
		cycle, verdict, at.Format(time.RFC3339), findings)

	w.Body = w.Body + section
	w.VerificationLog = append(w.VerificationLog, types.VerificationEntry{
		Cycle:    cycle,
		Verdict:  verdict,
		Findings: findings,
		At:       at,
	})

	return writeAtomic(w.Path, w.Body)
}

// SetStatus rewrites the Status: header in place (or appends one if
// missing) and persists the change.
func SetStatus(w *types.WorkItem, status types.WorkItemStatus) error {
	w.Status = status
	if statusPattern.MatchString(w.Body) {
		w.Body = statusPattern.ReplaceAllString(w.Body, "Status: "+string(status))
	} else {
		w.Body = "Status: " + string(status) + "\n\n" + w.Body
	}
	return writeAtomic(w.Path, w.Body)
}

func writeAtomic(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
