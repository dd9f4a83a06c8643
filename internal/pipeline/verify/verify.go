// Package verify runs a verification agent against a resolved defect or
// feature WorkItem and records a PASS/WARN/FAIL verdict.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/invoker"
	"github.com/foreman-run/foreman/internal/llm"
	"github.com/foreman-run/foreman/internal/metrics"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/pipeline/workitem"
	"github.com/foreman-run/foreman/internal/types"
)

// DefaultMaxCycles bounds the verify-fail-replan loop; the daemon, not
// this package, enforces it, since enforcement requires knowledge of the
// full retry history.
const DefaultMaxCycles = 3

// Verifier invokes the verification agent for one WorkItem.
type Verifier struct {
	Env     *invoker.Environment
	Profile *permission.Spec
	Model   string
}

// Run invokes the agent, parses its verdict, appends the verification
// section to the item, and returns the verdict for the daemon's retry
// decision.
func (v *Verifier) Run(ctx context.Context, w *types.WorkItem, now time.Time) (types.Verdict, error) {
	if err := permission.ValidateHeadless(v.Profile); err != nil {
		return types.VerdictFail, err
	}

	prompt := buildVerifyPrompt(w)

	rc, err := v.Env.Backend().Execute(ctx, llm.ExecuteOptions{
		Prompt:       prompt,
		Model:        v.Model,
		AllowedTools: v.Profile.AllowedTools,
		WorkDir:      v.Env.ProjectRoot,
		Env:          v.Env.EnvSlice(),
	})
	if err != nil {
		return types.VerdictFail, fmt.Errorf("spawn verification agent: %v: %w", err, errkind.Transient)
	}
	defer rc.Close()

	result, err := invoker.ConsumeStream(rc, nil)
	if err != nil {
		return types.VerdictFail, fmt.Errorf("read verification agent output: %v: %w", err, errkind.Transient)
	}

	verdict, findings := parseVerdict(result.RawText)
	metrics.VerificationCycles.WithLabelValues(string(verdict)).Inc()
	if err := workitem.AppendVerification(w, verdict, findings, now); err != nil {
		return verdict, err
	}
	return verdict, nil
}

func buildVerifyPrompt(w *types.WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verify the resolution of the following work item. Check that the described fix or feature is actually present and correct; do not trust the item's own claims of completion.\n\n### Item (%s)\n\n%s\n\n", w.Slug, w.Body)
	b.WriteString(`### Required output

End your response with a line of the exact form:

  Verdict: PASS
  Verdict: WARN
  Verdict: FAIL

PASS means the resolution is correct and complete. WARN means it is
functional but has a non-blocking concern worth noting. FAIL means it does
not actually resolve the item. Everything before that line is recorded as
your findings.
`)
	return b.String()
}

var verdictLine = regexp.MustCompile(`(?m)^Verdict:\s*(PASS|WARN|FAIL)\s*$`)

func parseVerdict(raw string) (types.Verdict, string) {
	loc := verdictLine.FindStringSubmatchIndex(raw)
	if loc == nil {
		return types.VerdictFail, strings.TrimSpace(raw) + "\n\n(no Verdict line found; treated as FAIL)"
	}
	verdict := types.Verdict(raw[loc[2]:loc[3]])
	findings := strings.TrimSpace(raw[:loc[0]])
	return verdict, findings
}
