package invoker

import (
	"fmt"
	"strings"

	"github.com/foreman-run/foreman/internal/completion"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/types"
)

// BuildPrompt assembles the task part of the prompt for one agent attempt:
// a task preamble carrying the task id, attempt number, plan context, and
// the completion-record instruction protocol. Invoke prepends the role
// preamble (opaque markdown, verbatim) to what this returns.
func BuildPrompt(p *types.Plan, t *types.Task, attempt int, profile permission.Profile) string {
	var b strings.Builder

	fmt.Fprintf(&b, `## Task %s

Plan: %s
Attempt: %d of %d
Permission Profile: %s

`, t.ID, p.Meta.Name, attempt, t.EffectiveMaxAttempts(p.Meta.MaxAttemptsDefault), profile)

	if attempt == 1 {
		b.WriteString("This is a fresh start. No prior attempt has touched this task.\n\n")
	} else {
		fmt.Fprintf(&b, "A previous attempt failed (last error: %s). Verify current state before acting — do not assume your own prior work is still intact.\n\n", orNone(t.LastError))
	}

	b.WriteString("### Description\n\n")
	b.WriteString(t.Description)
	b.WriteString("\n\n")

	if len(t.DependsOn) > 0 {
		fmt.Fprintf(&b, "### Dependencies\n\nThis task depends on: %s. All are complete.\n\n", strings.Join(t.DependsOn, ", "))
	}

	b.WriteString(planSummary(p, t.ID))

	fmt.Fprintf(&b, `### Completion Protocol

When you finish — whether you succeed, fail, or need to suspend pending an
answer to a question — write a JSON completion record to:

  %s

Schema:

  {
    "schema_version": %d,
    "task_id": %q,
    "status": "completed" | "failed" | "suspended",
    "message": "<short summary>",
    "timestamp": "<RFC3339>",
    "plan_modified": <true if you edited the plan document itself>,
    "question": {"text": "...", "context": "..."}  // only if status=suspended
  }

Do not omit this file. An agent that exits without writing it is treated as
failed: no status file written.
`, completion.PathFor("."), types.CurrentCompletionSchemaVersion, t.ID)

	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "none recorded"
	}
	return s
}

// planSummary renders a compact, read-only view of the plan's other tasks
// so the agent has enough context to understand where its task fits
// without re-deriving the whole DAG from the document itself.
func planSummary(p *types.Plan, currentID string) string {
	var b strings.Builder
	b.WriteString("### Plan Context\n\n")
	for _, s := range p.Sections {
		fmt.Fprintf(&b, "- Section %s: %s [%s]\n", s.ID, s.Name, s.Status)
		for _, t := range s.Tasks {
			marker := " "
			if t.ID == currentID {
				marker = ">"
			}
			fmt.Fprintf(&b, "  %s %s %s [%s]\n", marker, t.ID, t.Name, t.Status)
		}
	}
	b.WriteString("\n")
	return b.String()
}
