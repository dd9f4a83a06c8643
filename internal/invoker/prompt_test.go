package invoker

import (
	"strings"
	"testing"

	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/types"
)

func samplePlan() *types.Plan {
	return &types.Plan{
		Meta: types.Meta{Name: "01-fix-login", MaxAttemptsDefault: 3},
		Sections: []*types.Section{
			{
				ID:   "s1",
				Name: "Backend",
				Tasks: []*types.Task{
					{ID: "t1", Name: "Add handler", Status: types.TaskCompleted},
					{ID: "t2", Name: "Wire route", Status: types.TaskPending, DependsOn: []string{"t1"}, Description: "Wire the route in internal/api/router.go"},
				},
			},
		},
	}
}

func TestBuildPromptFreshAttempt(t *testing.T) {
	p := samplePlan()
	task := p.Sections[0].Tasks[1]

	got := BuildPrompt(p, task, 1, permission.Write)

	for _, want := range []string{
		"Task t2",
		"Plan: 01-fix-login",
		"Attempt: 1 of 3",
		"Permission Profile: write",
		"fresh start",
		"This task depends on: t1",
		"Wire the route in internal/api/router.go",
		completionProtocolHeading,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("BuildPrompt() missing %q in:\n%s", want, got)
		}
	}
}

func TestBuildPromptRetryIncludesLastError(t *testing.T) {
	p := samplePlan()
	task := p.Sections[0].Tasks[1]
	task.LastError = "timeout talking to upstream"

	got := BuildPrompt(p, task, 2, permission.Write)

	if !strings.Contains(got, "timeout talking to upstream") {
		t.Errorf("BuildPrompt() retry should surface LastError, got:\n%s", got)
	}
	if strings.Contains(got, "fresh start") {
		t.Errorf("BuildPrompt() retry should not claim a fresh start")
	}
}

func TestBuildPromptRetryWithNoRecordedError(t *testing.T) {
	p := samplePlan()
	task := p.Sections[0].Tasks[1]

	got := BuildPrompt(p, task, 2, permission.Write)
	if !strings.Contains(got, "none recorded") {
		t.Errorf("BuildPrompt() should fall back to 'none recorded' when LastError is empty, got:\n%s", got)
	}
}

func TestBuildPromptIncludesPlanContextMarker(t *testing.T) {
	p := samplePlan()
	task := p.Sections[0].Tasks[1]

	got := BuildPrompt(p, task, 1, permission.ReadOnly)
	if !strings.Contains(got, "> t2 Wire route") {
		t.Errorf("BuildPrompt() should mark the current task in the plan context, got:\n%s", got)
	}
}

const completionProtocolHeading = "### Completion Protocol"
