package orchestrator

import (
	"errors"
	"testing"

	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/invoker"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/types"
)

func invokerResult(outcome types.AgentOutcome) invoker.Result {
	return invoker.Result{Outcome: outcome}
}

func TestDefaultRoleProfile(t *testing.T) {
	tests := []struct {
		role string
		want permission.Profile
	}{
		{"verify", permission.Verify},
		{"verifier", permission.Verify},
		{"design", permission.Design},
		{"planner", permission.Design},
		{"review", permission.ReadOnly},
		{"readonly", permission.ReadOnly},
		{"read-only", permission.ReadOnly},
		{"", permission.Write},
		{"implementer", permission.Write},
	}
	for _, tt := range tests {
		if got := defaultRoleProfile(tt.role); got != tt.want {
			t.Errorf("defaultRoleProfile(%q) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestResetFromTaskResetsItAndEverythingAfter(t *testing.T) {
	p := &types.Plan{
		Sections: []*types.Section{
			{ID: "s1", Tasks: []*types.Task{
				{ID: "t1", Status: types.TaskCompleted, Attempts: 2, ResultMessage: "done"},
				{ID: "t2", Status: types.TaskFailed, Attempts: 3, LastError: "boom"},
				{ID: "t3", Status: types.TaskPending},
			}},
		},
	}

	if err := resetFromTask(p, "t2"); err != nil {
		t.Fatalf("resetFromTask() unexpected error = %v", err)
	}

	tasks := p.Tasks()
	if tasks[0].Status != types.TaskCompleted {
		t.Errorf("task before the resume point should be untouched, got %v", tasks[0].Status)
	}
	if tasks[1].Status != types.TaskPending || tasks[1].Attempts != 0 || tasks[1].LastError != "" {
		t.Errorf("resume task not fully reset: %+v", tasks[1])
	}
	if tasks[2].Status != types.TaskPending {
		t.Errorf("task after the resume point should also reset, got %v", tasks[2].Status)
	}
}

func TestResetFromTaskUnknownID(t *testing.T) {
	p := &types.Plan{Sections: []*types.Section{{ID: "s1", Tasks: []*types.Task{{ID: "t1", Status: types.TaskPending}}}}}
	err := resetFromTask(p, "does-not-exist")
	if !errors.Is(err, errkind.Configuration) {
		t.Errorf("resetFromTask() error = %v, want errkind.Configuration", err)
	}
}

func TestOutcomeOrErr(t *testing.T) {
	if got := outcomeOrErr(invokerResult(types.OutcomeCompleted), nil); got != types.OutcomeCompleted {
		t.Errorf("outcomeOrErr() = %v, want completed", got)
	}
	if got := outcomeOrErr(invokerResult(types.OutcomeCompleted), errors.New("boom")); got != types.OutcomeFailed {
		t.Errorf("outcomeOrErr() with error = %v, want failed", got)
	}
}

func TestErrMessagePrefersResultMessage(t *testing.T) {
	r := invokerResult(types.OutcomeFailed)
	r.Message = "agent said so"
	if got := errMessage(r, errors.New("wrapped")); got != "agent said so" {
		t.Errorf("errMessage() = %q, want result message preferred", got)
	}
	if got := errMessage(invokerResult(types.OutcomeFailed), errors.New("wrapped")); got != "wrapped" {
		t.Errorf("errMessage() = %q, want error text when no result message", got)
	}
	if got := errMessage(invokerResult(types.OutcomeFailed), nil); got != "" {
		t.Errorf("errMessage() = %q, want empty when neither is set", got)
	}
}
