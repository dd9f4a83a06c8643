package daemon

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foreman-run/foreman/internal/pipeline/channels"
	"github.com/foreman-run/foreman/internal/plan"
	"github.com/foreman-run/foreman/internal/types"
)

func TestPlanPathForUsesSlugSuffix(t *testing.T) {
	d := &Daemon{cfg: Config{PlanDir: "/plans"}}
	w := &types.WorkItem{Slug: "01-fix-login"}
	got := d.planPathFor(w)
	want := filepath.Join("/plans", "01-fix-login.plan.yaml")
	if got != want {
		t.Errorf("planPathFor() = %q, want %q", got, want)
	}
}

func TestPlanStubIncludesSlugAndDescriptionAndPath(t *testing.T) {
	w := &types.WorkItem{Slug: "01-fix-login", Path: "/backlog/defects/01-fix-login.md", Body: "Status: Open\n\nFix the login bug. Details follow.\n"}
	stub := planStub(w)
	if !strings.Contains(stub, "name: 01-fix-login") {
		t.Errorf("planStub() = %q, want it to name the work item slug", stub)
	}
	if !strings.Contains(stub, w.Path) {
		t.Errorf("planStub() = %q, want it to reference the item path", stub)
	}
	if !strings.Contains(stub, "sections: []") {
		t.Errorf("planStub() = %q, want an empty sections stub", stub)
	}
}

func TestFirstWord(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"stop now", "stop"},
		{"pause\tplease", "pause"},
		{"status", "status"},
		{"", ""},
		{"go ahead\nand wait", "go"},
	}
	for _, tt := range tests {
		if got := firstWord(tt.in); got != tt.want {
			t.Errorf("firstWord(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRouteInboundNotificationsDispatchesKnownVerbs(t *testing.T) {
	d := &Daemon{cfg: Config{}}
	var got string
	err := d.RouteInbound(context.Background(), types.ChannelNotifications, channels.Message{Text: "pause everything"}, func(verb string) {
		got = verb
	})
	if err != nil {
		t.Fatalf("RouteInbound() unexpected error = %v", err)
	}
	if got != "pause" {
		t.Errorf("controlFn verb = %q, want pause", got)
	}
}

func TestRouteInboundNotificationsIgnoresUnknownVerbs(t *testing.T) {
	d := &Daemon{cfg: Config{}}
	called := false
	err := d.RouteInbound(context.Background(), types.ChannelNotifications, channels.Message{Text: "hello there"}, func(verb string) {
		called = true
	})
	if err != nil {
		t.Fatalf("RouteInbound() unexpected error = %v", err)
	}
	if called {
		t.Error("RouteInbound() should not dispatch an unrecognized verb")
	}
}

func TestRouteInboundQuestionsIsNoOp(t *testing.T) {
	d := &Daemon{cfg: Config{}}
	if err := d.RouteInbound(context.Background(), types.ChannelQuestions, channels.Message{Text: "what should I do?"}, nil); err != nil {
		t.Fatalf("RouteInbound() unexpected error = %v", err)
	}
}

func TestRouteInboundUnknownRoleIsNoOp(t *testing.T) {
	d := &Daemon{cfg: Config{}}
	if err := d.RouteInbound(context.Background(), types.ChannelReports, channels.Message{Text: "weekly summary"}, nil); err != nil {
		t.Fatalf("RouteInbound() unexpected error = %v", err)
	}
}

func TestParseResumeCommand(t *testing.T) {
	tests := []struct {
		in         string
		taskID     string
		answer     string
		wantParsed bool
	}{
		{"resume t1: use staging", "t1", "use staging", true},
		{"resume   t2  :  yes, go ahead", "t2", "yes, go ahead", true},
		{"resume", "", "", false},
		{"resume t1 with no colon", "", "", false},
		{"resume : missing id", "", "", false},
	}
	for _, tt := range tests {
		taskID, answer, ok := parseResumeCommand(tt.in)
		if ok != tt.wantParsed {
			t.Errorf("parseResumeCommand(%q) ok = %v, want %v", tt.in, ok, tt.wantParsed)
			continue
		}
		if !ok {
			continue
		}
		if taskID != tt.taskID || answer != tt.answer {
			t.Errorf("parseResumeCommand(%q) = (%q, %q), want (%q, %q)", tt.in, taskID, answer, tt.taskID, tt.answer)
		}
	}
}

func TestTrackSuspendedThenResumeTaskRoundTrips(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "01-fix-login.plan.yaml")
	p := &types.Plan{
		Meta: types.Meta{Name: "01-fix-login"},
		Sections: []*types.Section{{ID: "s1", Tasks: []*types.Task{
			{ID: "t1", Status: types.TaskSuspended, ValidationFindings: []string{"suspended: which database should I point at?"}},
		}}},
	}
	if err := plan.Save(p, planPath); err != nil {
		t.Fatalf("plan.Save() unexpected error = %v", err)
	}

	var posted []string
	d := &Daemon{cfg: Config{QuestionsChannel: "proj-questions"}, pending: map[string]string{}}
	d.SetNotifier(func(ctx context.Context, channel, text string) error {
		posted = append(posted, text)
		return nil
	})

	if err := d.trackSuspended(context.Background(), planPath); err != nil {
		t.Fatalf("trackSuspended() unexpected error = %v", err)
	}
	if len(posted) != 1 || !strings.Contains(posted[0], "which database should I point at?") {
		t.Fatalf("trackSuspended() posted = %v, want one message containing the question", posted)
	}

	// A second call must not re-announce an already-tracked task.
	if err := d.trackSuspended(context.Background(), planPath); err != nil {
		t.Fatalf("trackSuspended() unexpected error = %v", err)
	}
	if len(posted) != 1 {
		t.Errorf("trackSuspended() re-announced an already-tracked task, posted = %v", posted)
	}

	if err := d.resumeTask("t1", "point at staging"); err != nil {
		t.Fatalf("resumeTask() unexpected error = %v", err)
	}

	reloaded, err := plan.Load(planPath)
	if err != nil {
		t.Fatalf("plan.Load() unexpected error = %v", err)
	}
	t1 := reloaded.Tasks()[0]
	if t1.Status != types.TaskPending {
		t.Errorf("resumeTask() left status = %v, want pending", t1.Status)
	}
	if !strings.Contains(t1.Description, "point at staging") {
		t.Errorf("resumeTask() description = %q, want it to contain the answer", t1.Description)
	}
}

func TestResumeTaskUnknownIDErrors(t *testing.T) {
	d := &Daemon{cfg: Config{}, pending: map[string]string{}}
	if err := d.resumeTask("nope", "answer"); err == nil {
		t.Fatal("resumeTask() expected error for an untracked task id")
	}
}

func TestRouteInboundQuestionsDispatchesResumeCommand(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.yaml")
	p := &types.Plan{
		Meta: types.Meta{Name: "p"},
		Sections: []*types.Section{{ID: "s1", Tasks: []*types.Task{
			{ID: "t1", Status: types.TaskSuspended},
		}}},
	}
	if err := plan.Save(p, planPath); err != nil {
		t.Fatalf("plan.Save() unexpected error = %v", err)
	}

	d := &Daemon{cfg: Config{}, pending: map[string]string{"t1": planPath}}
	err := d.RouteInbound(context.Background(), types.ChannelQuestions, channels.Message{Text: "resume t1: go with staging"}, nil)
	if err != nil {
		t.Fatalf("RouteInbound() unexpected error = %v", err)
	}

	reloaded, err := plan.Load(planPath)
	if err != nil {
		t.Fatalf("plan.Load() unexpected error = %v", err)
	}
	if reloaded.Tasks()[0].Status != types.TaskPending {
		t.Errorf("RouteInbound() did not resume the task, status = %v", reloaded.Tasks()[0].Status)
	}
}

func TestAsExitErrorDistinguishesExitErrorFromOtherErrors(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 1")
	runErr := cmd.Run()
	if runErr == nil {
		t.Skip("expected the shell command to exit non-zero")
	}
	var ee *exec.ExitError
	if !asExitError(runErr, &ee) {
		t.Fatal("asExitError() = false, want true for a real *exec.ExitError")
	}
	if ee == nil {
		t.Fatal("asExitError() did not populate the target")
	}

	if asExitError(errors.New("not an exit error"), &ee) {
		t.Error("asExitError() = true for a non-ExitError, want false")
	}
}
