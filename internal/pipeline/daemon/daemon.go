// Package daemon implements the pipeline's main loop: scan the backlog,
// drive each candidate WorkItem through plan-creation, execution,
// verification, and retry-or-archive, watching channels for
// inbound reports between scans.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/foreman-run/foreman/internal/invoker"
	"github.com/foreman-run/foreman/internal/llm"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/pipeline/archive"
	"github.com/foreman-run/foreman/internal/pipeline/channels"
	"github.com/foreman-run/foreman/internal/pipeline/intake"
	"github.com/foreman-run/foreman/internal/pipeline/scanner"
	"github.com/foreman-run/foreman/internal/pipeline/verify"
	"github.com/foreman-run/foreman/internal/pipeline/workitem"
	"github.com/foreman-run/foreman/internal/plan"
	"github.com/foreman-run/foreman/internal/types"
	"github.com/foreman-run/foreman/internal/utils"
)

// Config bundles everything the daemon needs to run one pipeline cycle.
type Config struct {
	Env              *invoker.Environment
	Logger           *slog.Logger
	BacklogRoots     map[types.WorkItemType]string
	ArchiveRoot      string
	PlanDir          string // where generated plan YAML files live
	ForemanBinary    string // path to the orchestrator binary, invoked as a subprocess
	MaxCycles        int
	VerifyProfile    *permission.Spec
	IntakeProfile    *permission.Spec
	PlanProfile      *permission.Spec
	Model            string
	QuiescenceWindow time.Duration
	QuestionsChannel string // where a suspended task's question is announced
}

// Daemon owns one pipeline run.
type Daemon struct {
	cfg      Config
	scanner  *scanner.Scanner
	archiver *archive.Archiver
	intaker  *intake.Intaker
	verifier *verify.Verifier

	mu      sync.Mutex
	pending map[string]string // suspended task id -> plan path

	notify func(ctx context.Context, channel, text string) error
}

func New(cfg Config, archiver *archive.Archiver) *Daemon {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = verify.DefaultMaxCycles
	}

	d := &Daemon{cfg: cfg, archiver: archiver, pending: map[string]string{}}
	d.scanner = &scanner.Scanner{
		Roots:     cfg.BacklogRoots,
		Archive:   archiver.Move,
		Completed: archiver.CompletedSlugs,
	}
	d.intaker = &intake.Intaker{Env: cfg.Env, Roots: cfg.BacklogRoots, Profile: cfg.IntakeProfile, Model: cfg.Model}
	d.verifier = &verify.Verifier{Env: cfg.Env, Profile: cfg.VerifyProfile, Model: cfg.Model}
	return d
}

// SetNotifier wires the function the daemon uses to post a message back
// out to a channel: a suspended task's question when one is discovered,
// and an inbound question's answer. Without one, suspended tasks are
// still tracked and resumable, just never announced.
func (d *Daemon) SetNotifier(fn func(ctx context.Context, channel, text string) error) {
	d.notify = fn
}

// Sweep runs the startup recovery sweep standalone.
func (d *Daemon) Sweep() error {
	dirs := []string{d.cfg.ArchiveRoot, d.cfg.PlanDir}
	for _, r := range d.cfg.BacklogRoots {
		dirs = append(dirs, filepath.Join(r, "completed"))
	}
	return d.archiver.StartupSweep(dirs)
}

// RunOnce scans the backlog once and drives every ready candidate through
// one pass of plan-creation, execution, and verification.
func (d *Daemon) RunOnce(ctx context.Context) error {
	candidates, err := d.scanner.Scan()
	if err != nil {
		return fmt.Errorf("scan backlog: %w", err)
	}

	for _, w := range candidates {
		if err := d.processItem(ctx, w); err != nil {
			d.cfg.Logger.Error("pipeline item failed", "slug", w.Slug, "err", err)
		}
	}
	return nil
}

// IngestText runs the intake pipeline on free-form channel text and
// returns the created WorkItem's path.
func (d *Daemon) IngestText(ctx context.Context, raw string) (string, error) {
	a, _, err := d.intaker.Classify(ctx, raw)
	if err != nil {
		return "", err
	}
	return d.intaker.Write(a, !a.Complete(), time.Now())
}

func (d *Daemon) processItem(ctx context.Context, w *types.WorkItem) error {
	planPath := d.planPathFor(w)

	if _, err := os.Stat(planPath); os.IsNotExist(err) {
		if err := d.createPlan(ctx, w, planPath); err != nil {
			return fmt.Errorf("create plan for %s: %w", w.Slug, err)
		}
	}

	if err := d.execute(ctx, planPath); err != nil {
		return fmt.Errorf("execute plan for %s: %w", w.Slug, err)
	}

	if err := d.trackSuspended(ctx, planPath); err != nil {
		d.cfg.Logger.Warn("failed to track suspended tasks", "slug", w.Slug, "err", err)
	}

	if w.Type != types.WorkItemDefect {
		return workitem.SetStatus(w, types.WorkItemCompleted)
	}

	return d.verifyAndRetry(ctx, w, planPath)
}

func (d *Daemon) planPathFor(w *types.WorkItem) string {
	return filepath.Join(d.cfg.PlanDir, w.Slug+".plan.yaml")
}

// createPlan asks a design-profile agent to author the plan document for
// a WorkItem directly at planPath. Plan authoring is not itself a task
// within the plan it produces. If the agent does not leave a file behind
// — e.g. the design profile has no configured backend — a minimal stub
// plan is written instead so the orchestrator still has something to
// schedule against.
func (d *Daemon) createPlan(ctx context.Context, w *types.WorkItem, planPath string) error {
	if d.cfg.PlanProfile != nil {
		if err := permission.ValidateHeadless(d.cfg.PlanProfile); err == nil {
			rc, execErr := d.cfg.Env.Backend().Execute(ctx, llm.ExecuteOptions{
				Prompt:       buildPlanPrompt(w, planPath),
				Model:        d.cfg.Model,
				AllowedTools: d.cfg.PlanProfile.AllowedTools,
				WorkDir:      d.cfg.Env.ProjectRoot,
				Env:          d.cfg.Env.EnvSlice(),
			})
			if execErr == nil {
				_, _ = invoker.ConsumeStream(rc, nil)
				_ = rc.Close()
				if _, statErr := os.Stat(planPath); statErr == nil {
					return nil
				}
			}
		}
	}

	return os.WriteFile(planPath, []byte(planStub(w)), 0o644)
}

func buildPlanPrompt(w *types.WorkItem, planPath string) string {
	return fmt.Sprintf(`Author a plan document for the following work item and write it to
%s using the schema the orchestrator expects (meta, sections, tasks with
depends_on / exclusive_resources / agent_role as needed).

### Item (%s)

%s
`, planPath, w.Slug, w.Body)
}

func planStub(w *types.WorkItem) string {
	name := utils.ExtractPlanName(w.Body)
	return fmt.Sprintf(`meta:
  name: %s
  description: %s
  plan_doc: %s
  max_attempts_default: 3
sections: []
`, w.Slug, name, w.Path)
}

// execute invokes the orchestrator as a subprocess on the generated plan.
func (d *Daemon) execute(ctx context.Context, planPath string) error {
	cmd := exec.CommandContext(ctx, d.cfg.ForemanBinary, planPath)
	cmd.Dir = d.cfg.Env.ProjectRoot
	cmd.Env = d.cfg.Env.EnvSlice()
	out, err := cmd.CombinedOutput()
	d.cfg.Logger.Info("orchestrator subprocess finished", "plan", planPath, "output", string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if !asExitError(err, &exitErr) {
			return err
		}
		// Exit code 1 (deadlock/fatal) is a legitimate pipeline-visible
		// outcome, not a daemon crash; processItem goes on to its next
		// stage either way. Any other launch failure propagates.
	}
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// verifyAndRetry implements the FAIL -> delete-plan -> replan
// loop, bounded by MaxCycles and re-entrant across daemon restarts via
// the WorkItem's persisted verification log length.
func (d *Daemon) verifyAndRetry(ctx context.Context, w *types.WorkItem, planPath string) error {
	cycle := len(w.VerificationLog)
	for cycle < d.cfg.MaxCycles {
		verdict, err := d.verifier.Run(ctx, w, time.Now())
		if err != nil {
			return err
		}
		cycle++

		if verdict != types.VerdictFail {
			return workitem.SetStatus(w, types.WorkItemFixed)
		}

		if cycle >= d.cfg.MaxCycles {
			break
		}

		if err := os.Remove(planPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale plan for retry: %w", err)
		}
		if err := d.createPlan(ctx, w, planPath); err != nil {
			return err
		}
		if err := d.execute(ctx, planPath); err != nil {
			return err
		}
	}

	if err := os.Remove(planPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove exhausted plan before archive: %w", err)
	}
	if err := workitem.SetStatus(w, types.WorkItemArchivedFailed); err != nil {
		return err
	}
	return d.archiver.Move(w)
}

// RouteInbound classifies and dispatches one inbound channel message
// according to its channel role.
func (d *Daemon) RouteInbound(ctx context.Context, role types.ChannelRole, msg channels.Message, controlFn func(verb string)) error {
	switch role {
	case types.ChannelDefects, types.ChannelFeatures:
		_, err := d.IngestText(ctx, msg.Text)
		return err
	case types.ChannelNotifications:
		verb := firstWord(msg.Text)
		switch verb {
		case "stop", "pause", "status":
			if controlFn != nil {
				controlFn(verb)
			}
		}
		return nil
	case types.ChannelQuestions:
		if firstWord(msg.Text) == "resume" {
			taskID, answer, ok := parseResumeCommand(msg.Text)
			if !ok {
				return fmt.Errorf("malformed resume command: %q", msg.Text)
			}
			return d.resumeTask(taskID, answer)
		}
		return d.answerQuestion(ctx, msg)
	default:
		return nil
	}
}

// trackSuspended loads the plan at planPath and records any suspended
// task not already tracked, posting its question to the questions
// channel so a human can reply with "resume <task-id>: <answer>".
func (d *Daemon) trackSuspended(ctx context.Context, planPath string) error {
	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}

	for _, t := range p.Tasks() {
		if t.Status != types.TaskSuspended {
			continue
		}

		d.mu.Lock()
		_, tracked := d.pending[t.ID]
		if !tracked {
			d.pending[t.ID] = planPath
		}
		d.mu.Unlock()

		if tracked || d.notify == nil || d.cfg.QuestionsChannel == "" {
			continue
		}
		text := fmt.Sprintf("Task %s is suspended: %s\nReply with \"resume %s: <answer>\" to continue.", t.ID, questionText(t), t.ID)
		if err := d.notify(ctx, d.cfg.QuestionsChannel, text); err != nil {
			d.cfg.Logger.Warn("failed to announce suspended task", "task", t.ID, "err", err)
		}
	}
	return nil
}

// questionText recovers the question text applyResult recorded when it
// suspended t, falling back to the result message if none was recorded.
func questionText(t *types.Task) string {
	const prefix = "suspended: "
	for i := len(t.ValidationFindings) - 1; i >= 0; i-- {
		if strings.HasPrefix(t.ValidationFindings[i], prefix) {
			return strings.TrimPrefix(t.ValidationFindings[i], prefix)
		}
	}
	return t.ResultMessage
}

// resumeTask completes the suspend -> notify -> answer -> resume
// protocol: it loads the plan tracked for taskID, reinstates the
// suspended task to pending with the answer appended, and saves the
// plan so the next execute() cycle picks it back up.
func (d *Daemon) resumeTask(taskID, answer string) error {
	d.mu.Lock()
	planPath, ok := d.pending[taskID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("no suspended task tracked with id %q", taskID)
	}

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	resumed, err := plan.ResumeSuspended(p, taskID, answer)
	if err != nil {
		return err
	}
	if !resumed {
		return fmt.Errorf("task %q is not currently suspended", taskID)
	}
	if err := plan.Save(p, planPath); err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.pending, taskID)
	d.mu.Unlock()
	return nil
}

func parseResumeCommand(text string) (taskID, answer string, ok bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(text, "resume"))
	idx := strings.Index(rest, ":")
	if idx < 0 {
		return "", "", false
	}
	taskID = strings.TrimSpace(rest[:idx])
	answer = strings.TrimSpace(rest[idx+1:])
	if taskID == "" {
		return "", "", false
	}
	return taskID, answer, true
}

// answerQuestion runs a small LLM call over the question text using the
// intaker's configured backend and posts the reply back to the channel
// it arrived on. A nil Env, nil IntakeProfile, or unwired notifier all
// make this a silent no-op rather than a panic.
func (d *Daemon) answerQuestion(ctx context.Context, msg channels.Message) error {
	if d.cfg.Env == nil || d.notify == nil || d.cfg.IntakeProfile == nil {
		return nil
	}
	if err := permission.ValidateHeadless(d.cfg.IntakeProfile); err != nil {
		return err
	}

	rc, err := d.cfg.Env.Backend().Execute(ctx, llm.ExecuteOptions{
		Prompt:       buildAnswerPrompt(msg.Text),
		Model:        d.cfg.Model,
		AllowedTools: d.cfg.IntakeProfile.AllowedTools,
		WorkDir:      d.cfg.Env.ProjectRoot,
		Env:          d.cfg.Env.EnvSlice(),
	})
	if err != nil {
		return fmt.Errorf("spawn question-answering agent: %w", err)
	}
	defer rc.Close()

	result, err := invoker.ConsumeStream(rc, nil)
	if err != nil {
		return fmt.Errorf("read question-answering agent output: %w", err)
	}

	answer := strings.TrimSpace(result.RawText)
	if answer == "" {
		return nil
	}
	return d.notify(ctx, msg.Channel, answer)
}

func buildAnswerPrompt(question string) string {
	return fmt.Sprintf(`Answer the following question about the current state of this
project's pipeline backlog, plans, and code. Be concise and specific.

### Question

%s
`, question)
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			return s[:i]
		}
	}
	return s
}
