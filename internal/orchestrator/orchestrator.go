// Package orchestrator drives the plan-execution loop: it ties the
// scheduler, invoker, stash, worktree manager, circuit breaker, and stop
// semaphore together into a single-threaded event loop.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/foreman-run/foreman/internal/breaker"
	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/gitutil"
	"github.com/foreman-run/foreman/internal/invoker"
	"github.com/foreman-run/foreman/internal/metrics"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/plan"
	"github.com/foreman-run/foreman/internal/scheduler"
	"github.com/foreman-run/foreman/internal/semaphore"
	"github.com/foreman-run/foreman/internal/stash"
	"github.com/foreman-run/foreman/internal/types"
	"github.com/foreman-run/foreman/internal/worktree"
)

// ExitCode is the process exit code returned by Run.
type ExitCode int

const (
	ExitSuccess       ExitCode = 0
	ExitDeadlockOrFatal ExitCode = 1
	ExitStopped       ExitCode = 2
	ExitBreakerOpen   ExitCode = 3
)

// Options mirrors the orchestrator CLI surface.
type Options struct {
	DryRun     bool
	SingleTask bool
	ResumeFrom string
	Parallel   bool
	Verbose    bool
	SkipSmoke  bool
	Timeout    time.Duration

	RoleProfile func(role string) permission.Profile
	RolePreambleDir string
}

// Orchestrator owns everything needed to run a single plan to completion.
type Orchestrator struct {
	Env     *invoker.Environment
	Logger  *slog.Logger
	Opts    Options
	planPath string
	repo    *gitutil.Repo
}

func New(env *invoker.Environment, logger *slog.Logger, planPath string, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RoleProfile == nil {
		opts.RoleProfile = defaultRoleProfile
	}
	return &Orchestrator{
		Env:      env,
		Logger:   logger,
		Opts:     opts,
		planPath: planPath,
		repo:     gitutil.New(env.ProjectRoot),
	}
}

func defaultRoleProfile(role string) permission.Profile {
	switch role {
	case "verify", "verifier":
		return permission.Verify
	case "design", "planner":
		return permission.Design
	case "review", "readonly", "read-only":
		return permission.ReadOnly
	default:
		return permission.Write
	}
}

func (o *Orchestrator) logPrefix() string {
	return invoker.PlanPrefix(o.planPath)
}

// Run executes the plan to completion, returning the process exit code.
func (o *Orchestrator) Run(ctx context.Context) (ExitCode, error) {
	planDir := filepath.Dir(o.planPath)
	if err := semaphore.ClearStale(planDir); err != nil {
		o.Logger.Warn("failed to clear stale stop semaphore", "plan", o.logPrefix(), "err", err)
	}

	p, err := plan.Load(o.planPath)
	if err != nil {
		o.Logger.Error("failed to load plan", "plan", o.logPrefix(), "err", err)
		return ExitDeadlockOrFatal, err
	}

	cb := breaker.New(breaker.DefaultThreshold, breaker.DefaultCooldown)

	if o.Opts.ResumeFrom != "" {
		if err := resetFromTask(p, o.Opts.ResumeFrom); err != nil {
			return ExitDeadlockOrFatal, err
		}
	}

	for {
		if semaphore.Present(planDir) {
			o.Logger.Info("stop semaphore present, exiting without starting new task", "plan", o.logPrefix())
			return ExitStopped, nil
		}

		if cb.Open(time.Now()) {
			metrics.BreakerState.Set(1)
			sleepUntilOrCtx(ctx, cb.OpenUntil())
			if ctx.Err() != nil {
				o.Logger.Info("context cancelled while breaker open", "plan", o.logPrefix())
				return ExitBreakerOpen, ctx.Err()
			}
			continue
		}
		metrics.BreakerState.Set(0)

		plan.RecomputeSectionStatus(p)

		var batch []*types.Task
		if o.Opts.Parallel {
			batch = scheduler.ParallelBatch(p)
		}
		if len(batch) == 0 {
			tick := scheduler.Next(p)
			switch tick.Outcome {
			case scheduler.Done:
				p.Meta.Status = types.PlanCompleted
				if err := plan.Save(p, o.planPath); err != nil {
					return ExitDeadlockOrFatal, err
				}
				o.Logger.Info("plan completed", "plan", o.logPrefix())
				return ExitSuccess, nil
			case scheduler.Deadlocked:
				deadlockErr := scheduler.MarkDeadlocked(p)
				_ = plan.Save(p, o.planPath)
				o.Logger.Error("plan deadlocked", "plan", o.logPrefix())
				return ExitDeadlockOrFatal, deadlockErr
			default:
				if len(tick.Tasks) == 0 {
					// Nothing runnable yet but not deadlocked either:
					// every remaining task is waiting on a dependency that
					// is itself still pending or in_progress with no agent
					// actually running it. A correctly-modeled DAG driven
					// by this single-threaded loop never reaches this
					// state on its own; it means a task got stuck outside
					// the scheduler's view. Fail loudly rather than
					// reporting the plan complete.
					stuckErr := fmt.Errorf("no runnable tasks but plan not done or deadlocked: %w", errkind.Deadlock)
					p.Meta.Status = types.PlanFailed
					_ = plan.Save(p, o.planPath)
					o.Logger.Error("plan stuck: scheduler produced an empty runnable tick", "plan", o.logPrefix())
					return ExitDeadlockOrFatal, stuckErr
				}
				batch = tick.Tasks
			}
		}

		if err := o.runBatch(ctx, p, batch, cb); err != nil {
			if errkind.Is(err, errkind.Deadlock) {
				_ = plan.Save(p, o.planPath)
				return ExitDeadlockOrFatal, err
			}
			return ExitDeadlockOrFatal, err
		}

		if err := plan.Save(p, o.planPath); err != nil {
			return ExitDeadlockOrFatal, err
		}

		if o.Opts.SingleTask {
			return ExitSuccess, nil
		}
	}
}

func sleepUntilOrCtx(ctx context.Context, until time.Time) {
	d := time.Until(until)
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func resetFromTask(p *types.Plan, taskID string) error {
	found := false
	for _, t := range p.Tasks() {
		if found || t.ID == taskID {
			found = true
			t.Status = types.TaskPending
			t.Attempts = 0
			t.CompletedAt = nil
			t.ResultMessage = ""
			t.LastError = ""
		}
	}
	if !found {
		return fmt.Errorf("resume-from task %q not found in plan: %w", taskID, errkind.Configuration)
	}
	return nil
}
