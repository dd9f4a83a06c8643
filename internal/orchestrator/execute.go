package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/foreman-run/foreman/internal/breaker"
	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/invoker"
	"github.com/foreman-run/foreman/internal/metrics"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/plan"
	"github.com/foreman-run/foreman/internal/stash"
	"github.com/foreman-run/foreman/internal/types"
	"github.com/foreman-run/foreman/internal/worktree"
)

// runBatch executes one scheduler tick's worth of tasks: a single task via
// the stash-isolated main working copy, or several via isolated worktrees
// when a genuine parallel opportunity was found.
func (o *Orchestrator) runBatch(ctx context.Context, p *types.Plan, batch []*types.Task, cb *breaker.Breaker) error {
	if o.Opts.DryRun {
		for _, t := range batch {
			o.Logger.Info("dry-run: would execute task", "plan", o.logPrefix(), "task", t.ID)
		}
		return nil
	}

	if len(batch) == 1 {
		return o.runSingle(ctx, p, batch[0], cb)
	}
	return o.runParallel(ctx, p, batch, cb)
}

func (o *Orchestrator) runSingle(ctx context.Context, p *types.Plan, t *types.Task, cb *breaker.Breaker) error {
	t.Status = types.TaskInProgress
	if err := plan.Save(p, o.planPath); err != nil {
		return err
	}

	planPaths := []string{o.planPath}
	h, err := stash.Push(o.repo, planPaths)
	if err != nil {
		return fmt.Errorf("stash before task %s: %w", t.ID, err)
	}
	defer func() {
		if popErr := h.Pop(); popErr != nil {
			o.Logger.Error("stash pop failed", "plan", o.logPrefix(), "task", t.ID, "err", popErr)
		}
	}()

	result, invokeErr := o.attemptWithRetry(ctx, p, t, o.Env.ProjectRoot)
	return o.applyResult(p, t, result, invokeErr, cb)
}

// attemptWithRetry runs invoker.Invoke in a loop, handling rate-limit
// retries (uncounted) and attempt-bounded retries (counted).
func (o *Orchestrator) attemptWithRetry(ctx context.Context, p *types.Plan, t *types.Task, workDir string) (invoker.Result, error) {
	profileName := o.Opts.RoleProfile(t.AgentRole)
	profileSpec, err := permission.Resolve(profileName)
	if err != nil {
		return invoker.Result{}, err
	}

	maxAttempts := t.EffectiveMaxAttempts(p.Meta.MaxAttemptsDefault)

	for {
		attempt := t.Attempts + 1
		start := time.Now()

		req := invoker.Request{
			Plan:    p,
			Task:    t,
			Attempt: attempt,
			WorkDir: workDir,
			Profile: profileSpec,
			Timeout: o.Opts.Timeout,
			Sink: func(line string) {
				if o.Opts.Verbose {
					o.Logger.Info(line, "plan", o.logPrefix(), "task", t.ID)
				}
			},
		}

		result, err := invoker.Invoke(ctx, o.Env, req)

		if result.RateLimited {
			o.Logger.Warn("rate limited, retrying without consuming attempt budget", "plan", o.logPrefix(), "task", t.ID)
			continue
		}

		metrics.TaskDuration.WithLabelValues(string(outcomeOrErr(result, err))).Observe(time.Since(start).Seconds())

		if err != nil {
			t.Attempts = attempt
			if t.Attempts >= maxAttempts {
				return result, err
			}
			if errkind.Is(err, errkind.Transient) {
				// Timeout/spawn failure: counted against the attempt cap,
				// but otherwise treated the same as an agent-reported
				// failure for retry purposes.
			}
			t.Status = types.TaskPending
			t.LastError = errMessage(result, err)
			o.Logger.Warn("attempt failed, will retry", "plan", o.logPrefix(), "task", t.ID, "attempt", attempt, "max", maxAttempts, "err", t.LastError)
			t.Status = types.TaskInProgress
			continue
		}

		t.Attempts = attempt
		if result.Outcome == types.OutcomeFailed && t.Attempts < maxAttempts {
			t.LastError = errMessage(result, nil)
			o.Logger.Warn("attempt failed, will retry", "plan", o.logPrefix(), "task", t.ID, "attempt", attempt, "max", maxAttempts, "err", t.LastError)
			continue
		}
		return result, nil
	}
}

func outcomeOrErr(r invoker.Result, err error) types.AgentOutcome {
	if err != nil {
		return types.OutcomeFailed
	}
	return r.Outcome
}

func errMessage(r invoker.Result, err error) string {
	if r.Message != "" {
		return r.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// applyResult translates an invocation's outcome into the task transition
// and circuit-breaker update.
func (o *Orchestrator) applyResult(p *types.Plan, t *types.Task, result invoker.Result, invokeErr error, cb *breaker.Breaker) error {
	now := time.Now()

	if invokeErr != nil && t.Attempts >= t.EffectiveMaxAttempts(p.Meta.MaxAttemptsDefault) {
		t.ApplyDone(types.OutcomeFailed, errMessage(result, invokeErr), now)
		cb.RecordFailure(now)
		return nil
	}

	switch result.Outcome {
	case types.OutcomeCompleted:
		t.ApplyDone(types.OutcomeCompleted, result.Message, now)
		cb.RecordSuccess()
	case types.OutcomeSuspended:
		t.Status = types.TaskSuspended
		t.ResultMessage = result.Message
		if result.Question != nil {
			t.ValidationFindings = append(t.ValidationFindings, fmt.Sprintf("suspended: %s", result.Question.Text))
		}
	case types.OutcomeFailed:
		t.ApplyDone(types.OutcomeFailed, result.Message, now)
		cb.RecordFailure(now)
	}

	if result.PlanModified {
		reloaded, err := plan.Load(o.planPath)
		if err != nil {
			return fmt.Errorf("reload plan after agent modification: %w", err)
		}
		*p = *reloaded
	}

	return nil
}

// runParallel executes a conflict-free batch concurrently, each task in
// its own worktree, then joins before advancing the scheduler.
func (o *Orchestrator) runParallel(ctx context.Context, p *types.Plan, batch []*types.Task, cb *breaker.Breaker) error {
	for _, t := range batch {
		t.Status = types.TaskInProgress
	}
	if err := plan.Save(p, o.planPath); err != nil {
		return err
	}

	type outcome struct {
		task   *types.Task
		result invoker.Result
		err    error
		wt     *worktree.Worktree
	}

	results := make([]outcome, len(batch))
	var wg sync.WaitGroup
	for i, t := range batch {
		wg.Add(1)
		go func(i int, t *types.Task) {
			defer wg.Done()
			wt, err := worktree.Create(o.repo, filepath.Join(filepath.Dir(o.planPath), ".worktrees"))
			if err != nil {
				results[i] = outcome{task: t, err: err}
				return
			}
			t.WorktreeID = wt.ID
			res, err := o.attemptWithRetry(ctx, p, t, wt.Dir)
			results[i] = outcome{task: t, result: res, err: err, wt: wt}
		}(i, t)
	}
	wg.Wait()

	for _, r := range results {
		if r.wt == nil {
			_ = o.applyResult(p, r.task, r.result, r.err, cb)
			continue
		}
		if r.err == nil && r.result.Outcome == types.OutcomeCompleted {
			copied, copyErr := r.wt.CopyBack(o.Env.ProjectRoot)
			if copyErr != nil {
				o.Logger.Error("copy-back from worktree failed", "plan", o.logPrefix(), "task", r.task.ID, "err", copyErr)
			} else if len(copied) > 0 {
				if err := o.repo.Add(copied...); err != nil {
					o.Logger.Error("stage copy-back files failed", "plan", o.logPrefix(), "task", r.task.ID, "err", err)
				} else if has, _ := o.repo.HasChanges(); has {
					msg := fmt.Sprintf("task %s: %s", r.task.ID, r.task.ResultMessage)
					if err := o.repo.Commit(msg); err != nil {
						o.Logger.Error("orchestrator commit failed", "plan", o.logPrefix(), "task", r.task.ID, "err", err)
					}
				}
			}
		}
		_ = o.applyResult(p, r.task, r.result, r.err, cb)
		if err := r.wt.Remove(); err != nil {
			o.Logger.Warn("failed to remove worktree", "plan", o.logPrefix(), "task", r.task.ID, "worktree", r.wt.ID, "err", err)
		}
	}

	return nil
}
