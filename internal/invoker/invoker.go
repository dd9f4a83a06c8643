// Package invoker spawns the external agent subprocess, streams its
// output, enforces a timeout, and parses its CompletionRecord.
package invoker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/foreman-run/foreman/internal/completion"
	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/llm"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/types"
)

// DefaultTimeout is the default per-task subprocess timeout.
const DefaultTimeout = 15 * time.Minute

// RateLimitBuffer is added to the parsed reset time before retrying.
const RateLimitBuffer = 30 * time.Second

// Result is the outcome of one Invoke call, translated from either a
// well-formed CompletionRecord or one of the recognized
// protocol-violation/transient-failure conditions.
type Result struct {
	Outcome        types.AgentOutcome
	Message        string
	PlanModified   bool
	Question       *types.Question
	Tokens         TokenStats
	EffectiveModel string
	RateLimited    bool // attempt consumed no budget; caller must retry
}

// Request carries everything one invocation needs beyond the Environment.
type Request struct {
	Plan       *types.Plan
	Task       *types.Task
	Attempt    int // 1-based
	WorkDir    string
	Profile    *permission.Spec
	Timeout    time.Duration
	Sink       LineSink
}

type pidGetter interface {
	Pid() int
}

// Invoke runs exactly one agent attempt end to end. A rate-limit hit
// returns Result{RateLimited: true} without consulting the CompletionRecord
// at all — the caller is expected to sleep (already done here) and retry
// the same attempt, which is why RateLimited short-circuits before attempt
// bookkeeping.
func Invoke(ctx context.Context, env *Environment, req Request) (Result, error) {
	if err := permission.ValidateHeadless(req.Profile); err != nil {
		return Result{}, err
	}

	model := ""
	if req.Plan.Meta.ModelEscalation != nil {
		model = req.Plan.Meta.ModelEscalation.EffectiveModel(req.Task.StartingModel, req.Attempt)
	} else {
		model = req.Task.StartingModel
	}

	if err := completion.Clear(req.WorkDir); err != nil {
		return Result{}, err
	}

	prompt := BuildPrompt(req.Plan, req.Task, req.Attempt, req.Profile.Profile)
	if preamble := ReadRolePreamble(env.RolePreambleDir, req.Task.AgentRole); preamble != "" {
		prompt = preamble + "\n\n" + prompt
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backend := env.Backend()
	rc, err := backend.Execute(runCtx, llm.ExecuteOptions{
		Prompt:       prompt,
		Model:        model,
		AllowedTools: req.Profile.AllowedTools,
		WorkDir:      req.WorkDir,
		Env:          env.EnvSlice(),
	})
	if err != nil {
		return Result{EffectiveModel: model}, fmt.Errorf("spawn agent: %v: %w", err, errkind.Transient)
	}

	if pg, ok := rc.(pidGetter); ok {
		killOnTimeout(runCtx, pg)
	}

	streamResult, readErr := ConsumeStream(rc, req.Sink)
	closeErr := rc.Close()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{EffectiveModel: model, Message: "timeout"}, fmt.Errorf("agent exceeded %s timeout: %w", timeout, errkind.Transient)
	}
	if readErr != nil {
		return Result{EffectiveModel: model}, fmt.Errorf("read agent output: %v: %w", readErr, errkind.Transient)
	}

	if reset, ok := ScanRateLimit(streamResult.RawText); ok {
		sleepUntil := reset.Add(RateLimitBuffer)
		if d := time.Until(sleepUntil); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return Result{EffectiveModel: model}, ctx.Err()
			}
		}
		return Result{EffectiveModel: model, Tokens: streamResult.Tokens, RateLimited: true}, nil
	}

	if closeErr != nil {
		return Result{EffectiveModel: model, Tokens: streamResult.Tokens}, fmt.Errorf("agent exited with error: %v: %w", closeErr, errkind.AgentFailure)
	}

	rec, err := completion.Read(req.WorkDir)
	if err != nil {
		return Result{
			EffectiveModel: model,
			Tokens:         streamResult.Tokens,
			Outcome:        types.OutcomeFailed,
			Message:        err.Error(),
		}, err
	}

	if rec.TaskID != req.Task.ID {
		msg := fmt.Sprintf("completion record task_id %q does not match spawned task %q", rec.TaskID, req.Task.ID)
		return Result{
			EffectiveModel: model,
			Tokens:         streamResult.Tokens,
			Outcome:        types.OutcomeFailed,
			Message:        msg,
		}, fmt.Errorf("%s: %w", msg, errkind.ProtocolViolation)
	}

	return Result{
		EffectiveModel: model,
		Tokens:         streamResult.Tokens,
		Outcome:        rec.Status,
		Message:        rec.Message,
		PlanModified:   rec.PlanModified,
		Question:       rec.Question,
	}, nil
}

func killOnTimeout(ctx context.Context, pg pidGetter) {
	go func() {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			_ = llm.KillProcessGroup(pg.Pid())
		}
	}()
}

// PlanPrefix truncates a plan filename to a compact form with an ellipsis,
// for the log-prefix convention used on every error surface.
func PlanPrefix(planPath string) string {
	name := filepath.Base(planPath)
	const max = 24
	if len(name) <= max {
		return name
	}
	return name[:max-3] + "..."
}

// ReadRolePreamble loads the markdown file associated with an agent role.
// The role name is opaque to the core; this just resolves
// "<dir>/<role>.md" and returns its contents, or empty string if the role
// has no preamble file configured.
func ReadRolePreamble(dir, role string) string {
	if dir == "" || role == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, role+".md"))
	if err != nil {
		return ""
	}
	return string(data)
}
