// Command foreman is the Plan Orchestrator: it drives a single plan
// document to completion, spawning one agent subprocess per task.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foreman-run/foreman/internal/config"
	"github.com/foreman-run/foreman/internal/display"
	"github.com/foreman-run/foreman/internal/invoker"
	"github.com/foreman-run/foreman/internal/orchestrator"
	"github.com/foreman-run/foreman/internal/permission"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(orchestrator.ExitDeadlockOrFatal))
	}
}

func newRootCmd() *cobra.Command {
	var opts orchestrator.Options
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:           "foreman <plan.yaml>",
		Short:         "Drive a plan document to completion, one task at a time",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeoutSeconds > 0 {
				opts.Timeout = time.Duration(timeoutSeconds) * time.Second
			}
			code, err := run(cmd.Context(), args[0], opts)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(int(code))
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print what would run without spawning agents")
	cmd.Flags().BoolVar(&opts.SingleTask, "single-task", false, "run exactly one scheduler tick and exit")
	cmd.Flags().StringVar(&opts.ResumeFrom, "resume-from", "", "reset this task (and everything after it) to pending before running")
	cmd.Flags().BoolVar(&opts.Parallel, "parallel", false, "enable parallel batch execution via worktree isolation")
	cmd.Flags().BoolVar(&opts.Verbose, "verbose", false, "stream full agent output")
	cmd.Flags().BoolVar(&opts.SkipSmoke, "skip-smoke", false, "skip the pre-flight permission/config validation pass")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "per-task timeout in seconds (default 900)")

	return cmd
}

func run(ctx context.Context, planPath string, opts orchestrator.Options) (orchestrator.ExitCode, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	projectRoot, err := os.Getwd()
	if err != nil {
		return orchestrator.ExitDeadlockOrFatal, err
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return orchestrator.ExitDeadlockOrFatal, fmt.Errorf("load config: %w", err)
	}

	rolePreambleDir := filepath.Join(projectRoot, ".foreman", "roles")
	env, err := invoker.NewEnvironment(projectRoot, cfg.Agent.Binary, rolePreambleDir)
	if err != nil {
		return orchestrator.ExitDeadlockOrFatal, err
	}

	if !opts.SkipSmoke {
		if err := smokeTest(cfg); err != nil {
			return orchestrator.ExitDeadlockOrFatal, fmt.Errorf("pre-flight validation failed: %w", err)
		}
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	opts.RoleProfile = roleProfileFunc(cfg)
	opts.RolePreambleDir = rolePreambleDir

	dsp := display.New()
	if opts.Verbose {
		dsp.Header()
	}

	orch := orchestrator.New(env, logger, planPath, opts)
	return orch.Run(ctx)
}

// smokeTest validates every configured role's permission profile is
// headless-safe before the first agent is ever spawned.
func smokeTest(cfg *config.Config) error {
	for name, role := range cfg.Roles {
		profile := permission.Profile(role.Profile)
		if profile == "" {
			profile = permission.Write
		}
		spec, err := permission.Resolve(profile)
		if err != nil {
			return fmt.Errorf("role %q: %w", name, err)
		}
		if err := permission.ValidateHeadless(spec); err != nil {
			return fmt.Errorf("role %q: %w", name, err)
		}
	}
	return nil
}

func roleProfileFunc(cfg *config.Config) func(string) permission.Profile {
	return func(role string) permission.Profile {
		if r, ok := cfg.Roles[role]; ok && r.Profile != "" {
			return permission.Profile(r.Profile)
		}
		return permission.Write
	}
}
