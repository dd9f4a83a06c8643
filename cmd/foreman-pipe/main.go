// Command foreman-pipe is the Pipeline Daemon: it scans backlog
// directories, drives each WorkItem through the orchestrator, verifies
// defects, and watches message channels for new reports.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/foreman-run/foreman/internal/config"
	"github.com/foreman-run/foreman/internal/gitutil"
	"github.com/foreman-run/foreman/internal/invoker"
	"github.com/foreman-run/foreman/internal/metrics"
	"github.com/foreman-run/foreman/internal/permission"
	"github.com/foreman-run/foreman/internal/pipeline/archive"
	"github.com/foreman-run/foreman/internal/pipeline/channels"
	"github.com/foreman-run/foreman/internal/pipeline/daemon"
	"github.com/foreman-run/foreman/internal/pipeline/scanner"
	"github.com/foreman-run/foreman/internal/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "foreman-pipe",
		Short:         "Run the pipeline daemon against a backlog of work items",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(startCmd(), sweepCmd(), statusCmd())
	return root
}

func startCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the daemon loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, dmn, err := buildDaemon()
			if err != nil {
				return err
			}

			// Best-effort recovery sweep on every SIGTERM.
			go func() {
				<-ctx.Done()
				_ = dmn.Sweep()
			}()

			if err := dmn.Sweep(); err != nil {
				d.Logger.Warn("startup sweep failed", "err", err)
			}

			serveMetrics(d.cfg.Pipeline.MetricsAddr, d.Logger)

			watcher, err := scanner.NewQuiescenceWatcher(watchedDirs(d), d.cfg.Pipeline.Quiescence())
			if err == nil {
				defer watcher.Close()
			}

			controlFn := func(verb string) {
				switch verb {
				case "stop":
					d.Logger.Info("received stop command over the notifications channel")
					stop()
				case "pause", "status":
					// No daemon-side behavior defined for these yet; they
					// are recognized and logged but otherwise no-ops.
					d.Logger.Info("received control command with no defined action", "verb", verb)
				}
			}

			for {
				if err := dmn.RunOnce(ctx); err != nil {
					d.Logger.Error("pipeline cycle failed", "err", err)
				}
				pollChannels(ctx, d, dmn, controlFn)
				if once || ctx.Err() != nil {
					return nil
				}
				if watcher != nil {
					watcher.WaitForQuiescence(ctx)
				} else {
					select {
					case <-time.After(d.cfg.Pipeline.Quiescence()):
					case <-ctx.Done():
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pipeline cycle and exit")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "run the startup recovery sweep standalone and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, dmn, err := buildDaemon()
			if err != nil {
				return err
			}
			return dmn.Sweep()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the configured backlog directories; does not scan them or execute anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := buildDaemon()
			if err != nil {
				return err
			}
			for _, r := range b.roots {
				fmt.Println(r)
			}
			return nil
		},
	}
}

// bundle carries the resolved config/env/logger a daemon build needs, kept
// distinct from daemon.Config so command wiring doesn't reach into the
// daemon package's internals.
type bundle struct {
	cfg           *config.Config
	Logger        *slog.Logger
	roots         []string
	channelClient *channels.Client
}

func buildDaemon() (*bundle, *daemon.Daemon, error) {
	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	rolePreambleDir := filepath.Join(projectRoot, ".foreman", "roles")
	env, err := invoker.NewEnvironment(projectRoot, cfg.Agent.Binary, rolePreambleDir)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	verifyProfile, err := permission.Resolve(permission.Verify)
	if err != nil {
		return nil, nil, err
	}
	designProfile, err := permission.Resolve(permission.Design)
	if err != nil {
		return nil, nil, err
	}

	roots := map[types.WorkItemType]string{
		types.WorkItemDefect:   filepath.Join(projectRoot, cfg.Pipeline.DefectsRoot),
		types.WorkItemFeature:  filepath.Join(projectRoot, cfg.Pipeline.FeaturesRoot),
		types.WorkItemAnalysis: filepath.Join(projectRoot, cfg.Pipeline.AnalysisRoot),
	}
	archiveRoot := filepath.Join(projectRoot, cfg.Pipeline.ArchiveRoot)
	planDir := filepath.Join(projectRoot, cfg.Pipeline.PlanDir)
	if err := os.MkdirAll(planDir, 0o755); err != nil {
		return nil, nil, err
	}
	for _, r := range roots {
		if err := os.MkdirAll(r, 0o755); err != nil {
			return nil, nil, err
		}
	}

	repo := gitutil.New(projectRoot)
	archiver := archive.New(repo, archiveRoot)

	dmn := daemon.New(daemon.Config{
		Env:              env,
		Logger:           logger,
		BacklogRoots:     roots,
		ArchiveRoot:      archiveRoot,
		PlanDir:          planDir,
		ForemanBinary:    foremanBinaryPath(),
		MaxCycles:        cfg.Pipeline.MaxVerificationCycles,
		VerifyProfile:    verifyProfile,
		IntakeProfile:    designProfile,
		PlanProfile:      designProfile,
		Model:            cfg.Roles["write"].StartingModel,
		QuestionsChannel: cfg.Pipeline.ChannelPrefix + "-questions",
	}, archiver)

	var chClient *channels.Client
	if cfg.Pipeline.ChannelBaseURL != "" {
		transport := channels.NewHTTPTransport(cfg.Pipeline.ChannelBaseURL, cfg.Pipeline.ChannelToken)
		var signKey []byte
		if cfg.Pipeline.ChannelSignKey != "" {
			signKey = []byte(cfg.Pipeline.ChannelSignKey)
		}
		cursorDir := filepath.Join(projectRoot, ".foreman", "cursors")
		chClient = channels.New(transport, cfg.Pipeline.AgentName, signKey, cursorDir, cfg.Pipeline.PollInterval(), 1)
		dmn.SetNotifier(chClient.Post)
	}

	b := &bundle{
		cfg:           cfg,
		Logger:        logger,
		roots:         []string{roots[types.WorkItemDefect], roots[types.WorkItemFeature], roots[types.WorkItemAnalysis]},
		channelClient: chClient,
	}
	return b, dmn, nil
}

// pollChannels lists every channel the transport reports, classifies each
// by its name-suffix role, and dispatches every new message through the
// daemon's inbound router. A nil channel client (no base URL configured)
// makes this a no-op.
func pollChannels(ctx context.Context, b *bundle, dmn *daemon.Daemon, controlFn func(verb string)) {
	if b.channelClient == nil {
		return
	}

	names, err := b.channelClient.ListChannels(ctx)
	if err != nil {
		b.Logger.Warn("list channels failed", "err", err)
		return
	}

	for role, names := range channels.ClassifyByRole(names) {
		for _, ch := range names {
			msgs, err := b.channelClient.Poll(ctx, ch)
			if err != nil {
				b.Logger.Warn("poll channel failed", "channel", ch, "err", err)
				continue
			}
			for _, m := range msgs {
				if err := dmn.RouteInbound(ctx, role, m, controlFn); err != nil {
					b.Logger.Error("route inbound message failed", "channel", ch, "err", err)
				}
			}
		}
	}
}

// serveMetrics starts the Prometheus HTTP endpoint in the background. A
// listen failure is logged, not fatal: the pipeline still runs without
// its metrics exposed.
func serveMetrics(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped", "addr", addr, "err", err)
		}
	}()
}

func watchedDirs(b *bundle) []string {
	return b.roots
}

// foremanBinaryPath resolves the orchestrator binary the daemon spawns as
// a subprocess, assuming the conventional sibling-binary layout produced
// by building both cmd/foreman and cmd/foreman-pipe together.
func foremanBinaryPath() string {
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "foreman")
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling
		}
	}
	return "foreman"
}
