// Package daemon detaches experiment execution from the invoking terminal:
// spawn, PID files, signal handling, and the stop contract.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pidginlab/pidgin/pkg/config"
	"github.com/pidginlab/pidgin/pkg/experiment"
	"github.com/pidginlab/pidgin/pkg/logger"
	"github.com/pidginlab/pidgin/pkg/manifest"
	"github.com/pidginlab/pidgin/pkg/observability"
	"github.com/pidginlab/pidgin/pkg/sharedstate"
)

// readyTimeout bounds how long the parent waits for the child's PID file.
const readyTimeout = 5 * time.Second

// ActiveDir is where PID files live under the experiments root.
func ActiveDir(root string) string {
	return filepath.Join(root, "active")
}

// PIDFile is the path of one experiment's PID file.
func PIDFile(root, experimentID string) string {
	return filepath.Join(ActiveDir(root), experimentID+".pid")
}

// ExperimentDir is where one experiment's event logs and manifest live.
func ExperimentDir(root, experimentID string) string {
	return filepath.Join(root, experimentID)
}

// LogFile is the path of one experiment's daemon log.
func LogFile(root, experimentID string) string {
	return filepath.Join(root, "logs", experimentID+".log")
}

// Options parameterize the detached child. BranchParent/BranchPoint, when
// set, seed every conversation from a parent log.
type Options struct {
	Root         string
	ExperimentID string
	ConfigPath   string
	BranchParent string
	BranchPoint  int

	// Name overrides the config's experiment name; preflight freshens it
	// when another active experiment already uses it.
	Name string
}

// Spawn re-executes this binary as a detached session leader running the
// hidden daemon entrypoint, then waits for the child to signal readiness by
// writing its PID file. The child's stdio goes to
// {root}/logs/{experiment_id}.log.
func Spawn(opts Options) error {
	dir := ExperimentDir(opts.Root, opts.ExperimentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(ActiveDir(opts.Root), 0o755); err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	logPath := LogFile(opts.Root, opts.ExperimentID)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	args := []string{"daemon",
		"--root", opts.Root,
		"--id", opts.ExperimentID,
		"--config", opts.ConfigPath,
	}
	if opts.BranchParent != "" {
		args = append(args,
			"--branch-parent", opts.BranchParent,
			"--branch-point", fmt.Sprint(opts.BranchPoint),
		)
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	cmd := exec.Command(self, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.Dir = opts.Root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	// The child owns its own lifetime from here; reap it in the background
	// so a fast failure does not leave a zombie while we poll.
	go cmd.Wait()

	pidPath := PIDFile(opts.Root, opts.ExperimentID)
	deadline := time.Now().Add(readyTimeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidPath); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not become ready within %s (see %s)",
		readyTimeout, logPath)
}

// Run is the child-side entrypoint: it owns the experiment from PID file to
// exit cleanup. Never call it from an attached terminal.
func Run(opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Name != "" {
		cfg.Name = opts.Name
	}
	root, experimentID := opts.Root, opts.ExperimentID
	dir := ExperimentDir(root, experimentID)

	// Stdio already points at the experiment log via Spawn; route slog
	// there too.
	logger.Init(slog.LevelInfo, os.Stderr, "text")

	pidPath := PIDFile(root, experimentID)
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// SIGTERM and SIGINT request a graceful stop; SIGHUP is noise from the
	// controlling terminal going away.
	signal.Ignore(syscall.SIGHUP)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	m := manifest.New(experimentID, cfg.Name, cfg.Repetitions)
	m.Configuration = cfg
	m.PID = os.Getpid()
	tracker, err := manifest.NewTracker(dir, m)
	if err != nil {
		return err
	}

	state, err := sharedstate.NewPublisher(dir)
	if err != nil {
		slog.Warn("shared state unavailable", "error", err)
	} else {
		defer state.Close()
	}

	var server *observability.Server
	if cfg.StatusAddr != "" {
		server = observability.NewServer(cfg.StatusAddr, dir)
		server.Start()
		defer server.Shutdown()
	}

	// Whatever the exit path, a manifest still claiming "running" is a lie;
	// downgrade it and every running conversation to failed.
	defer func() {
		tracker.Apply(func(m *manifest.Manifest) {
			if m.Status == manifest.StatusRunning || m.Status == manifest.StatusCreated {
				m.Status = manifest.StatusFailed
				now := time.Now().UTC()
				m.CompletedAt = &now
				for _, conv := range m.Conversations {
					if conv.Status == manifest.ConvRunning || conv.Status == manifest.ConvCreated {
						conv.Status = manifest.ConvFailed
					}
				}
			}
		})
		tracker.Close()
	}()

	slog.Info("experiment starting",
		"experiment", experimentID, "name", cfg.Name,
		"repetitions", cfg.Repetitions, "max_parallel", cfg.MaxParallel)

	runner := &experiment.Runner{
		ExperimentID: experimentID,
		Dir:          dir,
		Config:       cfg,
		Tracker:      tracker,
		State:        state,
	}
	if opts.BranchParent != "" {
		runner.Branch = &experiment.Branch{
			ParentLog:   opts.BranchParent,
			BranchPoint: opts.BranchPoint,
		}
	}
	outcome, err := runner.Run(ctx)
	if err != nil {
		slog.Error("experiment failed", "experiment", experimentID, "error", err)
		return err
	}
	slog.Info("experiment finished",
		"experiment", experimentID, "status", outcome.Status,
		"completed", outcome.Completed, "failed", outcome.Failed)
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
