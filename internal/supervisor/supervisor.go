// Package supervisor launches the demo's external servers and tears them
// down on signal or error.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/betbot/storedemo/internal/metrics"
	"github.com/betbot/storedemo/internal/registry"
	"github.com/betbot/storedemo/pkg/logger"
	"github.com/betbot/storedemo/pkg/shutdown"
)

// ErrShuttingDown is returned by Start once teardown has begun.
var ErrShuttingDown = errors.New("supervisor is shutting down")

type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Config struct {
	Components  []Component
	LogsDir     string
	ScratchDir  string        // removed on teardown; empty skips
	SettleDelay time.Duration // blind wait after launching everything
	StopWait    time.Duration // how long teardown waits for children to be reaped
	Registry    registry.Recorder
	Exit        func(code int)
}

// Process is the handle of one launched component.
type Process struct {
	Component
	PID     int
	LogPath string

	cmd  *exec.Cmd
	out  io.WriteCloser
	done chan struct{}
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

type Supervisor struct {
	cfg   Config
	runID string
	log   *logrus.Entry

	state atomic.Int32

	// mu serializes launches against teardown and guards procs.
	mu       sync.Mutex
	procs    []*Process
	teardown *shutdown.Manager
}

func New(cfg Config) *Supervisor {
	if cfg.LogsDir == "" {
		cfg.LogsDir = "./server-logs"
	}
	if cfg.StopWait <= 0 {
		cfg.StopWait = 3 * time.Second
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Nop{}
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	s := &Supervisor{
		cfg:      cfg,
		runID:    uuid.NewString(),
		log:      logger.WithField("component", "supervisor"),
		teardown: shutdown.NewManager(),
	}
	s.teardown.OnShutdown("stop components", s.stopAll)
	s.teardown.OnShutdown("remove scratch dir", s.removeScratch)
	return s
}

// OnTeardown registers an extra teardown step, run after the components
// are stopped and the scratch dir is removed.
func (s *Supervisor) OnTeardown(name string, fn func(ctx context.Context) error) {
	s.teardown.OnShutdown(name, fn)
}

// RunID identifies this supervisor's launches in the registry.
func (s *Supervisor) RunID() string { return s.runID }

func (s *Supervisor) State() State { return State(s.state.Load()) }

// Processes returns the handles still owned by the supervisor.
func (s *Supervisor) Processes() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Process, len(s.procs))
	copy(out, s.procs)
	return out
}

// Start launches every component in order, then waits the settle delay.
// The first launch failure is returned; already-started components stay
// running until Teardown.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.LogsDir, 0o755); err != nil {
		return errors.Wrapf(err, "create logs dir %s", s.cfg.LogsDir)
	}

	for _, c := range s.cfg.Components {
		if err := s.launch(ctx, c); err != nil {
			return err
		}
	}

	if s.cfg.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) launch(ctx context.Context, c Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() >= StateShuttingDown {
		return ErrShuttingDown
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.log.Infof("Starting %s", c.Name)

	logPath := filepath.Join(s.cfg.LogsDir, c.LogFile())
	// 每次启动覆盖旧日志
	if err := os.Remove(logPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "reset log %s", logPath)
	}
	out := logger.NewRotatingWriter(logPath, logger.Config{MaxSize: 100, MaxBackups: 3})
	if err := out.Rotate(); err != nil {
		return errors.Wrapf(err, "create log %s", logPath)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Stdout = out
	cmd.Stderr = out
	// 单独进程组：teardown 时连同子进程一起发信号
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "start %s", c.Name)
	}
	s.state.Store(int32(StateRunning))
	metrics.ComponentStarts.Add(1)

	p := &Process{
		Component: c,
		PID:       cmd.Process.Pid,
		LogPath:   logPath,
		cmd:       cmd,
		out:       out,
		done:      make(chan struct{}),
	}
	s.procs = append(s.procs, p)

	recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cfg.Registry.RecordStart(recCtx, registry.Record{
		RunID:     s.runID,
		Name:      c.Name,
		PID:       p.PID,
		Command:   c.CommandLine(),
		LogPath:   logPath,
		StartedAt: time.Now(),
	}); err != nil {
		s.log.Warnf("record start %s: %v", c.Name, err)
	}

	go s.reap(p)
	return nil
}

func (s *Supervisor) reap(p *Process) {
	defer close(p.done)

	waitErr := p.cmd.Wait()
	_ = p.out.Close()

	exitCode := 0
	lastErr := ""
	if waitErr != nil {
		lastErr = waitErr.Error()
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			exitCode = ee.ExitCode()
		} else {
			exitCode = 1
		}
	}

	if s.State() < StateShuttingDown {
		s.log.Warnf("component %s (pid=%d) exited unexpectedly: code=%d %s", p.Name, p.PID, exitCode, lastErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cfg.Registry.RecordExit(ctx, s.runID, p.Name, exitCode, lastErr); err != nil {
		s.log.Warnf("record exit %s: %v", p.Name, err)
	}
}

// Teardown stops every launched component and removes the scratch dir.
// Safe to call more than once and from several goroutines; only the first
// call does any work. sig is nil when teardown follows an error.
func (s *Supervisor) Teardown(sig os.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() >= StateShuttingDown {
		return
	}
	s.log.Infof("Signal received (%s) - will now cleanup and exit", signalName(sig))
	s.state.Store(int32(StateShuttingDown))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if failed := s.teardown.Shutdown(ctx); failed > 0 {
		s.log.Warnf("teardown finished with %d failed step(s)", failed)
	}

	s.state.Store(int32(StateTerminated))
}

// Shutdown runs Teardown and exits with status 0.
func (s *Supervisor) Shutdown(sig os.Signal) {
	s.Teardown(sig)
	s.cfg.Exit(0)
}

// stopAll runs with s.mu held.
func (s *Supervisor) stopAll(ctx context.Context) error {
	var firstErr error
	for i := len(s.procs) - 1; i >= 0; i-- {
		p := s.procs[i]
		if err := stopProcessGroup(p.PID, p.StopMode); err != nil {
			s.log.Warnf("stop %s (pid=%d): %v", p.Name, p.PID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		metrics.ComponentStops.Add(1)
		if err := s.cfg.Registry.RecordStop(ctx, s.runID, p.Name, p.StopMode.String()); err != nil {
			s.log.Warnf("record stop %s: %v", p.Name, err)
		}
	}

	deadline := time.NewTimer(s.cfg.StopWait)
	defer deadline.Stop()
	for _, p := range s.procs {
		select {
		case <-p.done:
		case <-deadline.C:
			s.log.Warnf("%s (pid=%d) not reaped after %s", p.Name, p.PID, s.cfg.StopWait)
			s.procs = nil
			return firstErr
		}
	}
	s.procs = nil
	return firstErr
}

func (s *Supervisor) removeScratch(context.Context) error {
	if s.cfg.ScratchDir == "" {
		return nil
	}
	if err := os.RemoveAll(s.cfg.ScratchDir); err != nil {
		return errors.Wrapf(err, "remove %s", s.cfg.ScratchDir)
	}
	return nil
}

// stopProcessGroup signals the process group of pid, falling back to pid
// itself when the group is gone.
func stopProcessGroup(pid int, mode StopMode) error {
	if pid <= 0 {
		return nil
	}
	sig := unix.SIGTERM
	if mode == StopKill {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
	}
	return nil
}

// signalName reports "0" for the error path, like a handler invoked without a signal.
func signalName(sig os.Signal) string {
	if sig == nil {
		return "0"
	}
	return sig.String()
}
