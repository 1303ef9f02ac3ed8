package proc

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/procfs"

	"github.com/corvidlabs/metakeeper/pkg/log"
)

// DefaultProcMount is the procfs mount point used outside of tests.
const DefaultProcMount = "/proc"

// Manager starts, stops and inspects the managed metadata server process.
type Manager struct {
	binary    string
	extraArgs []string
	procMount string

	stopTimeout  time.Duration
	startTimeout time.Duration

	lock        *LockFile
	personality *PersonalityFile
	transition  *TransitionFile
}

// NewManager creates a process manager for the given server binary.
func NewManager(binary string, extraArgs []string, lock *LockFile, personality *PersonalityFile, stopTimeout, startTimeout time.Duration) *Manager {
	return &Manager{
		binary:       binary,
		extraArgs:    extraArgs,
		procMount:    DefaultProcMount,
		stopTimeout:  stopTimeout,
		startTimeout: startTimeout,
		lock:         lock,
		personality:  personality,
		transition:   NewTransitionFile(filepath.Join(filepath.Dir(lock.Path()), ".transition")),
	}
}

// WithProcMount overrides the procfs mount point. Used by tests.
func (m *Manager) WithProcMount(mount string) *Manager {
	m.procMount = mount
	return m
}

// Lock returns the advisory lock file.
func (m *Manager) Lock() *LockFile {
	return m.lock
}

// Personality returns the personality marker file.
func (m *Manager) Personality() *PersonalityFile {
	return m.personality
}

// Transition reports the in-flight transition ("starting" or "stopping"),
// or empty. A marker with no server or launcher process behind it is stale
// and reported as empty.
func (m *Manager) Transition() (string, error) {
	marker, err := m.transition.Get()
	if err != nil || marker == "" {
		return "", err
	}
	running, err := m.Running()
	if err != nil {
		return "", err
	}
	if !running {
		return "", nil
	}
	return marker, nil
}

// FindPID returns the PID of a running server process, or 0 if none exists.
// A process matches when its command line names the managed binary.
func (m *Manager) FindPID() (int, error) {
	fs, err := procfs.NewFS(m.procMount)
	if err != nil {
		return 0, fmt.Errorf("failed to open procfs: %w", err)
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	base := filepath.Base(m.binary)
	for _, p := range procs {
		cmdline, err := p.CmdLine()
		if err != nil || len(cmdline) == 0 {
			continue // process may have exited mid-scan
		}
		if cmdline[0] == m.binary || filepath.Base(cmdline[0]) == base {
			return p.PID, nil
		}
	}
	return 0, nil
}

// Running reports whether a server process exists.
func (m *Manager) Running() (bool, error) {
	pid, err := m.FindPID()
	if err != nil {
		return false, err
	}
	return pid != 0, nil
}

// TransitionInProgress reports whether a process matching the expected
// transition command line exists. It disambiguates a not-connected admin
// endpoint during an expected start/stop: the launcher is still running.
func (m *Manager) TransitionInProgress(args ...string) (bool, error) {
	fs, err := procfs.NewFS(m.procMount)
	if err != nil {
		return false, fmt.Errorf("failed to open procfs: %w", err)
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return false, fmt.Errorf("failed to list processes: %w", err)
	}

	base := filepath.Base(m.binary)
	for _, p := range procs {
		cmdline, err := p.CmdLine()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		if cmdline[0] != m.binary && filepath.Base(cmdline[0]) != base {
			continue
		}
		if containsAll(cmdline[1:], args) {
			return true, nil
		}
	}
	return false, nil
}

// containsAll reports whether every want entry appears in the argument list.
func containsAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Start launches the server with the given personality in managed mode and
// creates the advisory lock. The launcher returning nonzero is an error.
func (m *Manager) Start(ctx context.Context, personality string) error {
	logger := log.WithComponent("proc")

	if err := m.personality.Set(personality); err != nil {
		return err
	}

	if err := m.transition.Set("starting"); err != nil {
		return err
	}

	args := []string{"start", "--personality", personality, "--managed"}
	args = append(args, m.extraArgs...)

	runCtx, cancel := context.WithTimeout(ctx, m.startTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, m.binary, args...)
	logger.Info().Str("personality", personality).Strs("args", args).Msg("starting metadata server")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to start server: %w: %s", err, strings.TrimSpace(string(out)))
	}

	pid, err := m.FindPID()
	if err != nil {
		return err
	}
	if err := m.lock.Create(pid); err != nil {
		return err
	}
	return m.transition.Clear()
}

// StopGraceful asks the running process to exit via SIGTERM and waits for it
// to leave the process table, bounded by the stop timeout.
func (m *Manager) StopGraceful(ctx context.Context) error {
	pid, err := m.FindPID()
	if err != nil {
		return err
	}
	if pid == 0 {
		return nil // already stopped
	}

	if err := m.transition.Set("stopping"); err != nil {
		return err
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	if err := m.waitGone(ctx, m.stopTimeout); err != nil {
		return err
	}
	return m.transition.Clear()
}

// Kill forcibly terminates the process. A missing process is success.
func (m *Manager) Kill(ctx context.Context) error {
	pid, err := m.FindPID()
	if err != nil {
		return err
	}
	if pid == 0 {
		return nil
	}

	logger := log.WithComponent("proc")
	logger.Warn().Int("pid", pid).Msg("escalating to SIGKILL")
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	if err := m.waitGone(ctx, m.stopTimeout); err != nil {
		return err
	}
	return m.transition.Clear()
}

// waitGone polls the process table with a fixed short interval until the
// server is gone or the deadline passes.
func (m *Manager) waitGone(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		running, err := m.Running()
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server still running after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
