package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/uuid"

	"github.com/corvidlabs/metakeeper/pkg/admin"
	"github.com/corvidlabs/metakeeper/pkg/agent"
	"github.com/corvidlabs/metakeeper/pkg/cluster"
	"github.com/corvidlabs/metakeeper/pkg/config"
	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/metrics"
	"github.com/corvidlabs/metakeeper/pkg/probe"
	"github.com/corvidlabs/metakeeper/pkg/proc"
	"github.com/corvidlabs/metakeeper/pkg/snapshot"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// runAction loads configuration, wires the agent and executes one lifecycle
// action, then exits with the action's status code. Configuration faults
// are reported before the action runs.
func runAction(name string, fn func(ctx context.Context, a *agent.Agent) types.StatusCode) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(types.StatusErrConfigured.ExitCode())
	}

	initLogging(cfg)
	logger := log.WithInvocation(uuid.New().String()).With().
		Str("action", name).
		Str("node", cfg.NodeName).
		Logger()

	a, cl, err := buildAgent(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to wire agent")
		os.Exit(types.StatusErrGeneric.ExitCode())
	}

	timer := metrics.NewTimer()
	status := fn(context.Background(), a)
	timer.ObserveDuration(metrics.ActionDuration.WithLabelValues(name))
	metrics.ActionsTotal.WithLabelValues(name, status.String()).Inc()

	if cfg.Metrics.TextfileDir != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.TextfileDir); err != nil {
			logger.Warn().Err(err).Msg("metrics textfile export failed")
		}
	}

	logger.Info().
		Str("status", status.String()).
		Int("exit_code", status.ExitCode()).
		Dur("duration", timer.Duration()).
		Msg("action finished")

	cl.Close()
	os.Exit(status.ExitCode())
}

func initLogging(cfg *config.Config) {
	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.Format == "json",
	})
}

// buildAgent assembles the agent from its production collaborators. The
// returned cluster handle must be closed by the caller.
func buildAgent(cfg *config.Config) (*agent.Agent, cluster.Cluster, error) {
	secret, err := cfg.AdminSecret()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read admin secret: %w", err)
	}
	adminClient := admin.NewClient(cfg.Admin.Host, cfg.Admin.Port, secret,
		cfg.Admin.ConnectTimeout, cfg.Admin.CommandTimeout)

	lock := proc.NewLockFile(cfg.LockFile())
	personality := proc.NewPersonalityFile(cfg.PersonalityFile())
	procs := proc.NewManager(cfg.Process.Binary, cfg.Process.ExtraArgs,
		lock, personality, cfg.Process.StopTimeout, cfg.Process.StartTimeout)

	cl, err := cluster.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cluster store: %w", err)
	}

	prober := probe.New(adminClient, &processView{procs}, cl,
		cfg.NodeName, cfg.Cluster.Resource, cfg.Probe.RetryDelay)

	rotator := snapshot.NewRotator(cfg.DataDir, cfg.Snapshot.Base, cfg.Retention())
	clearer := &detachedClearer{configPath: configPath}

	a := agent.New(cfg, prober, adminClient, procs, lock, personality, cl, rotator, clearer)
	return a, cl, nil
}

// processView adapts the process manager to the probe's read-only view.
type processView struct {
	m *proc.Manager
}

func (v *processView) Running() (bool, error)      { return v.m.Running() }
func (v *processView) Transition() (string, error) { return v.m.Transition() }

func (v *processView) Personality() (string, error) {
	return v.m.Personality().Get()
}

// detachedClearer re-execs this binary with the hidden clear-errors action
// in its own session, so the staggered error-state clears outlive the
// promote invocation.
type detachedClearer struct {
	configPath string
}

func (d *detachedClearer) SpawnAfterPromote() {
	logger := log.WithComponent("clear-errors")

	exe, err := os.Executable()
	if err != nil {
		logger.Warn().Err(err).Msg("cannot locate agent binary, skipping detached error clear")
		return
	}

	cmd := exec.Command(exe, "clear-errors", "--config", d.configPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		logger.Warn().Err(err).Msg("failed to spawn detached error clear")
		return
	}
	if err := cmd.Process.Release(); err != nil {
		logger.Warn().Err(err).Msg("failed to detach error clear process")
	}
}
