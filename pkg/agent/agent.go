package agent

import (
	"context"
	"os"
	"time"

	"github.com/corvidlabs/metakeeper/pkg/cluster"
	"github.com/corvidlabs/metakeeper/pkg/config"
	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// Prober runs one probe of the local metadata server.
type Prober interface {
	Run(ctx context.Context) (types.ProbeResult, error)
}

// AdminControl issues control commands to the running server.
type AdminControl interface {
	Command(cmd string) error
}

// Process is the managed server process lifecycle.
type Process interface {
	Start(ctx context.Context, personality string) error
	StopGraceful(ctx context.Context) error
	Kill(ctx context.Context) error
	Running() (bool, error)
}

// Lock is the advisory on-disk lock.
type Lock interface {
	Present() (bool, error)
	Release() error
}

// Personality is the marker consumed by the external config generator.
type Personality interface {
	Set(personality string) error
}

// Rotator rotates snapshot generations on shadow stop.
type Rotator interface {
	Rotate() error
	Prune() error
}

// ErrorClearer launches the detached post-promotion error-clear task. The
// task must be best-effort and idempotent; promote never waits for it.
type ErrorClearer interface {
	SpawnAfterPromote()
}

// Agent wires the failover core together. Each lifecycle invocation builds
// a fresh Agent, runs exactly one action and exits; no state is shared
// between invocations beyond the files and the cluster attribute.
type Agent struct {
	cfg         *config.Config
	probe       Prober
	admin       AdminControl
	procs       Process
	lock        Lock
	personality Personality
	cluster     cluster.Cluster
	attrs       *cluster.Attributes
	rotator     Rotator
	clearer     ErrorClearer

	// startPollDelay paces the bounded wait for the server to come up.
	startPollDelay time.Duration
}

// New creates an agent from its collaborators.
func New(cfg *config.Config, probe Prober, adminCtl AdminControl, procs Process, lock Lock, personality Personality, cl cluster.Cluster, rotator Rotator, clearer ErrorClearer) *Agent {
	return &Agent{
		cfg:            cfg,
		probe:          probe,
		admin:          adminCtl,
		procs:          procs,
		lock:           lock,
		personality:    personality,
		cluster:        cl,
		attrs:          cluster.NewAttributes(cl, cfg.Cluster.Attribute),
		rotator:        rotator,
		clearer:        clearer,
		startPollDelay: 2 * time.Second,
	}
}

// preventMarkerPresent reports whether an operator-clearable refusal to
// promote is recorded on this node.
func (a *Agent) preventMarkerPresent() bool {
	_, err := os.Stat(a.cfg.PreventMarker())
	return err == nil
}

// writePreventMarker records a refused promotion so later attempts
// short-circuit until an operator clears it.
func (a *Agent) writePreventMarker() error {
	return os.WriteFile(a.cfg.PreventMarker(), []byte(time.Now().Format(time.RFC3339)+"\n"), 0644)
}

// interventionDiagnostic is the operator guidance emitted when promotion is
// refused or a crashed leader is detected.
func (a *Agent) interventionDiagnostic(reason string) {
	logger := log.WithComponent("agent")
	logger.Error().
		Str("reason", reason).
		Str("attribute", a.cfg.Cluster.Attribute).
		Str("prevent_marker", a.cfg.PreventMarker()).
		Msg("manual intervention required: compare metadata versions across replicas, " +
			"restore from the change log on the most advanced node, reset the cluster " +
			"attribute to its version, then remove the prevent marker and clear the " +
			"resource error state")
}
