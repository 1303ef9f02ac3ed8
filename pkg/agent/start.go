package agent

import (
	"context"
	"time"

	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// Start brings the server up as a shadow. Nodes always start life as a
// standby; leadership only ever arrives through promote. Idempotent: a
// server that is already running in any role is success.
func (a *Agent) Start(ctx context.Context) types.StatusCode {
	logger := log.WithComponent("start")

	rec, err := a.Reconcile(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("reconciliation failed before start")
		return types.StatusErrGeneric
	}

	switch rec.Status {
	case types.StatusRunningMaster, types.StatusOK:
		logger.Info().Str("role", string(rec.Probe.Role)).Msg("server already running")
		return types.StatusOK
	case types.StatusFailedMaster:
		// Crash residue: clear the stale lock and start fresh. The crashed
		// leader's eligibility is decided by the reconciler once the server
		// reports its metadata version again.
		logger.Warn().Msg("clearing stale lock left by a crashed server")
		if err := a.lock.Release(); err != nil {
			logger.Error().Err(err).Msg("failed to clear stale lock")
			return types.StatusErrGeneric
		}
	case types.StatusNotRunning:
		// Expected.
	default:
		logger.Error().Str("status", rec.Status.String()).Msg("cannot start from this state")
		return types.StatusErrGeneric
	}

	if err := a.procs.Start(ctx, string(types.RoleShadow)); err != nil {
		logger.Error().Err(err).Msg("failed to launch server")
		return types.StatusErrGeneric
	}

	if !a.awaitUp(ctx) {
		logger.Error().Msg("server did not become probeable after start")
		return types.StatusErrGeneric
	}

	// A fresh standby carries the minimum weight until monitor has seen
	// its metadata version.
	if err := a.cluster.SetVoteScore(ctx, a.cfg.Cluster.Resource, types.ScoreNone); err != nil {
		logger.Warn().Err(err).Msg("started but initial vote score update failed")
	}

	logger.Info().Msg("server started as shadow")
	return types.StatusOK
}

// awaitUp waits, bounded by the configured start timeout, until a probe
// pass reports the server in some live state.
func (a *Agent) awaitUp(ctx context.Context) bool {
	deadline := time.Now().Add(a.cfg.Process.StartTimeout)
	for {
		result, err := a.probe.Run(ctx)
		if err == nil && result.Role != types.RoleUnknown {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(a.startPollDelay):
		}
	}
}
