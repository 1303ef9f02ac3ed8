package agent

import (
	"context"
	"time"

	"github.com/corvidlabs/metakeeper/pkg/admin"
	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/metrics"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// ClearErrorDelays staggers the two post-promotion error-clear attempts so
// other standbys have a chance to observe the new leader between them.
var ClearErrorDelays = []time.Duration{5 * time.Second, 15 * time.Second}

// Promote executes the promotion strategy computed by a fresh
// reconciliation pass. It never promotes without reconciling first.
func (a *Agent) Promote(ctx context.Context) types.StatusCode {
	logger := log.WithComponent("promote")

	if a.preventMarkerPresent() {
		logger.Error().Str("marker", a.cfg.PreventMarker()).
			Msg("promotion previously refused, remove the marker after restoring metadata")
		metrics.PromotionsTotal.WithLabelValues(string(types.PromotePrevent), "blocked").Inc()
		return types.StatusErrPermanent
	}

	rec, err := a.Monitor(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("reconciliation failed before promotion")
		return types.StatusErrGeneric
	}

	switch rec.Status {
	case types.StatusRunningMaster:
		return types.StatusRunningMaster // already leader, nothing to do
	case types.StatusOK:
		// A shadow we may be able to promote.
	default:
		logger.Error().Str("status", rec.Status.String()).Msg("node not in a promotable state")
		return types.StatusErrGeneric
	}

	switch rec.Mode {
	case types.PromoteReload:
		return a.promoteReload(ctx, rec)
	case types.PromoteRestart:
		return a.promoteRestart(ctx, rec)
	case types.PromotePrevent:
		return a.promotePrevent(rec)
	default:
		// A shadow with no promotion mode is merely not ready (syncing or
		// mid-transition). Fail this attempt; the next one may succeed.
		logger.Error().Str("connection", string(rec.Probe.Connection)).
			Msg("shadow not ready for promotion")
		metrics.PromotionsTotal.WithLabelValues("none", "not_ready").Inc()
		return types.StatusErrGeneric
	}
}

// promoteReload reattaches the running shadow as leader without a restart.
func (a *Agent) promoteReload(ctx context.Context, rec types.Reconciliation) types.StatusCode {
	logger := log.WithComponent("promote")

	if err := a.admin.Command(admin.CmdPromote); err != nil {
		logger.Error().Err(err).Msg("live promote command failed")
		metrics.PromotionsTotal.WithLabelValues(string(types.PromoteReload), "failed").Inc()
		return types.StatusFailedMaster
	}
	return a.promoted(ctx, rec, types.PromoteReload)
}

// promoteRestart stops the shadow and starts it again with the master
// personality so metadata is re-read from disk rather than live memory.
func (a *Agent) promoteRestart(ctx context.Context, rec types.Reconciliation) types.StatusCode {
	logger := log.WithComponent("promote")

	if err := a.procs.StopGraceful(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to stop shadow for restart promotion")
		metrics.PromotionsTotal.WithLabelValues(string(types.PromoteRestart), "failed").Inc()
		return types.StatusFailedMaster
	}
	if err := a.lock.Release(); err != nil {
		logger.Error().Err(err).Msg("failed to release lock for restart promotion")
		metrics.PromotionsTotal.WithLabelValues(string(types.PromoteRestart), "failed").Inc()
		return types.StatusFailedMaster
	}
	if err := a.procs.Start(ctx, string(types.RoleMaster)); err != nil {
		logger.Error().Err(err).Msg("failed to start as master")
		metrics.PromotionsTotal.WithLabelValues(string(types.PromoteRestart), "failed").Inc()
		return types.StatusFailedMaster
	}
	return a.promoted(ctx, rec, types.PromoteRestart)
}

// promotePrevent refuses promotion of an unsafe replica and blocks further
// automatic attempts until an operator clears the marker.
func (a *Agent) promotePrevent(rec types.Reconciliation) types.StatusCode {
	a.interventionDiagnostic("refusing to promote replica with no usable metadata")
	if err := a.writePreventMarker(); err != nil {
		logger := log.WithComponent("promote")
		logger.Error().Err(err).Msg("failed to persist prevent marker")
	}
	metrics.PromotionsTotal.WithLabelValues(string(types.PromotePrevent), "refused").Inc()
	return types.StatusErrPermanent
}

// promoted finishes a successful promotion: personality marker, full vote
// weight, and the detached error-clear task.
func (a *Agent) promoted(ctx context.Context, rec types.Reconciliation, mode types.PromoteMode) types.StatusCode {
	logger := log.WithComponent("promote")

	if err := a.personality.Set(string(types.RoleMaster)); err != nil {
		logger.Error().Err(err).Msg("promotion succeeded but personality marker update failed")
		metrics.PromotionsTotal.WithLabelValues(string(mode), "failed").Inc()
		return types.StatusFailedMaster
	}
	if err := a.cluster.SetVoteScore(ctx, a.cfg.Cluster.Resource, types.ScoreLeader); err != nil {
		logger.Warn().Err(err).Msg("promoted but vote score update failed, next monitor will retry")
	}

	if a.clearer != nil {
		a.clearer.SpawnAfterPromote()
	}

	metrics.PromotionsTotal.WithLabelValues(string(mode), "ok").Inc()
	logger.Info().
		Str("mode", string(mode)).
		Uint64("version", rec.Probe.Version).
		Msg("promoted to leader")
	return types.StatusOK
}

// ClearErrors runs the post-promotion error-clear sequence: best-effort,
// idempotent, repeated with staggered delays. It is executed by a detached
// invocation so it can never affect the synchronous promote result, and it
// is safe to race with a subsequent reconciliation.
func (a *Agent) ClearErrors(ctx context.Context, delays []time.Duration) {
	logger := log.WithComponent("clear-errors")
	for _, delay := range delays {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := a.cluster.ClearErrors(ctx, a.cfg.Cluster.Resource); err != nil {
			logger.Warn().Err(err).Msg("error-state clear attempt failed")
			continue
		}
		logger.Info().Msg("cleared resource error state")
	}
}
