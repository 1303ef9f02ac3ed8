package agent

import (
	"context"

	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/metrics"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// Stop halts the server and releases local resources. For a shadow with
// real metadata it also rotates snapshot generations, so a stale offline
// shadow cannot re-seed the cluster as leader without an operator restore.
// A leader's snapshot is left untouched: it may be the basis for a future
// restart.
func (a *Agent) Stop(ctx context.Context) types.StatusCode {
	logger := log.WithComponent("stop")

	rec, err := a.Reconcile(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("reconciliation failed before stop")
		return types.StatusErrGeneric
	}

	if rec.Status == types.StatusNotRunning {
		// Already stopped; releasing again is harmless and keeps the
		// action safe to re-run after an aborted attempt.
		if err := a.lock.Release(); err != nil {
			logger.Error().Err(err).Msg("failed to release lock")
			return types.StatusErrGeneric
		}
		return types.StatusOK
	}

	if err := a.procs.StopGraceful(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful stop failed, escalating to kill")
		if kerr := a.procs.Kill(ctx); kerr != nil {
			logger.Error().Err(kerr).Msg("forced kill failed")
			return types.StatusErrGeneric
		}
	}

	if rec.Probe.Role == types.RoleShadow && rec.Probe.Version > 0 {
		if err := a.rotator.Rotate(); err != nil {
			logger.Error().Err(err).Msg("snapshot rotation failed")
			return types.StatusErrGeneric
		}
		metrics.RotationsTotal.Inc()
		if err := a.rotator.Prune(); err != nil {
			// Pruning is housekeeping; a failed prune does not fail the stop.
			logger.Warn().Err(err).Msg("snapshot archive pruning failed")
		}
	}

	if err := a.lock.Release(); err != nil {
		logger.Error().Err(err).Msg("failed to release lock after stop")
		return types.StatusErrGeneric
	}

	logger.Info().Str("role", string(rec.Probe.Role)).Msg("server stopped")
	return types.StatusOK
}
