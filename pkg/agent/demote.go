package agent

import (
	"context"

	"github.com/corvidlabs/metakeeper/pkg/admin"
	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// Demote halts a running leader quickly and releases its lock. A shadow is
// already demoted; a stopped node is an invalid demotion target. Demotion
// deliberately does not restart the node as a shadow: starting is its own
// lifecycle step requested by the resource manager.
func (a *Agent) Demote(ctx context.Context) types.StatusCode {
	logger := log.WithComponent("demote")

	rec, err := a.Reconcile(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("reconciliation failed before demotion")
		return types.StatusErrGeneric
	}

	switch rec.Status {
	case types.StatusRunningMaster:
		// Quick-stop: halt without flushing in-memory state; the snapshot
		// on disk stays whatever it was.
		if err := a.admin.Command(admin.CmdStopQuick); err != nil {
			logger.Error().Err(err).Msg("quick-stop command failed")
			return types.StatusErrGeneric
		}
		if err := a.lock.Release(); err != nil {
			logger.Error().Err(err).Msg("failed to release lock after quick-stop")
			return types.StatusErrGeneric
		}
		logger.Info().Msg("leader halted and lock released")
		return types.StatusOK

	case types.StatusOK:
		logger.Info().Msg("node is already a shadow, nothing to demote")
		return types.StatusOK

	default:
		// Not running (or worse): demoting a stopped node is invalid.
		logger.Error().Str("status", rec.Status.String()).Msg("invalid demotion target")
		return types.StatusErrGeneric
	}
}
