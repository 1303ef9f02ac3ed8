package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/metrics"
	"github.com/corvidlabs/metakeeper/pkg/probe"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// Reconcile maps one probe pass plus the cluster attribute into a status,
// a vote score and a promotion policy. It computes; Apply executes the
// side effects. Controllers always consume the pass immediately preceding
// them.
func (a *Agent) Reconcile(ctx context.Context) (types.Reconciliation, error) {
	logger := log.WithComponent("reconciler")

	result, err := a.probe.Run(ctx)
	if errors.Is(err, probe.ErrNoProcess) {
		present, lerr := a.lock.Present()
		if lerr != nil {
			return types.Reconciliation{Status: types.StatusErrGeneric}, lerr
		}
		if present {
			// Process absent with the lock still on disk: the server
			// crashed rather than stopping cleanly.
			a.interventionDiagnostic("server process absent but advisory lock present")
			return types.Reconciliation{Status: types.StatusFailedMaster, Score: types.ScoreUnchanged}, nil
		}
		return types.Reconciliation{Status: types.StatusNotRunning, Score: types.ScoreUnchanged}, nil
	}
	if err != nil {
		return types.Reconciliation{Status: types.StatusErrGeneric}, err
	}

	rec := types.Reconciliation{Probe: result, Score: types.ScoreUnchanged}

	switch result.Role {
	case types.RoleMaster:
		rec.Status = types.StatusRunningMaster
		switch result.Connection {
		case types.ConnRunning:
			rec.Score = types.ScoreLeader
			version := result.Version
			rec.PublishVersion = &version
		case types.ConnBusy:
			// Leave the score alone: heavy I/O must not trigger demotion.
		default:
			// Stopping, starting or any in-between state: alive but not
			// promotion-worthy right now.
			rec.Score = types.ScoreNone
		}

	case types.RoleShadow:
		rec.Status = types.StatusOK
		switch result.Connection {
		case types.ConnConnected, types.ConnDisconnected:
			clusterVersion, cerr := a.attrs.Get(ctx)
			if cerr != nil {
				return types.Reconciliation{Status: types.StatusErrGeneric}, cerr
			}
			rec.Score, rec.Mode = shadowPolicy(result, clusterVersion)
			logger.Debug().
				Uint64("local_version", result.Version).
				Uint64("cluster_version", clusterVersion).
				Str("source", string(result.Source)).
				Str("mode", string(rec.Mode)).
				Int("score", rec.Score).
				Msg("reconciled shadow")
		default:
			// Syncing, stopping, starting: healthy standby, not eligible.
			rec.Score = types.ScoreNone
		}

	default:
		// Unclassified probe fault surfaced verbatim.
		logger.Error().Str("fault", result.Raw).Msg("reconciler saw unclassified probe state")
		rec.Status = types.StatusErrGeneric
	}

	return rec, nil
}

// shadowPolicy derives the vote score and promotion mode for a connected or
// disconnected shadow from local vs cluster-recorded versions.
func shadowPolicy(result types.ProbeResult, clusterVersion uint64) (int, types.PromoteMode) {
	local := result.Version

	// A replica with no metadata at all must never become leader.
	if local == 0 {
		return types.ScoreNone, types.PromotePrevent
	}

	if local >= clusterVersion {
		// Up to date (or the cluster has no recorded version yet, in which
		// case local data is the best the cluster has).
		if result.Source == types.SourceDump {
			return types.ScoreLatest, types.PromoteRestart
		}
		return types.ScoreLatest, types.PromoteReload
	}

	// Behind but not empty: eligible with a reduced weight.
	return types.ScoreBehind, types.PromoteReload
}

// Apply executes the reconciliation's side effects: the vote score and the
// attribute publish. A publish that would not change the stored value is
// skipped so repeated identical passes write nothing.
func (a *Agent) Apply(ctx context.Context, rec types.Reconciliation) error {
	if rec.Score != types.ScoreUnchanged {
		if err := a.cluster.SetVoteScore(ctx, a.cfg.Cluster.Resource, rec.Score); err != nil {
			return fmt.Errorf("failed to set vote score: %w", err)
		}
		metrics.VoteScore.Set(float64(rec.Score))
	}

	if rec.PublishVersion != nil {
		current, err := a.attrs.Get(ctx)
		if err != nil {
			return err
		}
		if current != *rec.PublishVersion {
			written, err := a.attrs.Set(ctx, *rec.PublishVersion)
			if err != nil {
				return fmt.Errorf("failed to publish metadata version: %w", err)
			}
			if written {
				metrics.AttributeWritesTotal.Inc()
				logger := log.WithComponent("reconciler")
				logger.Info().
					Uint64("version", *rec.PublishVersion).
					Msg("published metadata version to cluster attribute")
			}
		}
	}

	metrics.MetadataVersion.Set(float64(rec.Probe.Version))
	return nil
}

// Monitor is the monitor lifecycle action: one reconciliation pass with its
// side effects applied.
func (a *Agent) Monitor(ctx context.Context) (types.Reconciliation, error) {
	rec, err := a.Reconcile(ctx)
	if err != nil {
		return rec, err
	}
	if err := a.Apply(ctx, rec); err != nil {
		return types.Reconciliation{Status: types.StatusErrGeneric, Probe: rec.Probe}, err
	}
	return rec, nil
}
