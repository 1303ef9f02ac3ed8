package probe

import (
	"context"
	"errors"
	"time"

	"github.com/corvidlabs/metakeeper/pkg/admin"
	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/metrics"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// ErrNoProcess means the admin endpoint is unreachable and no server
// process exists. The reconciler decides between a clean stop and a crash
// by looking at the advisory lock.
var ErrNoProcess = errors.New("metadata server process absent")

// Querier asks the local admin endpoint for the status tuple.
type Querier interface {
	Query() (*admin.Status, error)
}

// ProcessTable is the probe's view of the local process state.
type ProcessTable interface {
	Running() (bool, error)
	Transition() (string, error)
	Personality() (string, error)
}

// LeaderSource tells the probe which node the cluster records as leader.
type LeaderSource interface {
	Leader(ctx context.Context, resource string) (string, error)
}

// Probe queries the local metadata server and classifies faults. One
// transient fault is retried after a fixed delay; the total retry budget
// stays well under the external monitor timeout.
type Probe struct {
	querier  Querier
	procs    ProcessTable
	leaders  LeaderSource
	node     string
	resource string

	retryDelay time.Duration

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// New creates a probe for this node.
func New(querier Querier, procs ProcessTable, leaders LeaderSource, node, resource string, retryDelay time.Duration) *Probe {
	return &Probe{
		querier:    querier,
		procs:      procs,
		leaders:    leaders,
		node:       node,
		resource:   resource,
		retryDelay: retryDelay,
		sleep:      time.Sleep,
	}
}

// Run performs one probe. It returns ErrNoProcess when the server is gone;
// every other outcome is a ProbeResult, possibly a degraded one.
func (p *Probe) Run(ctx context.Context) (types.ProbeResult, error) {
	logger := log.WithComponent("probe")

	st, err := p.querier.Query()
	if err == nil {
		return resultFromStatus(st), nil
	}

	raw := err.Error()
	class := admin.Classify(raw)
	metrics.ProbeFaultsTotal.WithLabelValues(class.String()).Inc()

	if class == admin.FaultTransient {
		running, perr := p.procs.Running()
		if perr != nil {
			return types.ProbeResult{}, perr
		}
		if running {
			// Exactly one retry after a fixed delay.
			logger.Warn().Str("fault", raw).Dur("delay", p.retryDelay).Msg("transient probe fault, retrying once")
			metrics.ProbeRetriesTotal.Inc()
			p.sleep(p.retryDelay)

			st, err = p.querier.Query()
			if err == nil {
				return resultFromStatus(st), nil
			}
			raw = err.Error()
			class = admin.Classify(raw)
			metrics.ProbeFaultsTotal.WithLabelValues(class.String()).Inc()
		}
	}

	if class == admin.FaultAmbiguous {
		transition, perr := p.procs.Transition()
		if perr != nil {
			return types.ProbeResult{}, perr
		}
		if transition != "" {
			role, perr := p.personalityRole()
			if perr != nil {
				return types.ProbeResult{}, perr
			}
			conn := types.ConnStarting
			if transition == "stopping" {
				conn = types.ConnStopping
			}
			logger.Info().Str("fault", raw).Str("transition", transition).Msg("probe fault during expected transition")
			return types.ProbeResult{Role: role, Connection: conn}, nil
		}
	}

	running, perr := p.procs.Running()
	if perr != nil {
		return types.ProbeResult{}, perr
	}
	if !running {
		return types.ProbeResult{}, ErrNoProcess
	}

	if class == admin.FaultUnknown {
		// Surfaced verbatim for diagnostics; the reconciler maps this to a
		// generic error.
		logger.Error().Str("fault", raw).Msg("unclassified probe fault")
		return types.ProbeResult{Raw: raw}, nil
	}

	// The fault persists but a server process exists. If the cluster records
	// this node as the current leader, report a degraded-but-alive busy
	// master instead of a fault, so heavy I/O cannot trigger a false
	// demotion. Otherwise it is a shadow that has not caught up yet.
	leader, lerr := p.leaders.Leader(ctx, p.resource)
	if lerr != nil {
		return types.ProbeResult{}, lerr
	}
	if leader == p.node {
		logger.Warn().Str("fault", raw).Msg("persistent probe fault on recorded leader, reporting busy master")
		return types.ProbeResult{Role: types.RoleMaster, Connection: types.ConnBusy}, nil
	}
	logger.Warn().Str("fault", raw).Msg("persistent probe fault, reporting syncing shadow")
	return types.ProbeResult{Role: types.RoleShadow, Connection: types.ConnSyncing}, nil
}

func (p *Probe) personalityRole() (types.ReplicaRole, error) {
	personality, err := p.procs.Personality()
	if err != nil {
		return types.RoleUnknown, err
	}
	switch personality {
	case string(types.RoleMaster):
		return types.RoleMaster, nil
	case string(types.RoleShadow):
		return types.RoleShadow, nil
	default:
		return types.RoleShadow, nil // nodes start life as shadow
	}
}

func resultFromStatus(st *admin.Status) types.ProbeResult {
	return types.ProbeResult{
		Role:       st.Role,
		Connection: st.Connection,
		Version:    st.Version,
		Source:     st.Source,
	}
}
