package cluster

import (
	"context"
	"fmt"

	"github.com/corvidlabs/metakeeper/pkg/config"
	"github.com/corvidlabs/metakeeper/pkg/log"
)

// Cluster is the view of the external resource manager the core needs:
// one shared integer attribute, this node's election weight, the identity
// of the recorded leader, and error-state housekeeping. The manager's own
// quorum/voting algorithm stays outside this interface.
type Cluster interface {
	// GetAttribute reads a named integer attribute; unset reads as 0.
	GetAttribute(ctx context.Context, name string) (uint64, error)

	// SetAttribute writes a named integer attribute with forever lifetime.
	SetAttribute(ctx context.Context, name string, value uint64) error

	// SetVoteScore sets this node's promotion weight for the given
	// resource, persisted across reboot.
	SetVoteScore(ctx context.Context, resource string, score int) error

	// Leader returns the node the cluster currently records as leader for
	// the resource; empty when none is recorded.
	Leader(ctx context.Context, resource string) (string, error)

	// TransitionPending reports whether the cluster believes a transition
	// (an election or a resource move) is currently in progress.
	TransitionPending(ctx context.Context) (bool, error)

	// ClearErrors clears the resource's recorded failures on this node.
	// Idempotent and best-effort.
	ClearErrors(ctx context.Context, resource string) error

	Close() error
}

// New builds the cluster backend selected by the configuration.
func New(cfg *config.Config) (Cluster, error) {
	switch cfg.Cluster.Store {
	case "bolt":
		return NewBoltCluster(cfg.Cluster.BoltPath)
	case "exec":
		return NewExecCluster(cfg.Cluster.AttrTool, cfg.Cluster.CRMTool, cfg.NodeName), nil
	default:
		return nil, fmt.Errorf("unknown cluster store %q", cfg.Cluster.Store)
	}
}

// Attributes is the accessor for the shared metadata-version attribute.
type Attributes struct {
	cluster Cluster
	name    string
}

// NewAttributes creates an accessor for one named attribute.
func NewAttributes(c Cluster, name string) *Attributes {
	return &Attributes{cluster: c, name: name}
}

// Get reads the attribute, defaulting to 0 when unset.
func (a *Attributes) Get(ctx context.Context) (uint64, error) {
	return a.cluster.GetAttribute(ctx, a.name)
}

// Set writes the attribute unless a cluster transition is believed in
// progress; writing during an in-flight election could perturb it. Returns
// whether the write happened.
func (a *Attributes) Set(ctx context.Context, value uint64) (bool, error) {
	pending, err := a.cluster.TransitionPending(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check for pending transition: %w", err)
	}
	if pending {
		logger := log.WithComponent("cluster")
		logger.Debug().
			Str("attribute", a.name).
			Uint64("value", value).
			Msg("transition pending, skipping attribute write")
		return false, nil
	}
	if err := a.cluster.SetAttribute(ctx, a.name, value); err != nil {
		return false, err
	}
	return true, nil
}
