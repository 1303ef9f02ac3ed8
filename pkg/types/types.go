package types

import "fmt"

// ReplicaRole is the role a metadata server reports for itself.
type ReplicaRole string

const (
	RoleUnknown ReplicaRole = ""
	RoleMaster  ReplicaRole = "master"
	RoleShadow  ReplicaRole = "shadow"
)

// ConnectionState is the connection/runtime state a metadata server reports.
type ConnectionState string

const (
	ConnUnknown      ConnectionState = ""
	ConnRunning      ConnectionState = "running"
	ConnStopping     ConnectionState = "stopping"
	ConnStarting     ConnectionState = "starting"
	ConnBusy         ConnectionState = "busy"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnSyncing      ConnectionState = "syncing"
)

// VersionSource says where the reported metadata version was read from.
type VersionSource string

const (
	// SourceLive means the version came from the running server's memory.
	SourceLive VersionSource = "live"
	// SourceDump means the version was read from the offline metadata dump;
	// promoting such a replica requires a restart so it re-reads from disk.
	SourceDump VersionSource = "dump"
)

// ProbeResult is the classified outcome of querying the local metadata server.
type ProbeResult struct {
	Role       ReplicaRole
	Connection ConnectionState
	Version    uint64
	Source     VersionSource

	// Raw carries the unclassified fault text when Role/Connection are unknown.
	Raw string
}

// PromoteMode selects the promotion strategy for this node. It is derived
// from a single reconciliation pass and must never be reused across calls.
type PromoteMode string

const (
	// PromotePrevent refuses promotion: the local replica has no usable metadata.
	PromotePrevent PromoteMode = "prevent"
	// PromoteReload promotes the running shadow in place via an admin command.
	PromoteReload PromoteMode = "reload"
	// PromoteRestart stops the shadow and starts it again as master so it
	// re-reads metadata from disk.
	PromoteRestart PromoteMode = "restart"
)

// Vote score tiers fed to the cluster manager's election weighting.
const (
	ScoreLeader = 1000
	ScoreLatest = 900
	ScoreBehind = 500
	ScoreNone   = 0

	// ScoreUnchanged means the pass leaves the recorded score alone, used
	// for a busy leader so heavy I/O cannot cause a false demotion.
	ScoreUnchanged = -1
)

// StatusCode is the result of a lifecycle action, mapped to a process exit
// code by the CLI so the cluster resource manager can act on it.
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusErrGeneric
	StatusErrArgs
	StatusUnimplemented
	StatusErrPermanent
	StatusErrConfigured
	StatusNotRunning
	StatusRunningMaster
	StatusFailedMaster
)

// String returns the short human-readable name for a status code.
func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusErrGeneric:
		return "generic-error"
	case StatusErrArgs:
		return "argument-error"
	case StatusUnimplemented:
		return "unimplemented"
	case StatusErrPermanent:
		return "permanent-error"
	case StatusErrConfigured:
		return "configuration-error"
	case StatusNotRunning:
		return "not-running"
	case StatusRunningMaster:
		return "running-as-leader"
	case StatusFailedMaster:
		return "failed-leader"
	default:
		return fmt.Sprintf("status(%d)", int(c))
	}
}

// ExitCode maps the status to the numeric code returned to the resource manager.
func (c StatusCode) ExitCode() int {
	return int(c)
}

// Reconciliation is the full output of one reconciler pass. Controllers
// consume the pass that immediately precedes them; nothing here is cached.
type Reconciliation struct {
	Status StatusCode
	Score  int
	Mode   PromoteMode
	Probe  ProbeResult

	// PublishVersion is non-nil when the pass decided the local version
	// should be written to the cluster attribute.
	PublishVersion *uint64
}
