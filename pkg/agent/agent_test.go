package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/metakeeper/pkg/admin"
	"github.com/corvidlabs/metakeeper/pkg/cluster"
	"github.com/corvidlabs/metakeeper/pkg/config"
	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/probe"
	"github.com/corvidlabs/metakeeper/pkg/proc"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// fakeProber plays back a scripted sequence; the last entry repeats.
type fakeProber struct {
	outcomes []probeOutcome
	calls    int
}

type probeOutcome struct {
	result types.ProbeResult
	err    error
}

func (f *fakeProber) Run(context.Context) (types.ProbeResult, error) {
	i := f.calls
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	f.calls++
	return f.outcomes[i].result, f.outcomes[i].err
}

func proberFor(result types.ProbeResult) *fakeProber {
	return &fakeProber{outcomes: []probeOutcome{{result: result}}}
}

type fakeAdmin struct {
	commands []string
	fail     map[string]error
}

func (f *fakeAdmin) Command(cmd string) error {
	f.commands = append(f.commands, cmd)
	if err, ok := f.fail[cmd]; ok {
		return err
	}
	return nil
}

type fakeProcess struct {
	running  bool
	starts   []string
	stops    int
	kills    int
	stopErr  error
	killErr  error
	startErr error
}

func (f *fakeProcess) Start(_ context.Context, personality string) error {
	f.starts = append(f.starts, personality)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeProcess) StopGraceful(context.Context) error {
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

func (f *fakeProcess) Kill(context.Context) error {
	f.kills++
	if f.killErr != nil {
		return f.killErr
	}
	f.running = false
	return nil
}

func (f *fakeProcess) Running() (bool, error) { return f.running, nil }

type fakePersonality struct {
	values []string
}

func (f *fakePersonality) Set(p string) error {
	f.values = append(f.values, p)
	return nil
}

type fakeRotator struct {
	rotations int
	prunes    int
	rotateErr error
}

func (f *fakeRotator) Rotate() error {
	f.rotations++
	return f.rotateErr
}

func (f *fakeRotator) Prune() error {
	f.prunes++
	return nil
}

type fakeClearer struct {
	spawned int
}

func (f *fakeClearer) SpawnAfterPromote() { f.spawned++ }

// countingCluster wraps a BoltCluster and counts mutating calls.
type countingCluster struct {
	*cluster.BoltCluster
	attrWrites  int
	scoreWrites []int
	clears      int
}

func (c *countingCluster) SetAttribute(ctx context.Context, name string, value uint64) error {
	c.attrWrites++
	return c.BoltCluster.SetAttribute(ctx, name, value)
}

func (c *countingCluster) SetVoteScore(ctx context.Context, resource string, score int) error {
	c.scoreWrites = append(c.scoreWrites, score)
	return c.BoltCluster.SetVoteScore(ctx, resource, score)
}

func (c *countingCluster) ClearErrors(ctx context.Context, resource string) error {
	c.clears++
	return c.BoltCluster.ClearErrors(ctx, resource)
}

type fixture struct {
	agent       *Agent
	cfg         *config.Config
	prober      *fakeProber
	admin       *fakeAdmin
	procs       *fakeProcess
	lock        *proc.LockFile
	personality *fakePersonality
	cluster     *countingCluster
	rotator     *fakeRotator
	clearer     *fakeClearer
}

func newFixture(t *testing.T, prober *fakeProber) *fixture {
	t.Helper()
	dataDir := t.TempDir()

	cfg := &config.Config{
		NodeName: "meta-1",
		DataDir:  dataDir,
		Master:   config.MasterConfig{Host: "meta-leader"},
		Process:  config.ProcessConfig{Binary: "/usr/sbin/metaserver", StartTimeout: 200 * time.Millisecond},
		Cluster:  config.ClusterConfig{Attribute: "meta-version", Resource: "meta", Store: "bolt"},
	}

	bolt, err := cluster.NewBoltCluster(filepath.Join(dataDir, "cluster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	f := &fixture{
		cfg:         cfg,
		prober:      prober,
		admin:       &fakeAdmin{},
		procs:       &fakeProcess{},
		lock:        proc.NewLockFile(cfg.LockFile()),
		personality: &fakePersonality{},
		cluster:     &countingCluster{BoltCluster: bolt},
		rotator:     &fakeRotator{},
		clearer:     &fakeClearer{},
	}
	f.agent = New(cfg, prober, f.admin, f.procs, f.lock, f.personality, f.cluster, f.rotator, f.clearer)
	f.agent.startPollDelay = 5 * time.Millisecond
	return f
}

func (f *fixture) setClusterVersion(t *testing.T, v uint64) {
	t.Helper()
	require.NoError(t, f.cluster.BoltCluster.SetAttribute(context.Background(), "meta-version", v))
	f.cluster.attrWrites = 0
}

func shadowProbe(conn types.ConnectionState, version uint64, source types.VersionSource) types.ProbeResult {
	return types.ProbeResult{Role: types.RoleShadow, Connection: conn, Version: version, Source: source}
}

// Scenario: running leader publishes its version and takes the top score.
func TestMonitorRunningMaster(t *testing.T) {
	f := newFixture(t, proberFor(types.ProbeResult{
		Role: types.RoleMaster, Connection: types.ConnRunning, Version: 57, Source: types.SourceLive,
	}))

	rec, err := f.agent.Monitor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.StatusRunningMaster, rec.Status)
	assert.Equal(t, types.ScoreLeader, rec.Score)

	value, err := f.cluster.GetAttribute(context.Background(), "meta-version")
	require.NoError(t, err)
	assert.Equal(t, uint64(57), value)
	assert.Equal(t, []int{types.ScoreLeader}, f.cluster.scoreWrites)
}

func TestMonitorIdempotent(t *testing.T) {
	f := newFixture(t, proberFor(types.ProbeResult{
		Role: types.RoleMaster, Connection: types.ConnRunning, Version: 57,
	}))

	for i := 0; i < 3; i++ {
		rec, err := f.agent.Monitor(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.StatusRunningMaster, rec.Status)
		assert.Equal(t, types.ScoreLeader, rec.Score)
	}
	// Unchanged input: one attribute write, not three.
	assert.Equal(t, 1, f.cluster.attrWrites)
}

func TestMonitorMasterTransitions(t *testing.T) {
	for _, conn := range []types.ConnectionState{types.ConnStopping, types.ConnStarting} {
		t.Run(string(conn), func(t *testing.T) {
			f := newFixture(t, proberFor(types.ProbeResult{Role: types.RoleMaster, Connection: conn, Version: 57}))

			rec, err := f.agent.Monitor(context.Background())
			require.NoError(t, err)
			assert.Equal(t, types.StatusRunningMaster, rec.Status)
			assert.Equal(t, types.ScoreNone, rec.Score)
			assert.Equal(t, 0, f.cluster.attrWrites)
		})
	}
}

func TestMonitorBusyMasterLeavesScoreAlone(t *testing.T) {
	f := newFixture(t, proberFor(types.ProbeResult{Role: types.RoleMaster, Connection: types.ConnBusy}))

	rec, err := f.agent.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunningMaster, rec.Status)
	assert.Empty(t, f.cluster.scoreWrites)
	assert.Equal(t, 0, f.cluster.attrWrites)
}

// Non-synced standbys always report success with the minimum weight.
func TestMonitorShadowNotEligible(t *testing.T) {
	for _, conn := range []types.ConnectionState{types.ConnSyncing, types.ConnStopping, types.ConnStarting} {
		t.Run(string(conn), func(t *testing.T) {
			f := newFixture(t, proberFor(shadowProbe(conn, 12, types.SourceLive)))

			rec, err := f.agent.Monitor(context.Background())
			require.NoError(t, err)
			assert.Equal(t, types.StatusOK, rec.Status)
			assert.Equal(t, types.ScoreNone, rec.Score)
			assert.NotEqual(t, types.StatusRunningMaster, rec.Status)
		})
	}
}

func TestMonitorShadowPolicy(t *testing.T) {
	tests := []struct {
		name           string
		probe          types.ProbeResult
		clusterVersion uint64
		wantScore      int
		wantMode       types.PromoteMode
	}{
		{
			name:           "up to date from live memory",
			probe:          shadowProbe(types.ConnConnected, 10, types.SourceLive),
			clusterVersion: 10,
			wantScore:      types.ScoreLatest,
			wantMode:       types.PromoteReload,
		},
		{
			name:           "ahead of cluster record",
			probe:          shadowProbe(types.ConnDisconnected, 12, types.SourceLive),
			clusterVersion: 10,
			wantScore:      types.ScoreLatest,
			wantMode:       types.PromoteReload,
		},
		{
			name:           "up to date from offline dump needs restart",
			probe:          shadowProbe(types.ConnDisconnected, 10, types.SourceDump),
			clusterVersion: 10,
			wantScore:      types.ScoreLatest,
			wantMode:       types.PromoteRestart,
		},
		{
			name:           "behind but usable",
			probe:          shadowProbe(types.ConnConnected, 7, types.SourceLive),
			clusterVersion: 10,
			wantScore:      types.ScoreBehind,
			wantMode:       types.PromoteReload,
		},
		{
			name:           "empty replica never eligible",
			probe:          shadowProbe(types.ConnConnected, 0, types.SourceLive),
			clusterVersion: 5,
			wantScore:      types.ScoreNone,
			wantMode:       types.PromotePrevent,
		},
		{
			name:           "empty replica with empty cluster record",
			probe:          shadowProbe(types.ConnConnected, 0, types.SourceLive),
			clusterVersion: 0,
			wantScore:      types.ScoreNone,
			wantMode:       types.PromotePrevent,
		},
		{
			name:           "data present but cluster record unset",
			probe:          shadowProbe(types.ConnConnected, 3, types.SourceLive),
			clusterVersion: 0,
			wantScore:      types.ScoreLatest,
			wantMode:       types.PromoteReload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, proberFor(tt.probe))
			f.setClusterVersion(t, tt.clusterVersion)

			rec, err := f.agent.Monitor(context.Background())
			require.NoError(t, err)
			assert.Equal(t, types.StatusOK, rec.Status)
			assert.Equal(t, tt.wantScore, rec.Score)
			assert.Equal(t, tt.wantMode, rec.Mode)
			// No shadow pass publishes the attribute.
			assert.Equal(t, 0, f.cluster.attrWrites)
		})
	}
}

func TestMonitorProcessAbsent(t *testing.T) {
	f := newFixture(t, &fakeProber{outcomes: []probeOutcome{{err: probe.ErrNoProcess}}})

	rec, err := f.agent.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotRunning, rec.Status)
}

// Scenario: process absent with the lock present is a crash, not a stop.
func TestMonitorCrashDetected(t *testing.T) {
	f := newFixture(t, &fakeProber{outcomes: []probeOutcome{{err: probe.ErrNoProcess}}})
	require.NoError(t, f.lock.Create(1234))

	rec, err := f.agent.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailedMaster, rec.Status)
}

func TestMonitorUnclassifiedFault(t *testing.T) {
	f := newFixture(t, proberFor(types.ProbeResult{Raw: "metadata checksum mismatch"}))

	rec, err := f.agent.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusErrGeneric, rec.Status)
}

func TestPromoteReload(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 10, types.SourceLive)))
	f.setClusterVersion(t, 10)

	status := f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, []string{admin.CmdPromote}, f.admin.commands)
	assert.Equal(t, []string{"master"}, f.personality.values)
	assert.Equal(t, 1, f.clearer.spawned)
}

func TestPromoteReloadFailure(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 10, types.SourceLive)))
	f.setClusterVersion(t, 10)
	f.admin.fail = map[string]error{admin.CmdPromote: errors.New("promote rejected")}

	status := f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusFailedMaster, status)
	assert.Equal(t, 0, f.clearer.spawned)
}

func TestPromoteRestart(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnDisconnected, 10, types.SourceDump)))
	f.setClusterVersion(t, 10)
	f.procs.running = true

	status := f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, 1, f.procs.stops)
	assert.Equal(t, []string{"master"}, f.procs.starts)
	// Reload command is never issued on the restart path.
	assert.Empty(t, f.admin.commands)

	present, err := f.lock.Present()
	require.NoError(t, err)
	assert.False(t, present)
}

func TestPromoteRestartFailure(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnDisconnected, 10, types.SourceDump)))
	f.setClusterVersion(t, 10)
	f.procs.startErr = errors.New("bind failed")

	status := f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusFailedMaster, status)
	assert.Equal(t, 0, f.clearer.spawned)
}

// Scenario: an empty replica is refused and the refusal sticks.
func TestPromotePreventAndBlock(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 0, types.SourceLive)))
	f.setClusterVersion(t, 5)

	status := f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusErrPermanent, status)
	assert.Empty(t, f.admin.commands)
	assert.Empty(t, f.procs.starts)

	// A second attempt is blocked before it even probes.
	probes := f.prober.calls
	status = f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusErrPermanent, status)
	assert.Equal(t, probes, f.prober.calls)
}

// A not-yet-ready shadow fails the promote attempt without writing the
// persistent refusal marker, so the node can promote once it catches up.
func TestPromoteNotReadyShadowRetriable(t *testing.T) {
	prober := &fakeProber{outcomes: []probeOutcome{
		{result: shadowProbe(types.ConnSyncing, 10, types.SourceLive)},
		{result: shadowProbe(types.ConnConnected, 12, types.SourceLive)},
	}}
	f := newFixture(t, prober)
	f.setClusterVersion(t, 10)

	status := f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusErrGeneric, status)
	assert.Empty(t, f.admin.commands)

	// Caught up now: the same node promotes normally.
	status = f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, []string{admin.CmdPromote}, f.admin.commands)
}

func TestPromoteAlreadyLeader(t *testing.T) {
	f := newFixture(t, proberFor(types.ProbeResult{
		Role: types.RoleMaster, Connection: types.ConnRunning, Version: 57,
	}))

	status := f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusRunningMaster, status)
	assert.Empty(t, f.admin.commands)
}

func TestPromoteNotRunning(t *testing.T) {
	f := newFixture(t, &fakeProber{outcomes: []probeOutcome{{err: probe.ErrNoProcess}}})

	status := f.agent.Promote(context.Background())
	assert.Equal(t, types.StatusErrGeneric, status)
}

func TestDemoteRunningLeader(t *testing.T) {
	f := newFixture(t, proberFor(types.ProbeResult{
		Role: types.RoleMaster, Connection: types.ConnRunning, Version: 57,
	}))
	require.NoError(t, f.lock.Create(1234))

	status := f.agent.Demote(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, []string{admin.CmdStopQuick}, f.admin.commands)

	present, err := f.lock.Present()
	require.NoError(t, err)
	assert.False(t, present)
}

func TestDemoteShadowNoop(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 10, types.SourceLive)))

	status := f.agent.Demote(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Empty(t, f.admin.commands)
}

func TestDemoteStoppedInvalid(t *testing.T) {
	f := newFixture(t, &fakeProber{outcomes: []probeOutcome{{err: probe.ErrNoProcess}}})

	status := f.agent.Demote(context.Background())
	assert.Equal(t, types.StatusErrGeneric, status)
}

func TestStopLeaderKeepsSnapshot(t *testing.T) {
	f := newFixture(t, proberFor(types.ProbeResult{
		Role: types.RoleMaster, Connection: types.ConnRunning, Version: 57,
	}))
	f.procs.running = true
	require.NoError(t, f.lock.Create(1234))

	status := f.agent.Stop(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, 1, f.procs.stops)
	assert.Equal(t, 0, f.rotator.rotations)

	present, err := f.lock.Present()
	require.NoError(t, err)
	assert.False(t, present)
}

func TestStopShadowRotates(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 10, types.SourceLive)))
	f.procs.running = true

	status := f.agent.Stop(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, 1, f.rotator.rotations)
	assert.Equal(t, 1, f.rotator.prunes)
}

func TestStopEmptyShadowSkipsRotation(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 0, types.SourceLive)))
	f.procs.running = true

	status := f.agent.Stop(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, 0, f.rotator.rotations)
}

func TestStopEscalatesToKill(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 0, types.SourceLive)))
	f.procs.running = true
	f.procs.stopErr = errors.New("stop timed out")

	status := f.agent.Stop(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, 1, f.procs.kills)
}

func TestStopKillFailure(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 0, types.SourceLive)))
	f.procs.running = true
	f.procs.stopErr = errors.New("stop timed out")
	f.procs.killErr = errors.New("kill failed")

	status := f.agent.Stop(context.Background())
	assert.Equal(t, types.StatusErrGeneric, status)
}

func TestStopAlreadyStopped(t *testing.T) {
	f := newFixture(t, &fakeProber{outcomes: []probeOutcome{{err: probe.ErrNoProcess}}})

	status := f.agent.Stop(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, 0, f.procs.stops)
}

func TestStartFromStopped(t *testing.T) {
	prober := &fakeProber{outcomes: []probeOutcome{
		{err: probe.ErrNoProcess},
		{result: shadowProbe(types.ConnSyncing, 0, types.SourceLive)},
	}}
	f := newFixture(t, prober)

	status := f.agent.Start(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, []string{"shadow"}, f.procs.starts)
	assert.Equal(t, []int{types.ScoreNone}, f.cluster.scoreWrites)
}

func TestStartIdempotentWhenRunning(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 10, types.SourceLive)))

	status := f.agent.Start(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Empty(t, f.procs.starts)
}

func TestStartClearsCrashResidue(t *testing.T) {
	prober := &fakeProber{outcomes: []probeOutcome{
		{err: probe.ErrNoProcess},
		{result: shadowProbe(types.ConnSyncing, 0, types.SourceLive)},
	}}
	f := newFixture(t, prober)
	require.NoError(t, f.lock.Create(1234))

	status := f.agent.Start(context.Background())
	assert.Equal(t, types.StatusOK, status)
	assert.Equal(t, []string{"shadow"}, f.procs.starts)
}

func TestStartLaunchFailure(t *testing.T) {
	f := newFixture(t, &fakeProber{outcomes: []probeOutcome{{err: probe.ErrNoProcess}}})
	f.procs.startErr = errors.New("exec format error")

	status := f.agent.Start(context.Background())
	assert.Equal(t, types.StatusErrGeneric, status)
}

func TestStartProbeNeverComesUp(t *testing.T) {
	f := newFixture(t, &fakeProber{outcomes: []probeOutcome{{err: probe.ErrNoProcess}}})
	f.cfg.Process.StartTimeout = 20 * time.Millisecond

	status := f.agent.Start(context.Background())
	assert.Equal(t, types.StatusErrGeneric, status)
}

func TestClearErrorsRepeatsWithDelays(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 10, types.SourceLive)))

	f.agent.ClearErrors(context.Background(), []time.Duration{time.Millisecond, time.Millisecond})
	assert.Equal(t, 2, f.cluster.clears)
}

func TestClearErrorsHonorsCancellation(t *testing.T) {
	f := newFixture(t, proberFor(shadowProbe(types.ConnConnected, 10, types.SourceLive)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.agent.ClearErrors(ctx, []time.Duration{time.Hour})
	assert.Equal(t, 0, f.cluster.clears)
}
