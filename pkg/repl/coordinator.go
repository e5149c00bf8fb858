package repl

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/replsetd/replsetd/internal/concurrent"
	"github.com/replsetd/replsetd/pkg/repl/topology"
	"github.com/replsetd/replsetd/pkg/rlog"
	"github.com/replsetd/replsetd/pkg/rmetrics"
)

// QuorumChecker runs a remote quorum check against a candidate
// configuration before it is installed. The in-process default always
// succeeds; a networked deployment supplies a real implementation that
// contacts every member.
type QuorumChecker interface {
	CheckQuorum(cfg Config) error
}

type noopQuorumChecker struct{}

func (noopQuorumChecker) CheckQuorum(Config) error { return nil }

// Coordinator is the public facade (§4.3). All operations are externally
// thread-safe; heavy topology work is deferred to the Driver.
type Coordinator struct {
	mu sync.Mutex // protects the fields below, never held across a driver wait

	config      Config
	configState *configStateMachine
	waiters     *WaiterRegistry
	progress    *ProgressMap
	selfRID     RID
	replMode    ReplicationMode
	seedList    map[string]bool

	driver      *topology.Driver
	topoVal     atomic.Value // topology.State
	ext         ExternalState
	quorum      QuorumChecker
	heartbeats  *HeartbeatScheduler
	globalLock  *GlobalExclusiveLock
	pool        *concurrent.Pool
	logger      zerolog.Logger

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewCoordinator builds a Coordinator and returns it in the Uninitialized
// config state with no configuration installed. Callers typically follow with a LoadLocalConfigDocument-backed
// processReplSetInitiate or installation of a previously-persisted config.
func NewCoordinator(ext ExternalState, transport HeartbeatTransport, mode ReplicationMode) *Coordinator {
	c := &Coordinator{
		configState: newConfigStateMachine(StateStartingUp),
		waiters:     NewWaiterRegistry(),
		progress:    NewProgressMap(),
		replMode:    mode,
		seedList:    make(map[string]bool),
		driver:      topology.NewDriver(),
		ext:         ext,
		quorum:      noopQuorumChecker{},
		globalLock:  NewGlobalExclusiveLock(),
		pool:        concurrent.New(4),
		logger:      rlog.WithComponent("coordinator"),
		shutdownCh:  make(chan struct{}),
	}
	c.topoVal.Store(topology.New())

	rid, err := ext.EnsureMe()
	if err != nil {
		c.logger.Error().Err(err).Msg("ensureMe failed")
	}
	c.selfRID = rid
	c.progress.Ensure(rid, -1, "")

	c.heartbeats = NewHeartbeatScheduler(transport, c.onHeartbeatResult)
	c.configState.set(StateUninitialized)
	return c
}

// SetQuorumChecker overrides the default no-op quorum checker.
func (c *Coordinator) SetQuorumChecker(q QuorumChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quorum = q
}

func (c *Coordinator) topo() topology.State {
	return c.topoVal.Load().(topology.State)
}

func (c *Coordinator) setTopo(s topology.State) {
	c.topoVal.Store(s)
}

// isPrimary reports whether the local node currently believes it is primary.
func (c *Coordinator) isPrimary() bool {
	return c.topo().Role() == RoleLeader
}

// ---- awaitReplication -----------------------------------------------------

// AwaitReplication blocks until opTime satisfies wc or ctx is done,
// implementing the fast paths and predicate loop of §4.3.
func (c *Coordinator) AwaitReplication(ctx context.Context, opTime OpTime, wc WriteConcern) (WaiterStatus, time.Duration, error) {
	start := time.Now()

	if c.replMode == ModeNone || (wc.IsMajority() && c.replMode == ModeMasterSlave) {
		return WaiterOK, time.Since(start), nil
	}
	if opTime.IsNull() {
		return WaiterOK, time.Since(start), nil
	}
	if c.replMode.UsingReplSets() && !c.isPrimary() {
		return WaiterNotMaster, time.Since(start), NewError(CodeNotMaster, "not primary")
	}
	if wc.IsNumeric() && wc.WNumNodes <= 1 {
		if self, ok := c.progress.Get(c.selfRID); ok && self.OpTime.GreaterOrEqual(opTime) {
			return WaiterOK, time.Since(start), nil
		}
	}

	w := c.waiters.push(opTime, wc)
	defer c.waiters.pop(w.opID)
	rmetrics.WaitersActive.Set(float64(c.waiters.Len()))
	defer rmetrics.WaitersActive.Set(float64(c.waiters.Len() - 1))

	timer := rmetrics.NewTimer()
	defer func() {
		timer.ObserveDuration(rmetrics.AwaitReplicationDuration)
	}()

	// Check once immediately in case the position is already satisfied —
	// WakeSatisfied only fires on a subsequent setLastOptime call.
	if done, _ := Done(opTime, wc, c.currentConfig(), c.progress, c.selfRID); done {
		return WaiterOK, time.Since(start), nil
	}

	for {
		status, stillMaster := w.snapshot()
		if status != WaiterPending {
			return c.finishWait(status, stillMaster, start)
		}
		select {
		case <-w.notify:
			status, stillMaster = w.snapshot()
			return c.finishWait(status, stillMaster, start)
		case <-ctx.Done():
			return WaiterExceededTimeLimit, time.Since(start), NewError(CodeExceededTimeLimit, "await replication timed out")
		case <-c.shutdownCh:
			return WaiterShutdownInProgress, time.Since(start), NewError(CodeShutdownInProgress, "shutdown in progress")
		}
	}
}

func (c *Coordinator) finishWait(status WaiterStatus, stillMaster bool, start time.Time) (WaiterStatus, time.Duration, error) {
	elapsed := time.Since(start)
	switch status {
	case WaiterOK:
		rmetrics.AwaitReplicationResult.WithLabelValues("ok").Inc()
		return WaiterOK, elapsed, nil
	case WaiterNotMaster:
		rmetrics.AwaitReplicationResult.WithLabelValues("not_master").Inc()
		return status, elapsed, NewError(CodeNotMaster, "stepped down while waiting")
	case WaiterShutdownInProgress:
		rmetrics.AwaitReplicationResult.WithLabelValues("shutdown").Inc()
		return status, elapsed, NewError(CodeShutdownInProgress, "shutdown in progress")
	default:
		rmetrics.AwaitReplicationResult.WithLabelValues("exceeded_time_limit").Inc()
		return WaiterExceededTimeLimit, elapsed, NewError(CodeExceededTimeLimit, "await replication timed out")
	}
}

func (c *Coordinator) currentConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// ---- setLastOptime ---------------------------------------------------------

// SetLastOptime updates rid's progress entry. Remote entries only advance
// (monotonic); self may move backward to support rollback.
func (c *Coordinator) SetLastOptime(rid RID, ts OpTime) error {
	advanced, found := c.progress.Advance(rid, c.selfRID, ts)
	if !found {
		return NewError(CodeNodeNotFound, "setLastOptime for unhandshaken rid")
	}
	if !advanced {
		return nil
	}

	cfg := c.currentConfig()
	c.waiters.WakeSatisfied(func(awaited OpTime, wc WriteConcern) bool {
		done, _ := Done(awaited, wc, cfg, c.progress, c.selfRID)
		return done
	})

	if !c.isPrimary() {
		c.pool.Submit(func() { c.ext.ForwardSlaveProgress() })
	}
	return nil
}

// HandshakeMember creates a progress entry for a newly connecting
// downstream member.
func (c *Coordinator) HandshakeMember(rid RID, memberID int, hostAndPort string) {
	c.progress.Ensure(rid, memberID, hostAndPort)
	if !c.isPrimary() {
		c.ext.ForwardSlaveHandshake(rid, memberID)
	}
}

// ---- stepDown ---------------------------------------------------------------

// StepDown implements §4.3's stepDown, including the non-deadlocking
// caught-up wait and the force override.
func (c *Coordinator) StepDown(ctx context.Context, force bool, waitTime, stepdownTime time.Duration) error {
	if !c.globalLock.TryLock(stepdownTime) {
		return NewError(CodeExceededTimeLimit, "could not acquire global exclusive lock")
	}
	defer c.globalLock.Unlock()

	if !c.isPrimary() {
		return NewError(CodeNotMaster, "stepDown called on a non-primary")
	}

	deadline := time.Now().Add(stepdownTime)
	if waitTime > stepdownTime {
		waitTime = stepdownTime
	}
	waitCtx, cancel := context.WithTimeout(ctx, waitTime)
	defer cancel()

	caughtUp := c.waitForCaughtUpSecondary(waitCtx)
	if !caughtUp && !force {
		return NewError(CodeExceededTimeLimit, "no electable secondary caught up within waitTime")
	}

	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		if !c.isPrimary() {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		c.setTopo(c.topo().Freeze(deadline))
		newTopo, _ := c.topo().ProcessExplicitStepDown(time.Now(), deadline)
		c.setTopo(newTopo)
		c.waiters.WakeAllNotMaster()
		c.ext.CloseConnections()
		rmetrics.StepDownsTotal.WithLabelValues("ok").Inc()
	})
	return h.Wait()
}

// waitForCaughtUpSecondary polls Done with the synthetic
// kStepDownCheckWriteConcernModeName mode for at least one other electable
// member at or past our own applied position, reusing the same write-concern
// predicate awaitReplication calls rather than a bespoke comparison, per
// §4.3.
func (c *Coordinator) waitForCaughtUpSecondary(ctx context.Context) bool {
	cfg := c.currentConfig()
	self, _ := c.progress.Get(c.selfRID)
	wc := WriteConcern{WMode: kStepDownCheckWriteConcernModeName}
	check := func() bool {
		done, _ := Done(self.OpTime, wc, cfg, c.progress, c.selfRID)
		return done
	}
	if check() {
		return true
	}
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if check() {
				return true
			}
		}
	}
}

// ---- setFollowerMode --------------------------------------------------------

// SetFollowerMode implements §4.3's setFollowerMode.
func (c *Coordinator) SetFollowerMode(newState MemberState) error {
	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		newTopo, hint, err := c.topo().ProcessFollowerModeChange(newState, time.Now())
		if err != nil {
			return
		}
		c.setTopo(newTopo)
		if hint.StartElection {
			c.winElectionLocked()
		}
	})
	if err := h.Wait(); err != nil {
		return err
	}
	if c.topo().Role() == RoleLeader {
		return NewError(CodeNotMaster, "cannot change follower mode while leader")
	}
	return nil
}

func (c *Coordinator) winElectionLocked() {
	electionID := newElectionID()
	self, _ := c.progress.Get(c.selfRID)
	c.setTopo(c.topo().ProcessWinElection(electionID, self.OpTime))
	rmetrics.ElectionsWon.Inc()
}

func newElectionID() string {
	return string(NewRID())
}

// ---- drain protocol ----------------------------------------------------------

// IsWaitingForDrainToComplete reports whether the coordinator is still
// declining external writes after winning an election.
func (c *Coordinator) IsWaitingForDrainToComplete() bool {
	return c.topo().IsWaitingForDrain()
}

// SignalDrainComplete implements the non-deadlocking double-check dance of
// §4.3: check the flag, release, acquire the global lock, re-check, clear,
// drop temp collections, release.
func (c *Coordinator) SignalDrainComplete(ctx context.Context) error {
	if !c.IsWaitingForDrainToComplete() {
		return nil
	}
	if !c.globalLock.TryLock(30 * time.Second) {
		return NewError(CodeExceededTimeLimit, "could not acquire global exclusive lock for drain")
	}
	defer c.globalLock.Unlock()

	if !c.IsWaitingForDrainToComplete() {
		return nil
	}

	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		c.setTopo(c.topo().ClearDrain())
	})
	if err := h.Wait(); err != nil {
		return err
	}
	return c.ext.DropAllTempCollections()
}

// ---- reconfig ------------------------------------------------------------

// ProcessReplSetInitiate implements §4.3's processReplSetInitiate.
func (c *Coordinator) ProcessReplSetInitiate(cfg Config) error {
	if err := c.configState.requireState(StateUninitialized, CodeAlreadyInitialized); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.configState.set(StateInitiating)

	if err := c.quorum.CheckQuorum(cfg); err != nil {
		c.configState.set(StateUninitialized)
		return err
	}
	if err := c.ext.StoreLocalConfigDocument(cfg); err != nil {
		c.configState.set(StateUninitialized)
		return err
	}

	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		c.installConfigLocked(cfg)
	})
	if err := h.Wait(); err != nil {
		c.configState.set(StateUninitialized)
		return err
	}
	c.configState.set(StateSteady)
	return nil
}

// ReconfigArgs carries processReplSetReconfig's inputs.
type ReconfigArgs struct {
	Force        bool
	NewConfigObj Config
}

// ProcessReplSetReconfig implements §4.3's processReplSetReconfig, including
// the force-bump of the submitted version per §4.4/§6.
func (c *Coordinator) ProcessReplSetReconfig(args ReconfigArgs) error {
	if err := c.configState.requireState(StateSteady, CodeConfigurationInProgress); err != nil {
		return err
	}
	newCfg := args.NewConfigObj

	if args.Force {
		bumped, err := forceReconfigVersion(c.currentConfig().Version)
		if err != nil {
			return Wrap(CodeInternalError, "force reconfig version bump failed", err)
		}
		newCfg.Version = bumped
	} else if !c.isPrimary() {
		return NewError(CodeNotMaster, "reconfig requires primary unless force=true")
	}

	if err := newCfg.Validate(); err != nil {
		return err
	}
	c.configState.set(StateReconfiguring)

	if !args.Force {
		if err := c.quorum.CheckQuorum(newCfg); err != nil {
			c.configState.set(StateSteady)
			return err
		}
	}
	if err := c.ext.StoreLocalConfigDocument(newCfg); err != nil {
		c.configState.set(StateSteady)
		return err
	}

	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		c.setCurrentRSConfigLocked(newCfg)
	})
	if err := h.Wait(); err != nil {
		c.configState.set(StateSteady)
		return err
	}
	c.configState.set(StateSteady)
	return nil
}

// forceReconfigVersion draws old_version + 10000 + U[0,100000) from a
// cryptographic RNG, per §4.3/§6.
func forceReconfigVersion(oldVersion int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000))
	if err != nil {
		return 0, err
	}
	return oldVersion + 10000 + n.Int64(), nil
}

func (c *Coordinator) installConfigLocked(cfg Config) {
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()

	newTopo, hint := c.topo().SetConfig(cfg, time.Now())
	c.setTopo(newTopo)
	c.reconcileProgressMap(cfg)
	if hint.StartElection {
		c.winElectionLocked()
	}
	c.heartbeats.Reconcile(cfg)
}

func (c *Coordinator) setCurrentRSConfigLocked(cfg Config) {
	c.heartbeats.Stop()
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()

	wasPrimary := c.isPrimary()
	newTopo, hint := c.topo().SetConfig(cfg, time.Now())
	c.setTopo(newTopo)
	if hint.StartElection {
		c.winElectionLocked()
	}
	c.reconcileProgressMap(cfg)

	stillPrimary := c.isPrimary()
	if wasPrimary && !stillPrimary || !cfg.HasSelf() {
		c.ext.CloseConnections()
	} else {
		c.ext.SignalApplierToChooseNewSyncSource()
	}
	c.heartbeats = NewHeartbeatScheduler(c.heartbeats.transport, c.onHeartbeatResult)
	c.heartbeats.Reconcile(cfg)
}

// reconcileProgressMap prunes progress entries for members removed from cfg
// and ensures an entry exists for self.
func (c *Coordinator) reconcileProgressMap(cfg Config) {
	valid := make(map[int]bool, len(cfg.Members))
	for _, m := range cfg.Members {
		valid[m.ID] = true
	}
	for _, e := range c.progress.Snapshot() {
		if e.RID == c.selfRID {
			continue
		}
		if !valid[e.MemberID] {
			c.progress.Remove(e.RID)
		}
	}
	if cfg.HasSelf() {
		self := cfg.Self()
		c.progress.UpdateIdentity(c.selfRID, self.ID, self.Host)
	}
}

// ---- heartbeat path -----------------------------------------------------

// ProcessHeartbeat implements §4.3's processHeartbeat, including the
// bootstrap "rescue" path for a node joining a foreign cluster.
func (c *Coordinator) ProcessHeartbeat(req topology.HeartbeatRequest) (topology.HeartbeatResponse, error) {
	state := c.configState.get()
	if state == StatePreStart || state == StateStartingUp {
		return topology.HeartbeatResponse{}, NewError(CodeNotYetInitialized, "heartbeat before startup completed")
	}

	var resp topology.HeartbeatResponse
	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		resp = c.topo().ProcessHeartbeatRequest(req, time.Now())
	})
	if err := h.Wait(); err != nil {
		return topology.HeartbeatResponse{}, err
	}

	c.mu.Lock()
	alreadySeeded := c.seedList[req.SenderHost]
	if !alreadySeeded {
		c.seedList[req.SenderHost] = true
	}
	c.mu.Unlock()

	if !c.currentConfig().HasSelf() && !alreadySeeded {
		c.logger.Info().Str("sender", req.SenderHost).Msg("bootstrapping into foreign cluster, probing sender")
		c.heartbeats.ProbeAdHoc(-1, req.SenderHost, req.SetName, req.SenderConfigVer)
	}
	return resp, nil
}

// ProcessReplSetRequestVotes implements §4.3's vote-request handling: the
// candidate's term and position are checked against our own inside a driver
// task, since granting a vote mutates votedForTerm/highestVoted.
func (c *Coordinator) ProcessReplSetRequestVotes(req topology.ElectVoteRequest) (topology.ElectVoteResponse, error) {
	state := c.configState.get()
	if state == StatePreStart || state == StateStartingUp || state == StateUninitialized {
		return topology.ElectVoteResponse{}, NewError(CodeNotYetInitialized, "vote request before startup completed")
	}

	var resp topology.ElectVoteResponse
	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		newTopo, r := c.topo().ProcessElectVoteRequest(req)
		c.setTopo(newTopo)
		resp = r
	})
	if err := h.Wait(); err != nil {
		return topology.ElectVoteResponse{}, err
	}
	return resp, nil
}

func (c *Coordinator) onHeartbeatResult(memberID int, hostAndPort string, result HeartbeatProbeResult, err error) {
	if err != nil {
		return
	}
	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		newTopo, _ := c.topo().ProcessHeartbeatResult(topology.HeartbeatResult{
			MemberID:      memberID,
			MemberState:   result.MemberState,
			ConfigVersion: result.ConfigVersion,
			AppliedOpTime: result.AppliedOpTime,
			Up:            true,
		}, time.Now())
		c.setTopo(newTopo)
	})
	_ = h.Wait()
}

// ---- sync-source policy ---------------------------------------------------

// ChooseNewSyncSource delegates to the topology driver and returns the
// chosen host, or "" if none is eligible.
func (c *Coordinator) ChooseNewSyncSource(candidates []string) string {
	var chosen string
	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		now := time.Now()
		t := c.topo().ClearExpiredBlacklist(now)
		for _, host := range candidates {
			if !t.IsBlacklisted(host, now) {
				chosen = host
				t = t.SetSyncSource(host)
				break
			}
		}
		c.setTopo(t)
	})
	_ = h.Wait()
	return chosen
}

// BlacklistSyncSource marks host ineligible until until.
func (c *Coordinator) BlacklistSyncSource(host string, until time.Time) {
	h := c.driver.Schedule(func(cancelled bool) {
		if cancelled {
			return
		}
		c.setTopo(c.topo().BlacklistSyncSource(host, until))
	})
	_ = h.Wait()
}

// ShouldChangeSyncSource reports whether current should be replaced.
func (c *Coordinator) ShouldChangeSyncSource(current string) bool {
	return c.topo().ShouldChangeSyncSource(current, time.Now())
}

// ---- lifecycle -------------------------------------------------------------

// WaitForStartUpComplete blocks until the configuration state leaves
// {PreStart, StartingUp}.
func (c *Coordinator) WaitForStartUpComplete() {
	c.configState.waitUntilPast(StatePreStart, StateStartingUp)
}

// RollbackID returns the current rollback counter.
func (c *Coordinator) RollbackID() int { return c.ext.RollbackID() }

// Shutdown wakes every waiter with ShutdownInProgress, stops the heartbeat
// scheduler and the topology driver, then closes connections.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
		c.waiters.WakeAllShutdown()
		c.heartbeats.Stop()
		c.driver.Shutdown()
		c.pool.Stop()
		c.ext.CloseConnections()
	})
}

// CurrentMemberState reports the externally-visible member state.
func (c *Coordinator) CurrentMemberState() MemberState {
	return c.topo().MemberState()
}

// GetReplicaSetConfig returns the installed configuration.
func (c *Coordinator) GetReplicaSetConfig() Config {
	return c.currentConfig()
}

// GetMyID returns the local member's configured id, panicking if the local
// node is not part of the current configuration.
func (c *Coordinator) GetMyID() int {
	cfg := c.currentConfig()
	return cfg.Self().ID
}

// GetHostsWrittenTo returns the host:port of every member whose applied
// position is at or past t.
func (c *Coordinator) GetHostsWrittenTo(t OpTime) []string {
	cfg := c.currentConfig()
	var hosts []string
	for _, e := range c.progress.Snapshot() {
		if !e.OpTime.GreaterOrEqual(t) {
			continue
		}
		if m, ok := cfg.MemberByID(e.MemberID); ok {
			hosts = append(hosts, m.Host)
		}
	}
	return hosts
}

// WaitForMemberState blocks until the local member state matches target or
// ctx is done. Supplemented from the original's test harness hook (see
// SPEC_FULL.md §3), used primarily for deterministic tests.
func (c *Coordinator) WaitForMemberState(ctx context.Context, target MemberState) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.CurrentMemberState() == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
