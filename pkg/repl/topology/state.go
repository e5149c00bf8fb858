package topology

import (
	"fmt"
	"time"

	"github.com/replsetd/replsetd/pkg/repl"
)

const defaultElectionTimeout = 10 * time.Second

// State is the pure topology state machine (§4.1). Every method takes the
// receiver by value and returns a new value; State itself never performs
// I/O and is safe to copy. All mutation happens by replacing the Topology
// Driver's held copy with a method's return value.
type State struct {
	role        repl.Role
	memberState repl.MemberState
	config      repl.Config
	self        repl.OpTime

	maintenanceCount int

	electionTimeout time.Duration
	lastPrimarySeen time.Time // zero if none seen yet this term
	frozenUntil     time.Time

	currentTerm   int64
	votedForTerm  map[int64]int // term -> candidate memberID voted for
	highestVoted  repl.OpTime   // highest applied position seen among voters this round
	electionID    string
	drainPending  bool
	steppedDownAt time.Time

	syncSource      string
	blacklist       map[string]time.Time // host -> expiry
}

// New builds the initial topology state: a follower with no configuration
// installed, in STARTUP.
func New() State {
	return State{
		role:            repl.RoleFollower,
		memberState:     repl.MemberStartup,
		electionTimeout: defaultElectionTimeout,
		votedForTerm:    make(map[int64]int),
		blacklist:       make(map[string]time.Time),
	}
}

func (s State) clone() State {
	votes := make(map[int64]int, len(s.votedForTerm))
	for k, v := range s.votedForTerm {
		votes[k] = v
	}
	s.votedForTerm = votes

	bl := make(map[string]time.Time, len(s.blacklist))
	for k, v := range s.blacklist {
		bl[k] = v
	}
	s.blacklist = bl
	return s
}

// BlacklistSyncSource marks host as ineligible to be chosen as a sync
// source until until.
func (s State) BlacklistSyncSource(host string, until time.Time) State {
	s2 := s.clone()
	s2.blacklist[host] = until
	return s2
}

// IsBlacklisted reports whether host is currently blacklisted as of now.
func (s State) IsBlacklisted(host string, now time.Time) bool {
	expiry, ok := s.blacklist[host]
	if !ok {
		return false
	}
	return now.Before(expiry)
}

// ClearExpiredBlacklist drops blacklist entries whose expiry has passed.
func (s State) ClearExpiredBlacklist(now time.Time) State {
	s2 := s.clone()
	for host, expiry := range s2.blacklist {
		if !now.Before(expiry) {
			delete(s2.blacklist, host)
		}
	}
	return s2
}

// SetSyncSource records the chosen upstream sync source host.
func (s State) SetSyncSource(host string) State {
	s2 := s.clone()
	s2.syncSource = host
	return s2
}

// SyncSource returns the currently chosen sync source, or "" if none.
func (s State) SyncSource() string { return s.syncSource }

// ShouldChangeSyncSource reports whether current is blacklisted or empty.
func (s State) ShouldChangeSyncSource(current string, now time.Time) bool {
	if current == "" {
		return true
	}
	return s.IsBlacklisted(current, now)
}

func (s State) Role() repl.Role                 { return s.role }
func (s State) MemberState() repl.MemberState   { return s.memberState }
func (s State) Config() repl.Config             { return s.config }
func (s State) MaintenanceCount() int           { return s.maintenanceCount }
func (s State) IsWaitingForDrain() bool         { return s.drainPending }
func (s State) CurrentTerm() int64              { return s.currentTerm }
func (s State) AppliedOpTime() repl.OpTime      { return s.self }
func (s State) ElectionID() string              { return s.electionID }

// WithAppliedOpTime returns a copy of s recording the local node's latest
// applied position, used by the coordinator to keep topology's view of
// "our own position" current without a full heartbeat round trip.
func (s State) WithAppliedOpTime(t repl.OpTime) State {
	s2 := s.clone()
	s2.self = t
	return s2
}

// SetConfig installs a new configuration. If the newly installed
// configuration's only electable voting member is self, this immediately
// drives toward a won election with no heartbeat round trip (§4.1's
// one-node short-circuit) by returning a SchedulingHint with StartElection
// set and the caller expected to follow up with ProcessWinElection.
func (s State) SetConfig(cfg repl.Config, now time.Time) (State, SchedulingHint) {
	s2 := s.clone()
	s2.config = cfg
	s2.lastPrimarySeen = time.Time{}
	s2.votedForTerm = make(map[int64]int)

	if cfg.HasSelf() {
		switch s2.memberState {
		case repl.MemberStartup, repl.MemberUnknown:
			s2.memberState = repl.MemberStartup2
		}
	} else {
		s2.memberState = repl.MemberRemoved
		s2.role = repl.RoleFollower
		return s2, SchedulingHint{}
	}

	if s2.oneNodeShortCircuitEligible(cfg) {
		s2.role = repl.RoleCandidate
		return s2, SchedulingHint{StartElection: true}
	}

	return s2, SchedulingHint{ScheduleElectionTimeoutAt: now.Add(s2.electionTimeout)}
}

func (s State) oneNodeShortCircuitEligible(cfg repl.Config) bool {
	electable := cfg.ElectableMembers()
	if len(electable) != 1 {
		return false
	}
	return cfg.HasSelf() && electable[0].ID == cfg.Self().ID
}

// eligibleForElection implements the candidate eligibility rule: SECONDARY,
// not frozen, no primary heard from within the election timeout, and our
// applied position is at least as high as any voter has reported this round.
func (s State) eligibleForElection(now time.Time) bool {
	if s.memberState != repl.MemberSecondary {
		return false
	}
	if now.Before(s.frozenUntil) {
		return false
	}
	if !s.lastPrimarySeen.IsZero() && now.Sub(s.lastPrimarySeen) < s.electionTimeout {
		return false
	}
	return s.self.GreaterOrEqual(s.highestVoted)
}

// ProcessElapsedTimeTick handles the election-timeout clock. If currently a
// follower in SECONDARY and eligible, it transitions to candidate and asks
// the driver to start an election.
func (s State) ProcessElapsedTimeTick(now time.Time) (State, SchedulingHint) {
	if s.role != repl.RoleFollower {
		return s, SchedulingHint{}
	}
	if !s.eligibleForElection(now) {
		return s, SchedulingHint{ScheduleElectionTimeoutAt: now.Add(s.electionTimeout)}
	}
	s2 := s.clone()
	s2.role = repl.RoleCandidate
	s2.currentTerm++
	return s2, SchedulingHint{StartElection: true}
}

// ProcessWinElection transitions candidate -> leader. It is an invariant
// violation to call this outside the candidate role; the source treats this
// as a truly impossible state and crashes rather than silently ignoring it.
func (s State) ProcessWinElection(electionID string, optime repl.OpTime) State {
	if s.role != repl.RoleCandidate {
		panic(fmt.Sprintf("topology: processWinElection called while role=%s, want candidate", s.role))
	}
	s2 := s.clone()
	s2.role = repl.RoleLeader
	s2.memberState = repl.MemberPrimary
	s2.electionID = electionID
	s2.self = optime
	s2.drainPending = true
	return s2
}

// ProcessElectionLost transitions candidate -> follower, used when the
// election is lost or explicitly cancelled (e.g. a concurrent
// setFollowerMode call).
func (s State) ProcessElectionLost(now time.Time) (State, SchedulingHint) {
	if s.role != repl.RoleCandidate {
		return s, SchedulingHint{}
	}
	s2 := s.clone()
	s2.role = repl.RoleFollower
	return s2, SchedulingHint{ScheduleElectionTimeoutAt: now.Add(s2.electionTimeout)}
}

// ProcessExplicitStepDown transitions leader -> follower. Also used for
// "heartbeat from higher-priority primary" and "lost quorum" triggers, which
// the caller detects and reports through this same entry point with the
// appropriate reason recorded by the caller (topology itself is agnostic to
// why a stepdown happened).
func (s State) ProcessExplicitStepDown(now time.Time, until time.Time) (State, SchedulingHint) {
	if s.role != repl.RoleLeader {
		return s, SchedulingHint{}
	}
	s2 := s.clone()
	s2.role = repl.RoleFollower
	s2.memberState = repl.MemberSecondary
	s2.drainPending = false
	s2.steppedDownAt = now
	s2.frozenUntil = until
	return s2, SchedulingHint{ScheduleElectionTimeoutAt: until.Add(s2.electionTimeout)}
}

// ClearDrain clears the post-election drain flag, called by
// signalDrainComplete after the global exclusive lock double-check.
func (s State) ClearDrain() State {
	s2 := s.clone()
	s2.drainPending = false
	return s2
}

// ProcessFollowerModeChange implements setFollowerMode's topology half: set
// the member state directly when currently a follower; refuse when leader
// (the caller must stepDown instead); when candidate, the caller is
// responsible for cancelling the in-flight election before calling this
// again once it finishes.
func (s State) ProcessFollowerModeChange(newState repl.MemberState, now time.Time) (State, SchedulingHint, error) {
	if s.memberState == newState {
		return s, SchedulingHint{}, nil
	}
	if s.role == repl.RoleLeader {
		return s, SchedulingHint{}, repl.NewError(repl.CodeNotMaster, "cannot change follower mode while leader; use stepDown")
	}
	if s.role == repl.RoleCandidate {
		return s, SchedulingHint{CancelElection: true}, nil
	}
	s2 := s.clone()
	s2.memberState = newState
	if s2.oneNodeShortCircuitEligible(s2.config) && newState == repl.MemberSecondary {
		s2.role = repl.RoleCandidate
		return s2, SchedulingHint{StartElection: true}, nil
	}
	return s2, SchedulingHint{}, nil
}

// EnterMaintenanceMode increments the maintenance count. Only meaningful for
// followers; the coordinator is expected to reject the call otherwise, but
// topology itself just tracks the counter per spec's "monotonically
// non-negative" invariant.
func (s State) EnterMaintenanceMode() State {
	s2 := s.clone()
	s2.maintenanceCount++
	return s2
}

// LeaveMaintenanceMode decrements the maintenance count. Returns an error if
// the count is already zero.
func (s State) LeaveMaintenanceMode() (State, error) {
	if s.maintenanceCount == 0 {
		return s, repl.NewError(repl.CodeInternalError, "cannot leave maintenance mode: count is already zero")
	}
	s2 := s.clone()
	s2.maintenanceCount--
	return s2, nil
}

// ProcessHeartbeatRequest builds a HeartbeatResponse describing this node's
// current view, without mutating state — the sender-liveness bookkeeping
// happens in ProcessHeartbeatResult for outbound probes, matching the
// source's separation of "answering a heartbeat" from "processing the reply
// to one we sent".
func (s State) ProcessHeartbeatRequest(req HeartbeatRequest, now time.Time) HeartbeatResponse {
	return HeartbeatResponse{
		SetName:       s.config.SetName,
		ConfigVersion: s.config.Version,
		MemberState:   s.memberState,
		AppliedOpTime: s.self,
		SenderIsUp:    true,
	}
}

// ProcessHeartbeatResult folds the outcome of an outbound heartbeat probe
// into state: if the remote member reports PRIMARY, it refreshes
// lastPrimarySeen (resetting the election clock) unless we are leader and
// the reporting member's id is 0, and returns a hint rescheduling the
// election timeout. The hint is the same whatever the remote primary's
// priority: a higher-priority remote primary produces no step-down signal.
func (s State) ProcessHeartbeatResult(res HeartbeatResult, now time.Time) (State, SchedulingHint) {
	if res.MemberState != repl.MemberPrimary {
		return s, SchedulingHint{}
	}
	s2 := s.clone()
	if res.MemberID != 0 || s.role != repl.RoleLeader {
		s2.lastPrimarySeen = now
	}
	hint := SchedulingHint{ScheduleElectionTimeoutAt: now.Add(s2.electionTimeout)}
	if s.role == repl.RoleLeader {
		if remote, ok := s.config.MemberByID(res.MemberID); ok {
			if self := s.config.Self(); remote.Priority > self.Priority {
				return s2, hint
			}
		}
	}
	return s2, hint
}

// BuildFreshResponse answers a freshness probe: reports our id, set name,
// applied position, and whether the candidate is stale relative to us.
// Ties break by (term, sequence, id) as spec §4.1 requires, which falls out
// naturally from comparing OpTime first and id only needing to be supplied
// by the caller for true ties (identical OpTime) — topology reports Stale
// purely from the position comparison and leaves id tie-break to the
// election gatherer that aggregates multiple FreshResponses.
func (s State) BuildFreshResponse(candidateID int, candidateOpTime repl.OpTime) FreshResponse {
	self := repl.MemberConfig{}
	if s.config.HasSelf() {
		self = s.config.Self()
	}
	return FreshResponse{
		ID:      self.ID,
		SetName: s.config.SetName,
		OpTime:  s.self,
		Stale:   candidateOpTime.Less(s.self),
	}
}

// ProcessElectVoteRequest answers a vote request for a given term: grants at
// most one vote per term, and never votes for a candidate whose position is
// behind ours.
func (s State) ProcessElectVoteRequest(req ElectVoteRequest) (State, ElectVoteResponse) {
	if req.AppliedOpTime.Less(s.self) {
		return s, ElectVoteResponse{VoteGranted: false, Reason: "candidate position is stale"}
	}
	if existing, voted := s.votedForTerm[req.Term]; voted {
		if existing == req.CandidateID {
			return s, ElectVoteResponse{VoteGranted: true}
		}
		return s, ElectVoteResponse{VoteGranted: false, Reason: "already voted this term"}
	}
	s2 := s.clone()
	s2.votedForTerm[req.Term] = req.CandidateID
	if req.AppliedOpTime.GreaterOrEqual(s2.highestVoted) {
		s2.highestVoted = req.AppliedOpTime
	}
	return s2, ElectVoteResponse{VoteGranted: true}
}

// Freeze prevents this node from standing for election until until.
func (s State) Freeze(until time.Time) State {
	s2 := s.clone()
	s2.frozenUntil = until
	return s2
}
