// Package topology implements the pure topology state machine: role
// transitions, election eligibility, and heartbeat response construction.
// Nothing in this package performs I/O or blocks; every input is a value,
// every output is a value plus an optional scheduling hint.
package topology

import (
	"time"

	"github.com/replsetd/replsetd/pkg/repl"
)

// HeartbeatRequest is an inbound heartbeat from a remote member.
type HeartbeatRequest struct {
	SenderHost      string
	SetName         string
	SenderConfigVer int64
}

// HeartbeatResponse is the reply to a HeartbeatRequest.
type HeartbeatResponse struct {
	SetName       string
	ConfigVersion int64
	MemberState   repl.MemberState
	AppliedOpTime repl.OpTime
	SenderIsUp    bool
}

// HeartbeatResult is an outbound heartbeat's reply, observed by this node
// after probing a remote member.
type HeartbeatResult struct {
	MemberID      int
	MemberState   repl.MemberState
	ConfigVersion int64
	AppliedOpTime repl.OpTime
	Up            bool
}

// FreshnessProbeResult carries one remote member's fresh-response for the
// in-flight election's freshness round.
type FreshnessProbeResult struct {
	MemberID      int
	AppliedOpTime repl.OpTime
	IsFresher     bool
}

// ElectVoteRequest asks the local topology whether it will vote for a
// candidate in a given term.
type ElectVoteRequest struct {
	CandidateID   int
	Term          int64
	AppliedOpTime repl.OpTime
}

// ElectVoteResponse is the local node's answer to an ElectVoteRequest.
type ElectVoteResponse struct {
	VoteGranted bool
	Reason      string
}

// FreshResponse is this node's answer when asked whether a candidate's
// position is fresh enough to win.
type FreshResponse struct {
	ID        int
	SetName   string
	OpTime    repl.OpTime
	Stale     bool
	Veto      bool
	VetoMsg   string
	ElectTime int64
}

// SchedulingHint tells the driver what, if anything, to (re)schedule as a
// result of processing an event.
type SchedulingHint struct {
	ScheduleElectionTimeoutAt time.Time
	ScheduleHeartbeatAt       time.Time
	CancelElection            bool
	StartElection             bool
}
