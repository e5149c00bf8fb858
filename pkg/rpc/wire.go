package rpc

import "github.com/replsetd/replsetd/pkg/repl"

// HeartbeatRequest and HeartbeatResponse are the wire shapes for
// ReplSetHeartbeat, carried as plain structs over the jsonCodec.
type HeartbeatRequest struct {
	SenderHost      string
	SetName         string
	SenderConfigVer int64
}

type HeartbeatResponse struct {
	SetName       string
	ConfigVersion int64
	MemberState   string
	AppliedTerm   int64
	AppliedSeq    int64
	SenderIsUp    bool
}

// UpdatePositionRequest forwards one member's applied position upstream,
// the wire shape for setLastOptime forwarding (§6 forwardSlaveProgress).
type UpdatePositionRequest struct {
	RID         string
	MemberID    int
	HostAndPort string
	Term        int64
	Seq         int64
}

type UpdatePositionResponse struct {
	Accepted bool
}

// VoteRequest and VoteResponse carry an election vote round-trip.
type VoteRequest struct {
	CandidateID int
	Term        int64
	AppliedTerm int64
	AppliedSeq  int64
}

type VoteResponse struct {
	VoteGranted bool
	Reason      string
}

func toOpTime(term, seq int64) repl.OpTime { return repl.OpTime{Term: term, Sequence: seq} }
