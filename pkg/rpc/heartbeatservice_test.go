package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replsetd/replsetd/pkg/repl"
)

func initiatedCoordinator(t *testing.T) *repl.Coordinator {
	t.Helper()
	c := repl.NewCoordinator(repl.NewInProcessExternalState(), noopTransport{}, repl.ModeReplSet)
	t.Cleanup(c.Shutdown)
	cfg := repl.Config{
		Version: 1,
		SetName: "rs0",
		Members: []repl.MemberConfig{{ID: 0, Host: "self:27017", VoteWeight: 1, Priority: 1}},
		SelfIndex: 0,
	}
	require.NoError(t, c.ProcessReplSetInitiate(cfg))
	deadline := time.Now().Add(time.Second)
	for c.CurrentMemberState() != repl.MemberPrimary && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return c
}

func TestReplicationServiceReplSetHeartbeatTranslatesWireTypes(t *testing.T) {
	c := initiatedCoordinator(t)
	svc := &ReplicationService{Coordinator: c}

	resp, err := svc.ReplSetHeartbeat(context.Background(), &HeartbeatRequest{
		SenderHost: "peer:27017",
		SetName:    "rs0",
	})
	require.NoError(t, err)
	assert.Equal(t, "rs0", resp.SetName)
}

func TestReplicationServiceReplSetUpdatePositionTranslatesOpTime(t *testing.T) {
	c := initiatedCoordinator(t)
	svc := &ReplicationService{Coordinator: c}

	// Update position for a rid the coordinator has not handshaken yet must
	// surface the coordinator's CodeNodeNotFound error through the service.
	_, err := svc.ReplSetUpdatePosition(context.Background(), &UpdatePositionRequest{
		RID:  "unhandshaken",
		Term: 1,
		Seq:  5,
	})
	assert.True(t, repl.HasCode(err, repl.CodeNodeNotFound))

	c.HandshakeMember(repl.RID("member-1"), 1, "member1:27017")
	resp, err := svc.ReplSetUpdatePosition(context.Background(), &UpdatePositionRequest{
		RID:         "member-1",
		MemberID:    1,
		HostAndPort: "member1:27017",
		Term:        1,
		Seq:         5,
	})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
}

func TestReplicationServiceReplSetRequestVotesGrantsOncePerTerm(t *testing.T) {
	c := initiatedCoordinator(t)
	svc := &ReplicationService{Coordinator: c}

	first, err := svc.ReplSetRequestVotes(context.Background(), &VoteRequest{
		CandidateID: 5,
		Term:        1,
		AppliedTerm: 1,
		AppliedSeq:  1,
	})
	require.NoError(t, err)
	assert.True(t, first.VoteGranted)

	second, err := svc.ReplSetRequestVotes(context.Background(), &VoteRequest{
		CandidateID: 6,
		Term:        1,
		AppliedTerm: 1,
		AppliedSeq:  1,
	})
	require.NoError(t, err)
	assert.False(t, second.VoteGranted, "a second candidate in the same term must be refused")
}

func TestToOpTimeRoundTrip(t *testing.T) {
	got := toOpTime(7, 42)
	assert.Equal(t, repl.OpTime{Term: 7, Sequence: 42}, got)
}
