package rpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/replsetd/replsetd/pkg/repl"
	"github.com/replsetd/replsetd/pkg/repl/topology"
)

const replicationServiceName = "replsetd.Replication"

// replicationServer is the narrow contract the manually-built ServiceDesc
// below dispatches to — the same shape protoc-gen-go-grpc would emit for a
// three-method Replication service, kept hand-written since the heartbeat
// and vote messages never leave this binary's own peers.
type replicationServer interface {
	ReplSetHeartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
	ReplSetUpdatePosition(ctx context.Context, req *UpdatePositionRequest) (*UpdatePositionResponse, error)
	ReplSetRequestVotes(ctx context.Context, req *VoteRequest) (*VoteResponse, error)
}

// ReplicationServiceDesc registers replicationServer against a *grpc.Server.
var ReplicationServiceDesc = grpc.ServiceDesc{
	ServiceName: replicationServiceName,
	HandlerType: (*replicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReplSetHeartbeat", Handler: heartbeatHandler},
		{MethodName: "ReplSetUpdatePosition", Handler: updatePositionHandler},
		{MethodName: "ReplSetRequestVotes", Handler: requestVotesHandler},
	},
	Metadata: "pkg/rpc/heartbeatservice.go",
}

func heartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(replicationServer).ReplSetHeartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + replicationServiceName + "/ReplSetHeartbeat"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(replicationServer).ReplSetHeartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func updatePositionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdatePositionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(replicationServer).ReplSetUpdatePosition(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + replicationServiceName + "/ReplSetUpdatePosition"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(replicationServer).ReplSetUpdatePosition(ctx, req.(*UpdatePositionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func requestVotesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(VoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(replicationServer).ReplSetRequestVotes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + replicationServiceName + "/ReplSetRequestVotes"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(replicationServer).ReplSetRequestVotes(ctx, req.(*VoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ReplicationService adapts repl.Coordinator to replicationServer, translating
// between the wire structs above and the coordinator's domain types.
type ReplicationService struct {
	Coordinator *repl.Coordinator
}

func (s *ReplicationService) ReplSetHeartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	resp, err := s.Coordinator.ProcessHeartbeat(topology.HeartbeatRequest{
		SenderHost:      req.SenderHost,
		SetName:         req.SetName,
		SenderConfigVer: req.SenderConfigVer,
	})
	if err != nil {
		return nil, err
	}
	return &HeartbeatResponse{
		SetName:       resp.SetName,
		ConfigVersion: resp.ConfigVersion,
		MemberState:   string(resp.MemberState),
		AppliedTerm:   resp.AppliedOpTime.Term,
		AppliedSeq:    resp.AppliedOpTime.Sequence,
		SenderIsUp:    resp.SenderIsUp,
	}, nil
}

func (s *ReplicationService) ReplSetUpdatePosition(ctx context.Context, req *UpdatePositionRequest) (*UpdatePositionResponse, error) {
	if err := s.Coordinator.SetLastOptime(repl.RID(req.RID), toOpTime(req.Term, req.Seq)); err != nil {
		return nil, err
	}
	s.Coordinator.HandshakeMember(repl.RID(req.RID), req.MemberID, req.HostAndPort)
	return &UpdatePositionResponse{Accepted: true}, nil
}

func (s *ReplicationService) ReplSetRequestVotes(ctx context.Context, req *VoteRequest) (*VoteResponse, error) {
	resp, err := s.Coordinator.ProcessReplSetRequestVotes(topology.ElectVoteRequest{
		CandidateID:   req.CandidateID,
		Term:          req.Term,
		AppliedOpTime: toOpTime(req.AppliedTerm, req.AppliedSeq),
	})
	if err != nil {
		return nil, err
	}
	return &VoteResponse{VoteGranted: resp.VoteGranted, Reason: resp.Reason}, nil
}

// Transport is a repl.HeartbeatTransport backed by cached grpc.ClientConns,
// one per peer host, dialed lazily and reused across heartbeat rounds.
type Transport struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewTransport() *Transport {
	return &Transport{conns: make(map[string]*grpc.ClientConn)}
}

func (t *Transport) connFor(hostAndPort string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cc, ok := t.conns[hostAndPort]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(hostAndPort, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", hostAndPort, err)
	}
	t.conns[hostAndPort] = cc
	return cc, nil
}

func (t *Transport) SendHeartbeat(ctx context.Context, hostAndPort string, req repl.HeartbeatProbe) (repl.HeartbeatProbeResult, error) {
	cc, err := t.connFor(hostAndPort)
	if err != nil {
		return repl.HeartbeatProbeResult{}, err
	}
	out := new(HeartbeatResponse)
	in := &HeartbeatRequest{SenderHost: req.SenderHost, SetName: req.SetName, SenderConfigVer: req.SenderConfigVer}
	if err := cc.Invoke(ctx, "/"+replicationServiceName+"/ReplSetHeartbeat", in, out); err != nil {
		return repl.HeartbeatProbeResult{}, err
	}
	return repl.HeartbeatProbeResult{
		MemberState:   repl.MemberState(out.MemberState),
		ConfigVersion: out.ConfigVersion,
		AppliedOpTime: toOpTime(out.AppliedTerm, out.AppliedSeq),
	}, nil
}

// RequestVote asks hostAndPort for a vote in an election.
func (t *Transport) RequestVote(ctx context.Context, hostAndPort string, req topology.ElectVoteRequest) (topology.ElectVoteResponse, error) {
	cc, err := t.connFor(hostAndPort)
	if err != nil {
		return topology.ElectVoteResponse{}, err
	}
	in := &VoteRequest{CandidateID: req.CandidateID, Term: req.Term, AppliedTerm: req.AppliedOpTime.Term, AppliedSeq: req.AppliedOpTime.Sequence}
	out := new(VoteResponse)
	if err := cc.Invoke(ctx, "/"+replicationServiceName+"/ReplSetRequestVotes", in, out); err != nil {
		return topology.ElectVoteResponse{}, err
	}
	return topology.ElectVoteResponse{VoteGranted: out.VoteGranted, Reason: out.Reason}, nil
}

// ForwardPosition forwards a secondary's applied position to hostAndPort,
// the network half of §6 forwardSlaveProgress.
func (t *Transport) ForwardPosition(ctx context.Context, hostAndPort string, req UpdatePositionRequest) error {
	cc, err := t.connFor(hostAndPort)
	if err != nil {
		return err
	}
	out := new(UpdatePositionResponse)
	return cc.Invoke(ctx, "/"+replicationServiceName+"/ReplSetUpdatePosition", &req, out)
}

// Close tears down every cached connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, cc := range t.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
