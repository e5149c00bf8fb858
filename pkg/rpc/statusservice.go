package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/replsetd/replsetd/pkg/repl"
)

const statusServiceName = "replsetd.Status"

// StatusRequest carries no parameters; it exists so the handler plumbing
// below matches the rest of the unary RPCs.
type StatusRequest struct{}

// StatusResponse is the read-only snapshot served over the local control
// socket (ReplSetGetStatus / IsMaster equivalents).
type StatusResponse struct {
	SetName      string
	MemberState  string
	MyID         int
	ConfigVer    int64
	RollbackID   int
	IsWaitingFor bool
}

type statusServer interface {
	ReplSetGetStatus(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
}

// StatusServiceDesc is registered on the read-only control-socket server
// guarded by ReadOnlyInterceptor — distinct from ReplicationServiceDesc,
// which carries the mutating peer-to-peer heartbeat/vote/position RPCs and
// must never sit behind that interceptor.
var StatusServiceDesc = grpc.ServiceDesc{
	ServiceName: statusServiceName,
	HandlerType: (*statusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReplSetGetStatus", Handler: statusHandler},
	},
	Metadata: "pkg/rpc/statusservice.go",
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(statusServer).ReplSetGetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + statusServiceName + "/ReplSetGetStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(statusServer).ReplSetGetStatus(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// StatusService implements statusServer over a *repl.Coordinator.
type StatusService struct {
	Coordinator *repl.Coordinator
}

func (s *StatusService) ReplSetGetStatus(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	cfg := s.Coordinator.GetReplicaSetConfig()
	myID := -1
	if cfg.HasSelf() {
		myID = s.Coordinator.GetMyID()
	}
	return &StatusResponse{
		SetName:      cfg.SetName,
		MemberState:  string(s.Coordinator.CurrentMemberState()),
		MyID:         myID,
		ConfigVer:    cfg.Version,
		RollbackID:   s.Coordinator.RollbackID(),
		IsWaitingFor: s.Coordinator.IsWaitingForDrainToComplete(),
	}, nil
}
