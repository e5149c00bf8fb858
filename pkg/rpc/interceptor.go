// Package rpc hosts the gRPC transport for replica-set heartbeats, position
// updates, and vote requests, plus the local control-socket guard.
package rpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor rejects any unary call whose method is not read-only.
// It is installed on the local control socket so that a misconfigured CLI
// client cannot mutate replica-set state outside the heartbeat/vote RPCs.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations are not allowed on the control socket: %s", info.FullMethod,
			)
		}
		return handler(ctx, req)
	}
}

func isReadOnlyMethod(method string) bool {
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]

	readOnlyPrefixes := []string{
		"Get",
		"List",
		"Describe",
		"Status",
	}
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(methodName, prefix) {
			return true
		}
	}

	readOnlyMethods := []string{
		"ReplSetGetStatus",
		"ReplSetGetConfig",
		"IsMaster",
	}
	for _, allowed := range readOnlyMethods {
		if methodName == allowed {
			return true
		}
	}

	return false
}
