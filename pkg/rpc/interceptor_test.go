package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsReadOnlyMethodAllowsPrefixedAndNamedMethods(t *testing.T) {
	cases := map[string]bool{
		"/replsetd.Status/ReplSetGetStatus": true,
		"/replsetd.Status/GetConfig":        true,
		"/replsetd.Status/ListMembers":      true,
		"/replsetd.Status/DescribeShard":    true,
		"/replsetd.Status/IsMaster":         true,
		"/replsetd.Repl/ReplSetHeartbeat":   false,
		"/replsetd.Repl/ReplSetRequestVotes": false,
		"malformed-method":                 false,
	}
	for method, want := range cases {
		assert.Equalf(t, want, isReadOnlyMethod(method), "method %q", method)
	}
}

func TestReadOnlyInterceptorRejectsMutatingMethod(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	called := false
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/replsetd.Repl/ReplSetHeartbeat"}

	_, err := interceptor(context.Background(), nil, info, handler)
	require.Error(t, err)
	assert.False(t, called, "handler must not run for a rejected method")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestReadOnlyInterceptorAllowsReadOnlyMethod(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/replsetd.Status/ReplSetGetStatus"}

	resp, err := interceptor(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
