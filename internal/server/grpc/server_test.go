package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/tally/pkg/errorbank"
)

func TestUnaryInterceptorMapsErrors(t *testing.T) {
	intercept := unaryInterceptor(zap.NewNop())
	info := &grpc.UnaryServerInfo{FullMethod: "/tally.settlement.v1.Settlement/Settle"}

	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"conflict", errorbank.Conflict("item taken"), codes.AlreadyExists},
		{"unavailable", errorbank.Unavailable("store down"), codes.Unavailable},
		{"status passthrough", status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
		{"plain", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := intercept(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
				return nil, tc.err
			})
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestUnaryInterceptorPassesSuccess(t *testing.T) {
	intercept := unaryInterceptor(zap.NewNop())
	resp, err := intercept(context.Background(), "req", &grpc.UnaryServerInfo{}, func(_ context.Context, req interface{}) (interface{}, error) {
		return req, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
}

func TestHealthStartsNotServing(t *testing.T) {
	hs := NewHealth()

	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: SettlementService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
