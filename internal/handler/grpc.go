package handler

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"newroi/ledger-service/pkg/auth"
	"newroi/ledger-service/pkg/logger"
	"newroi/ledger-service/pkg/metrics"
)

// LedgerServiceName is the health service name reported for the ledger
const LedgerServiceName = "newroi.ledger.v1.Ledger"

// NewGRPCServer builds the gRPC server with the standard interceptor chain
// and a health service reporting SERVING for the ledger.
func NewGRPCServer(log *logger.Logger, m *metrics.Metrics, tokens auth.TokenValidator) (*grpc.Server, *health.Server) {
	interceptors := []grpc.UnaryServerInterceptor{
		logger.UnaryServerInterceptor(log),
		metrics.UnaryServerInterceptor(m),
	}
	if tokens != nil {
		interceptors = append(interceptors, auth.UnaryServerInterceptor(tokens))
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.ChainStreamInterceptor(logger.StreamServerInterceptor(log)),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(LedgerServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)
	return server, healthServer
}
