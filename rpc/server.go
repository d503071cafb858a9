package rpc

import (
	"fmt"
	"net"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"github.com/mohitkumar/stepflow/logger"
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SERVICE_NAME is the health service name reported next to the overall status.
const SERVICE_NAME = "stepflow"

type Server struct {
	*grpc.Server
	Port   int
	health *health.Server
}

func NewGrpcServer(port int) (*Server, error) {
	zl := zap.L().Named("server")
	zapOpts := []grpc_zap.Option{
		grpc_zap.WithDurationField(
			func(duration time.Duration) zapcore.Field {
				return zap.Int64(
					"grpc.time_ns",
					duration.Nanoseconds(),
				)
			},
		),
	}
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(0.1)})
	if err := view.Register(ocgrpc.DefaultServerViews...); err != nil {
		return nil, err
	}
	grpcOpts := []grpc.ServerOption{
		grpc.StreamInterceptor(
			grpc_middleware.ChainStreamServer(
				grpc_ctxtags.StreamServerInterceptor(),
				grpc_zap.StreamServerInterceptor(zl, zapOpts...),
			)), grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			grpc_zap.UnaryServerInterceptor(zl, zapOpts...),
		)),
		grpc.StatsHandler(&ocgrpc.ServerHandler{}),
	}

	gsrv := grpc.NewServer(grpcOpts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(SERVICE_NAME, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gsrv, hs)
	return &Server{Server: gsrv, Port: port, health: hs}, nil
}

func (s *Server) Start() error {
	logger.Info("starting grpc server on", zap.Int("port", s.Port))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve marks the node as serving and blocks until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(SERVICE_NAME, healthpb.HealthCheckResponse_SERVING)
	return s.Server.Serve(lis)
}

func (s *Server) Stop() error {
	logger.Info("stopping grpc server")
	s.health.Shutdown()
	s.GracefulStop()
	return nil
}
