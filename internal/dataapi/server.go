package dataapi

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/crenshan/experiment-factory/internal/config"
	"github.com/crenshan/experiment-factory/internal/identity"
)

// NewServer builds the data plane gRPC server: JSON codec, stream and keepalive
// limits from cfg, and the interceptor chain. Register the API on it before serving.
func NewServer(log *slog.Logger, cfg *config.DataPlaneConfig, resolver *identity.Resolver) *grpc.Server {
	return grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxConcurrentStreams(cfg.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:             cfg.KeepaliveTime,
			Timeout:          cfg.KeepaliveTimeout,
			MaxConnectionAge: cfg.MaxConnectionAge,
		}),
		grpc.ChainUnaryInterceptor(
			RequestLoggerInterceptor(log),
			ObservabilityInterceptor(),
			IdentityInterceptor(resolver),
			TimeoutInterceptor(cfg.RequestTimeout),
		),
	)
}
