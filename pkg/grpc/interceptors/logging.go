package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/goclaw/clusterctl/pkg/logger"
)

// LoggingUnaryInterceptor logs one line per unary RPC
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Global()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(ctx, log, info.FullMethod, "unary", err, time.Since(start))
		return resp, err
	}
}

// LoggingStreamInterceptor logs stream completion for streaming RPCs
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = logger.Global()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(ss.Context(), log, info.FullMethod, "stream", err, time.Since(start))
		return err
	}
}

func logRPC(ctx context.Context, log logger.Logger, method, kind string, err error, duration time.Duration) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = "unknown"
	}
	code := status.Code(err)
	args := []any{
		"request_id", requestID,
		"method", method,
		"kind", kind,
		"code", code.String(),
		"duration", duration,
	}

	switch code {
	case codes.OK, codes.Canceled:
		log.DebugContext(ctx, "grpc request", args...)
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		log.ErrorContext(ctx, "grpc request", append(args, "error", err)...)
	default:
		log.WarnContext(ctx, "grpc request", append(args, "error", err)...)
	}
}
