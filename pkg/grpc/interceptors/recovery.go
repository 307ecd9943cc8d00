package interceptors

import (
	"context"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/goclaw/clusterctl/pkg/logger"
)

// RecoveryUnaryInterceptor turns a handler panic into codes.Internal so a
// single bad report cannot take the controller down.
func RecoveryUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Global()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer recoverRPC(ctx, log, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor is RecoveryUnaryInterceptor for streams.
func RecoveryStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = logger.Global()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer recoverRPC(ss.Context(), log, info.FullMethod, &err)
		return handler(srv, ss)
	}
}

// recoverRPC must be deferred directly so that recover sees the panic.
func recoverRPC(ctx context.Context, log logger.Logger, method string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	requestID, _ := RequestIDFromContext(ctx)
	log.ErrorContext(ctx, "grpc handler panicked",
		"method", method,
		"request_id", requestID,
		"panic", r,
		"stack", string(debug.Stack()),
	)
	*err = status.Error(codes.Internal, "internal server error")
}
