package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Role is the access level of a caller.
type Role string

const (
	// RoleAdmin may call every method.
	RoleAdmin Role = "admin"
	// RoleNode may report heartbeats and read state.
	RoleNode Role = "node"
	// RoleReader may only read state.
	RoleReader Role = "reader"
)

// ParseRole parses a configured role name.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleAdmin, RoleNode, RoleReader:
		return r, true
	}
	return "", false
}

// Allows reports whether r may call something that requires required.
func (r Role) Allows(required Role) bool {
	switch required {
	case RoleAdmin:
		return r == RoleAdmin
	case RoleNode:
		return r == RoleAdmin || r == RoleNode
	default:
		return true
	}
}

// MethodRoles maps full method names to the role they require. Methods not
// listed require RoleReader.
type MethodRoles map[string]Role

// AuthorizationUnaryInterceptor enforces role-based access control
func AuthorizationUnaryInterceptor(roles MethodRoles) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		if err := authorize(ctx, roles, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// AuthorizationStreamInterceptor enforces role-based access control for streams
func AuthorizationStreamInterceptor(roles MethodRoles) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isHealthMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		if err := authorize(ss.Context(), roles, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func authorize(ctx context.Context, roles MethodRoles, method string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return status.Error(codes.PermissionDenied, "caller not authenticated")
	}
	required, ok := roles[method]
	if !ok {
		required = RoleReader
	}
	if !p.Role.Allows(required) {
		return status.Errorf(codes.PermissionDenied, "%s role required", required)
	}
	return nil
}
