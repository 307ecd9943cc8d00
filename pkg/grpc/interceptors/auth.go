package interceptors

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// AuthorizationKey is the metadata key for authorization token
	AuthorizationKey = "authorization"

	bearerPrefix = "bearer "
)

// TokenAuthenticator resolves static bearer tokens to principals.
type TokenAuthenticator struct {
	tokens map[string]Role
}

// NewTokenAuthenticator creates an authenticator from a token to role map.
// Unknown role names are dropped.
func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	a := &TokenAuthenticator{tokens: make(map[string]Role, len(tokens))}
	for token, role := range tokens {
		if r, ok := ParseRole(role); ok && token != "" {
			a.tokens[token] = r
		}
	}
	return a
}

// Authenticate returns the principal owning token.
func (a *TokenAuthenticator) Authenticate(token string) (Principal, bool) {
	for known, role := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return Principal{Name: string(role), Role: role}, true
		}
	}
	return Principal{}, false
}

// AuthenticationUnaryInterceptor validates bearer tokens
func AuthenticationUnaryInterceptor(auth *TokenAuthenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		p, err := authenticate(ctx, auth)
		if err != nil {
			return nil, err
		}
		return handler(withPrincipal(ctx, p), req)
	}
}

// AuthenticationStreamInterceptor validates bearer tokens for streams
func AuthenticationStreamInterceptor(auth *TokenAuthenticator) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isHealthMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		p, err := authenticate(ss.Context(), auth)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: withPrincipal(ss.Context(), p)})
	}
}

func authenticate(ctx context.Context, auth *TokenAuthenticator) (Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Principal{}, status.Error(codes.Unauthenticated, "missing metadata")
	}

	tokens := md.Get(AuthorizationKey)
	if len(tokens) == 0 {
		return Principal{}, status.Error(codes.Unauthenticated, "missing authorization token")
	}

	p, ok := auth.Authenticate(BearerToken(tokens[0]))
	if !ok {
		return Principal{}, status.Error(codes.Unauthenticated, "invalid token")
	}
	return p, nil
}

// BearerToken strips an optional "Bearer " scheme from an authorization
// value.
func BearerToken(value string) string {
	if len(value) > len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		value = value[len(bearerPrefix):]
	}
	return strings.TrimSpace(value)
}

func isHealthMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/")
}
