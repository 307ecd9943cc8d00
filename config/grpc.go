package config

import (
	"fmt"

	grpcpkg "github.com/goclaw/clusterctl/pkg/grpc"
)

// ToGRPCConfig converts config.GRPCConfig to pkg/grpc.Config. Tracing is
// switched on separately from the top-level tracing section.
func (g *GRPCConfig) ToGRPCConfig() *grpcpkg.Config {
	cfg := &grpcpkg.Config{
		Address:              fmt.Sprintf(":%d", g.Port),
		MaxConcurrentStreams: uint32(g.MaxConnections),
		MaxRecvMsgSize:       g.MaxRecvMsgSize,
		MaxSendMsgSize:       g.MaxSendMsgSize,
		EnableReflection:     g.EnableReflection,
		EnableHealthCheck:    g.EnableHealthCheck,
		RateLimit:            g.RateLimit,
		RateBurst:            g.RateBurst,
	}

	cfg.AuthTokens = g.TokenRoles()

	if g.TLS.Enabled {
		cfg.TLS = &grpcpkg.TLSConfig{
			Enabled:    g.TLS.Enabled,
			CertFile:   g.TLS.CertFile,
			KeyFile:    g.TLS.KeyFile,
			CAFile:     g.TLS.CAFile,
			ClientAuth: g.TLS.ClientAuth,
		}
	}

	ka := grpcpkg.KeepaliveConfig(g.Keepalive)
	cfg.Keepalive = &ka

	return cfg
}

// TokenRoles maps each configured bearer token to its role name. It is nil
// when authentication is off. The HTTP API shares the same tokens.
func (g *GRPCConfig) TokenRoles() map[string]string {
	if len(g.AuthTokens) == 0 {
		return nil
	}
	roles := make(map[string]string, len(g.AuthTokens))
	for _, t := range g.AuthTokens {
		roles[t.Token] = t.Role
	}
	return roles
}
