// Package grpc serves the ClusterCtrl API to nodes and operators.
package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/goclaw/clusterctl/pkg/grpc/codec"
	"github.com/goclaw/clusterctl/pkg/grpc/interceptors"
	pb "github.com/goclaw/clusterctl/pkg/grpc/pb/v1"
	"github.com/goclaw/clusterctl/pkg/logger"
)

// DefaultMethodRoles are the roles the ClusterCtrl methods require when
// authentication is enabled. Unlisted methods are readable by every role.
var DefaultMethodRoles = interceptors.MethodRoles{
	pb.MethodTrimLog:    interceptors.RoleAdmin,
	pb.MethodAttachNode: interceptors.RoleNode,
	pb.MethodHeartbeat:  interceptors.RoleNode,
}

// Server runs the gRPC listener. Services may be registered before or after
// Start.
type Server struct {
	config  *Config
	logger  logger.Logger
	metrics *interceptors.Metrics
	roles   interceptors.MethodRoles

	mu       sync.RWMutex
	grpcSrv  *grpc.Server
	listener net.Listener
	health   *HealthServer
	pending  []serviceRegistration
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithMetrics enables the metrics interceptors.
func WithMetrics(m *interceptors.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMethodRoles overrides DefaultMethodRoles.
func WithMethodRoles(roles interceptors.MethodRoles) Option {
	return func(s *Server) { s.roles = roles }
}

type serviceRegistration struct {
	desc *grpc.ServiceDesc
	impl interface{}
}

// New validates cfg and creates a stopped server.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{config: cfg, logger: logger.Global(), roles: DefaultMethodRoles}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "grpc")
	return s, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grpcSrv != nil {
		return errors.New("server already running")
	}

	opts, err := s.serverOptions()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	srv := grpc.NewServer(opts...)
	for _, reg := range s.pending {
		srv.RegisterService(reg.desc, reg.impl)
	}
	if s.config.EnableReflection {
		reflection.Register(srv)
	}
	if s.config.EnableHealthCheck {
		s.health = NewHealthServer()
		for _, reg := range s.pending {
			s.health.Track(reg.desc.ServiceName)
		}
		grpc_health_v1.RegisterHealthServer(srv, s.health.server)
		s.health.SetServing(true)
	}

	done := make(chan struct{})
	s.grpcSrv, s.listener, s.done = srv, ln, done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil {
			s.logger.Error("grpc server stopped", "error", err)
		}
	}()

	s.logger.Info("grpc server listening", "address", ln.Addr().String())
	return nil
}

// Stop drains in-flight calls and open streams, forcing the stop when ctx
// ends first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv := s.grpcSrv
	if srv == nil {
		return nil
	}
	s.grpcSrv = nil
	if s.health != nil {
		s.health.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		srv.Stop()
		return errors.New("graceful shutdown timed out, forced stop")
	}
}

// SetServing flips the health status reported for the registered services.
// It is a no-op when health checks are disabled or the server is stopped.
func (s *Server) SetServing(serving bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.health != nil && s.grpcSrv != nil {
		s.health.SetServing(serving)
	}
}

// RegisterService implements grpc.ServiceRegistrar.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grpcSrv != nil {
		s.grpcSrv.RegisterService(desc, impl)
		if s.health != nil {
			s.health.Track(desc.ServiceName)
		}
		return
	}
	s.pending = append(s.pending, serviceRegistration{desc: desc, impl: impl})
}

// Address returns the bound address once started, else the configured one.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grpcSrv != nil
}

func (s *Server) serverOptions() ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{codec.ServerOption()}

	if s.config.TLS != nil && s.config.TLS.Enabled {
		creds, err := serverCredentials(s.config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	if s.config.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams))
	}
	if ka := s.config.Keepalive; ka != nil {
		opts = append(opts,
			grpc.KeepaliveParams(keepalive.ServerParameters{
				MaxConnectionIdle:     ka.MaxConnectionIdle,
				MaxConnectionAge:      ka.MaxConnectionAge,
				MaxConnectionAgeGrace: ka.MaxConnectionAgeGrace,
				Time:                  ka.Time,
				Timeout:               ka.Timeout,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             ka.MinTime,
				PermitWithoutStream: ka.PermitWithoutStream,
			}),
		)
	}
	if s.config.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.config.MaxRecvMsgSize))
	}
	if s.config.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(s.config.MaxSendMsgSize))
	}

	return append(opts, s.interceptorChain().Build()...), nil
}

// interceptorChain orders the interceptors as recovery, tracing, request
// id, logging, metrics, authentication, authorization, rate limit, then
// validation.
func (s *Server) interceptorChain() *interceptors.ChainBuilder {
	chain := interceptors.NewChainBuilder(s.logger).WithRecovery()
	if s.config.EnableTracing {
		chain.WithTracing()
	}
	chain.WithRequestID().WithLogging()
	if s.metrics != nil {
		chain.WithMetrics(s.metrics)
	}
	if len(s.config.AuthTokens) > 0 {
		chain.WithAuthentication(interceptors.NewTokenAuthenticator(s.config.AuthTokens)).
			WithAuthorization(s.roles)
	}
	if s.config.RateLimit > 0 {
		chain.WithRateLimit(s.config.RateLimit, s.config.RateBurst)
	}
	return chain.WithValidation()
}

// serverCredentials loads the server key pair and, for mTLS, the CA that
// node certificates must chain to.
func serverCredentials(cfg *TLSConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.ClientAuth {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA file")
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		tlsCfg.ClientCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}
