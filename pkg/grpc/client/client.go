// Package client is the Go client of the ClusterCtrl gRPC service, used by
// nodes to attach and heartbeat and by operators to inspect and trim.
//
// ClusterCtrl messages are JSON, sent with the application/grpc+json content
// type (see pkg/grpc/codec). Clients in other languages must register a JSON
// codec for that subtype and encode the types of pkg/grpc/pb/v1; a protobuf
// stub will not decode them.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/goclaw/clusterctl/pkg/cluster"
	"github.com/goclaw/clusterctl/pkg/grpc/interceptors"
	pb "github.com/goclaw/clusterctl/pkg/grpc/pb/v1"
	"github.com/goclaw/clusterctl/pkg/version"
)

const defaultMaxMsgSize = 4 << 20

// Options configures a Client.
type Options struct {
	// Address is the controller's host:port or a gRPC target URI.
	Address string

	// TLS, when set, secures the connection. A zero TLS value uses the
	// system roots.
	TLS *TLSOptions

	// AuthToken is sent as a bearer token on every call.
	AuthToken string

	// EnableTracing forwards the caller's trace context.
	EnableTracing bool

	MaxRecvMsgSize int
	MaxSendMsgSize int

	// Timeout bounds calls whose context has no deadline. Zero disables it.
	Timeout time.Duration

	KeepAlive *keepalive.ClientParameters

	// RetryPolicy applies to idempotent reads only. nil disables retries.
	RetryPolicy *RetryPolicy

	// DialOptions are appended after the options derived from the fields
	// above.
	DialOptions []grpc.DialOption
}

// TLSOptions selects the certificates of a TLS connection. CertFile and
// KeyFile present a client certificate for mTLS.
type TLSOptions struct {
	CAFile     string
	CertFile   string
	KeyFile    string
	ServerName string
}

// RetryPolicy is the backoff schedule for retried reads. RetryableErrors
// holds gRPC code names such as "Unavailable".
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	RetryableErrors   []string
}

// DefaultOptions returns plaintext options for address with a 10s call
// timeout and three attempts for reads.
func DefaultOptions(address string) *Options {
	return &Options{
		Address:        address,
		MaxRecvMsgSize: defaultMaxMsgSize,
		MaxSendMsgSize: defaultMaxMsgSize,
		Timeout:        10 * time.Second,
		KeepAlive: &keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		},
		RetryPolicy: DefaultRetryPolicy(),
	}
}

// DefaultRetryPolicy retries transient failures up to three times.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2,
		RetryableErrors:   []string{"Unavailable", "DeadlineExceeded", "ResourceExhausted"},
	}
}

// Client talks to one controller.
type Client struct {
	conn        *grpc.ClientConn
	ctrl        pb.ClusterCtrlClient
	health      grpc_health_v1.HealthClient
	timeout     time.Duration
	retryPolicy *RetryPolicy
}

// NewClient creates a client for opts.Address. No connection is made until
// the first call or WaitForReady.
func NewClient(opts *Options) (*Client, error) {
	if opts == nil {
		return nil, errors.New("client: options cannot be nil")
	}
	if opts.Address == "" {
		return nil, errors.New("client: address is required")
	}

	dialOpts, err := dialOptions(opts)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(opts.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", opts.Address, err)
	}

	return &Client{
		conn:        conn,
		ctrl:        pb.NewClusterCtrlClient(conn),
		health:      grpc_health_v1.NewHealthClient(conn),
		timeout:     opts.Timeout,
		retryPolicy: opts.RetryPolicy,
	}, nil
}

func dialOptions(opts *Options) ([]grpc.DialOption, error) {
	recv, send := opts.MaxRecvMsgSize, opts.MaxSendMsgSize
	if recv <= 0 {
		recv = defaultMaxMsgSize
	}
	if send <= 0 {
		send = defaultMaxMsgSize
	}

	creds := insecure.NewCredentials()
	if opts.TLS != nil {
		var err error
		if creds, err = transportCredentials(opts.TLS); err != nil {
			return nil, fmt.Errorf("client: tls: %w", err)
		}
	}

	dial := []grpc.DialOption{
		grpc.WithUserAgent(version.UserAgent()),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(recv), grpc.MaxCallSendMsgSize(send)),
	}
	if opts.KeepAlive != nil {
		dial = append(dial, grpc.WithKeepaliveParams(*opts.KeepAlive))
	}
	if opts.AuthToken != "" {
		dial = append(dial, grpc.WithPerRPCCredentials(bearerToken{token: opts.AuthToken, secure: opts.TLS != nil}))
	}
	if opts.EnableTracing {
		dial = append(dial,
			grpc.WithChainUnaryInterceptor(interceptors.TracingClientUnaryInterceptor()),
			grpc.WithChainStreamInterceptor(interceptors.TracingClientStreamInterceptor()),
		)
	}
	return append(dial, opts.DialOptions...), nil
}

func transportCredentials(o *TLSOptions) (credentials.TransportCredentials, error) {
	cfg := &tls.Config{ServerName: o.ServerName, MinVersion: tls.VersionTLS12}

	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = x509.NewCertPool()
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", o.CAFile)
		}
	}
	if o.CertFile != "" || o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(cfg), nil
}

// bearerToken attaches the authorization header checked by the server's
// auth interceptor.
type bearerToken struct {
	token  string
	secure bool
}

func (b bearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{interceptors.AuthorizationKey: "Bearer " + b.token}, nil
}

func (b bearerToken) RequireTransportSecurity() bool { return b.secure }

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Conn returns the underlying connection.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// WaitForReady connects and blocks until the connection is ready or ctx
// is done.
func (c *Client) WaitForReady(ctx context.Context) error {
	c.conn.Connect()
	for state := c.conn.GetState(); state != connectivity.Ready; state = c.conn.GetState() {
		if !c.conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
	return nil
}

// HealthCheck reports an error unless the controller service is SERVING.
// The controller stops serving when its background loops fail.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: pb.ServiceName})
	if err != nil {
		return err
	}
	if s := resp.GetStatus(); s != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("controller is %s", s)
	}
	return nil
}

// bounded applies the client timeout to ctx unless it has a deadline.
func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// GetClusterState fetches a snapshot of node liveness and partition
// statuses.
func (c *Client) GetClusterState(ctx context.Context) (cluster.ClusterState, error) {
	resp, err := withRetry(c, ctx, func(ctx context.Context) (*pb.GetClusterStateResponse, error) {
		ctx, cancel := c.bounded(ctx)
		defer cancel()
		return c.ctrl.GetClusterState(ctx, &pb.GetClusterStateRequest{})
	})
	if err != nil {
		return cluster.ClusterState{}, err
	}
	return resp.State, nil
}

// SafeTrimPoint returns the point log may currently be trimmed to. ok is
// false when no prefix of the log is safe to drop.
func (c *Client) SafeTrimPoint(ctx context.Context, log cluster.LogID) (point cluster.TrimPoint, ok bool, err error) {
	resp, err := withRetry(c, ctx, func(ctx context.Context) (*pb.GetSafeTrimPointResponse, error) {
		ctx, cancel := c.bounded(ctx)
		defer cancel()
		return c.ctrl.GetSafeTrimPoint(ctx, &pb.GetSafeTrimPointRequest{LogID: uint64(log)})
	})
	if err != nil {
		return cluster.TrimPoint{}, false, err
	}
	return cluster.TrimPoint{Log: log, LSN: cluster.LSN(resp.LSN)}, resp.Safe, nil
}

// PartitionLeader returns the node leading partition. ok is false when no
// node claims leadership; IsLeadershipAmbiguous identifies a tie.
func (c *Client) PartitionLeader(ctx context.Context, partition cluster.PartitionID) (leader cluster.GenerationalNodeID, ok bool, err error) {
	resp, err := withRetry(c, ctx, func(ctx context.Context) (*pb.GetPartitionLeaderResponse, error) {
		ctx, cancel := c.bounded(ctx)
		defer cancel()
		return c.ctrl.GetPartitionLeader(ctx, &pb.GetPartitionLeaderRequest{PartitionID: uint64(partition)})
	})
	if err != nil || resp.Leader == nil {
		return cluster.GenerationalNodeID{}, false, err
	}
	return *resp.Leader, true, nil
}

// The calls below change controller state and are sent exactly once.

// TrimLog trims log up to point. IsUnsafeTrim identifies a refusal.
func (c *Client) TrimLog(ctx context.Context, log cluster.LogID, point cluster.LSN) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	_, err := c.ctrl.TrimLog(ctx, &pb.TrimLogRequest{LogID: uint64(log), TrimPoint: uint64(point)})
	return err
}

// AttachNode registers a new incarnation of node and returns its
// generation.
func (c *Client) AttachNode(ctx context.Context, node cluster.PlainNodeID) (cluster.GenerationalNodeID, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	resp, err := c.ctrl.AttachNode(ctx, &pb.AttachNodeRequest{NodeID: uint32(node)})
	if err != nil {
		return cluster.GenerationalNodeID{}, err
	}
	return resp.Node, nil
}

// Heartbeat reports node liveness together with its partition statuses.
func (c *Client) Heartbeat(ctx context.Context, req *pb.HeartbeatRequest) (*pb.HeartbeatResponse, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.ctrl.Heartbeat(ctx, req)
}

// WatchEvents streams cluster events of the given families until ctx is
// done. No types means every event.
func (c *Client) WatchEvents(ctx context.Context, types ...string) (grpc.ServerStreamingClient[pb.Event], error) {
	return c.ctrl.WatchEvents(ctx, &pb.WatchEventsRequest{Types: types})
}
