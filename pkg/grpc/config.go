package grpc

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the ClusterCtrl gRPC server settings.
type Config struct {
	// Address is the listen address, e.g. ":9090".
	Address string

	// TLS enables TLS, and mTLS when ClientAuth is set. Nil serves
	// plaintext.
	TLS *TLSConfig

	// MaxConcurrentStreams caps streams per connection. Zero keeps the
	// gRPC default.
	MaxConcurrentStreams uint32

	// Keepalive tunes connection keepalive. Nil keeps the gRPC defaults.
	Keepalive *KeepaliveConfig

	// MaxRecvMsgSize and MaxSendMsgSize bound message sizes in bytes.
	MaxRecvMsgSize int
	MaxSendMsgSize int

	EnableReflection  bool
	EnableHealthCheck bool
	EnableTracing     bool

	// RateLimit is the per-caller request rate. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// AuthTokens maps bearer tokens to roles. Empty disables
	// authentication.
	AuthTokens map[string]string
}

// TLSConfig locates the server's key material.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	// CAFile verifies client certificates when ClientAuth is set.
	CAFile     string
	ClientAuth bool
}

// KeepaliveConfig mirrors keepalive.ServerParameters plus the client ping
// enforcement policy.
type KeepaliveConfig struct {
	MaxConnectionIdle     time.Duration
	MaxConnectionAge      time.Duration
	MaxConnectionAgeGrace time.Duration
	Time                  time.Duration
	Timeout               time.Duration
	// MinTime is the shortest ping interval tolerated from nodes.
	MinTime             time.Duration
	PermitWithoutStream bool
}

// DefaultConfig returns the defaults used when the controller runs with no
// gRPC section. Nodes heartbeat over long lived connections, so idle
// connections are kept for five minutes.
func DefaultConfig() *Config {
	return &Config{
		Address:              ":9090",
		MaxConcurrentStreams: 1000,
		MaxRecvMsgSize:       4 << 20,
		MaxSendMsgSize:       4 << 20,
		EnableHealthCheck:    true,
		RateLimit:            100,
		RateBurst:            200,
		Keepalive: &KeepaliveConfig{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      time.Hour,
			MaxConnectionAgeGrace: time.Minute,
			Time:                  time.Minute,
			Timeout:               20 * time.Second,
			MinTime:               30 * time.Second,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Address == "":
		return errors.New("address cannot be empty")
	case c.MaxRecvMsgSize < 0 || c.MaxSendMsgSize < 0:
		return errors.New("message size limits cannot be negative")
	case c.RateLimit < 0 || c.RateBurst < 0:
		return errors.New("rate limit cannot be negative")
	case c.RateLimit > 0 && c.RateBurst == 0:
		return errors.New("rate burst is required when rate limit is set")
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("invalid TLS config: %w", err)
		}
	}
	if c.Keepalive != nil {
		if err := c.Keepalive.Validate(); err != nil {
			return fmt.Errorf("invalid keepalive config: %w", err)
		}
	}
	return nil
}

// Validate checks that the files TLS needs are named.
func (t *TLSConfig) Validate() error {
	switch {
	case !t.Enabled:
		return nil
	case t.CertFile == "" || t.KeyFile == "":
		return errors.New("cert file and key file are required when TLS is enabled")
	case t.ClientAuth && t.CAFile == "":
		return errors.New("CA file is required when client auth is enabled")
	}
	return nil
}

// Validate rejects negative durations and a ping timeout that is not
// shorter than the ping interval.
func (k *KeepaliveConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"max connection idle":      k.MaxConnectionIdle,
		"max connection age":       k.MaxConnectionAge,
		"max connection age grace": k.MaxConnectionAgeGrace,
		"time":                     k.Time,
		"timeout":                  k.Timeout,
		"min time":                 k.MinTime,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if k.Time > 0 && k.Timeout >= k.Time {
		return errors.New("timeout must be less than ping interval")
	}
	return nil
}
