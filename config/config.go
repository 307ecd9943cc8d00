// Package config loads, validates and watches the controller's
// configuration. Values are layered: built-in defaults, then a YAML or JSON
// file, then CLUSTERCTL_ environment variables, then command line
// overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the root of the configuration tree. The mapstructure tags are
// the file and environment key names.
type Config struct {
	App        AppConfig        `mapstructure:"app" validate:"required"`
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Log        LogConfig        `mapstructure:"log" validate:"required"`
	Controller ControllerConfig `mapstructure:"controller"`
	Membership MembershipConfig `mapstructure:"membership"`
	LogEngine  LogEngineConfig  `mapstructure:"log_engine"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// AppConfig identifies the process.
type AppConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Version string `mapstructure:"version"`
	// Environment is one of Environments.
	Environment string `mapstructure:"environment" validate:"env"`
	// Debug forces debug logging regardless of log.level.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the listeners. Port is the HTTP API port; gRPC and
// metrics listen on their own ports.
type ServerConfig struct {
	Host      string          `mapstructure:"host" validate:"host"`
	Port      int             `mapstructure:"port" validate:"required,min=1,max=65535"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	CORS      CORSConfig      `mapstructure:"cors"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// GRPCConfig configures the ClusterCtrl gRPC service.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConnections caps concurrent streams per connection.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"min=0"`
	MaxSendMsgSize int `mapstructure:"max_send_msg_size" validate:"min=0"`

	EnableReflection  bool `mapstructure:"enable_reflection"`
	EnableHealthCheck bool `mapstructure:"enable_health_check"`

	// RateLimit is the per-caller budget in calls per second. Zero turns
	// limiting off.
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0"`
	RateBurst int     `mapstructure:"rate_burst" validate:"min=0"`

	// AuthTokens turns on bearer authentication when not empty.
	AuthTokens []AuthTokenConfig `mapstructure:"auth_tokens" validate:"dive"`

	TLS       GRPCTLSConfig       `mapstructure:"tls"`
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// AuthTokenConfig grants a bearer token one role.
type AuthTokenConfig struct {
	Token string `mapstructure:"token" validate:"required"`
	Role  string `mapstructure:"role" validate:"required,oneof=admin node reader"`
}

// GRPCTLSConfig holds server certificates. Setting ClientAuth requires
// clients to present a certificate signed by CAFile.
type GRPCTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file" validate:"file_exists"`
	KeyFile    string `mapstructure:"key_file" validate:"file_exists"`
	CAFile     string `mapstructure:"ca_file" validate:"file_exists"`
	ClientAuth bool   `mapstructure:"client_auth"`
}

// GRPCKeepaliveConfig mirrors keepalive.ServerParameters and
// keepalive.EnforcementPolicy.
type GRPCKeepaliveConfig struct {
	MaxConnectionIdle     time.Duration `mapstructure:"max_connection_idle" validate:"min=0"`
	MaxConnectionAge      time.Duration `mapstructure:"max_connection_age" validate:"min=0"`
	MaxConnectionAgeGrace time.Duration `mapstructure:"max_connection_age_grace" validate:"min=0"`
	Time                  time.Duration `mapstructure:"time" validate:"min=0"`
	Timeout               time.Duration `mapstructure:"timeout" validate:"min=0"`
	// MinTime is the shortest client ping interval tolerated.
	MinTime             time.Duration `mapstructure:"min_time" validate:"min=0"`
	PermitWithoutStream bool          `mapstructure:"permit_without_stream"`
}

// HTTPConfig configures the REST API listener. There is no write timeout:
// the event stream shares the listener and stays open indefinitely.
type HTTPConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// HandlerTimeout bounds request/response routes. Zero disables it.
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout" validate:"min=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// WebSocketConfig configures the /api/v1/events stream.
type WebSocketConfig struct {
	MaxConnections int           `mapstructure:"max_connections" validate:"min=0"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
}

// LogConfig configures the process logger. Level is hot reloadable.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output"`
}

// ControllerConfig holds the liveness sweep and trim task settings.
type ControllerConfig struct {
	// LivenessTimeout is how long a node may go without a heartbeat before
	// it is considered Dead.
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout" validate:"gt=0"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`

	TrimEnabled  bool          `mapstructure:"trim_enabled"`
	TrimInterval time.Duration `mapstructure:"trim_interval" validate:"gt=0"`
	// TrimTimeout bounds a single trim call against the log engine.
	TrimTimeout time.Duration `mapstructure:"trim_timeout" validate:"gt=0"`

	// DeadNodeGracePeriod is how long a Dead node's position keeps bounding
	// the trim point after it was last seen alive.
	DeadNodeGracePeriod time.Duration `mapstructure:"dead_node_grace_period" validate:"min=0"`
}

// MembershipConfig is the static partition table. Partition p writes to
// log p unless PartitionLogs says otherwise. Changes are hot reloaded.
type MembershipConfig struct {
	ClusterName   string               `mapstructure:"cluster_name" validate:"required"`
	NumPartitions int                  `mapstructure:"num_partitions" validate:"min=0"`
	PartitionLogs []PartitionLogConfig `mapstructure:"partition_logs" validate:"dive"`
}

// PartitionLogConfig maps one partition to a log.
type PartitionLogConfig struct {
	Partition uint64 `mapstructure:"partition"`
	Log       uint64 `mapstructure:"log"`
}

// LogEngineConfig selects the log engine the trim task calls. Only the
// section matching Type is read.
type LogEngineConfig struct {
	Type   string       `mapstructure:"type" validate:"oneof=memory badger redis"`
	Badger BadgerConfig `mapstructure:"badger"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// BadgerConfig holds BadgerDB settings.
type BadgerConfig struct {
	Path              string `mapstructure:"path"`
	SyncWrites        bool   `mapstructure:"sync_writes"`
	ValueLogFileSize  int64  `mapstructure:"value_log_file_size"`
	NumVersionsToKeep int    `mapstructure:"num_versions_to_keep"`
	// InMemory runs without touching Path, for tests and demos.
	InMemory bool `mapstructure:"in_memory"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	// KeyPrefix namespaces the trim point keys.
	KeyPrefix   string        `mapstructure:"key_prefix"`
	PoolSize    int           `mapstructure:"pool_size" validate:"min=0"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter" validate:"oneof=otlp"`
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string            `mapstructure:"endpoint"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"`
	// Sampler is always_on, always_off or ratio. ratio samples SampleRate
	// of new traces and follows the parent otherwise.
	Sampler    string  `mapstructure:"sampler" validate:"oneof=always_on always_off ratio"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate checks field and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String summarizes the configuration without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Cluster: %s, LogEngine: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Membership.ClusterName, c.LogEngine.Type)
}
