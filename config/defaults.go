package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "clusterctl",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			GRPC: GRPCConfig{
				Enabled:           true,
				Port:              9090,
				MaxConnections:    1000,
				MaxRecvMsgSize:    4 * 1024 * 1024, // 4MB
				MaxSendMsgSize:    4 * 1024 * 1024, // 4MB
				EnableReflection:  false,
				EnableHealthCheck: true,
				RateLimit:         100,
				RateBurst:         200,
				Keepalive: GRPCKeepaliveConfig{
					MaxConnectionIdle:     5 * time.Minute,
					MaxConnectionAge:      time.Hour,
					MaxConnectionAgeGrace: time.Minute,
					Time:                  time.Minute,
					Timeout:               20 * time.Second,
					MinTime:               30 * time.Second,
					PermitWithoutStream:   true,
				},
			},
			HTTP: HTTPConfig{
				Enabled:         true,
				ReadTimeout:     30 * time.Second,
				HandlerTimeout:  30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
				MaxAge:         300,
			},
			WebSocket: WebSocketConfig{
				MaxConnections: 100,
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Controller: ControllerConfig{
			LivenessTimeout:     10 * time.Second,
			SweepInterval:       time.Second,
			TrimEnabled:         true,
			TrimInterval:        60 * time.Second,
			TrimTimeout:         5 * time.Second,
			DeadNodeGracePeriod: 5 * time.Minute,
		},
		Membership: MembershipConfig{
			ClusterName:   "localcluster",
			NumPartitions: 16,
		},
		LogEngine: LogEngineConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/logs",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 30, // 1GB
				NumVersionsToKeep: 1,
			},
			Redis: RedisConfig{
				Address:     "localhost:6379",
				KeyPrefix:   "clusterctl:log:",
				PoolSize:    10,
				DialTimeout: 5 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
