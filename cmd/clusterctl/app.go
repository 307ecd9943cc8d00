package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/goclaw/clusterctl/config"
	"github.com/goclaw/clusterctl/pkg/api"
	"github.com/goclaw/clusterctl/pkg/api/events"
	"github.com/goclaw/clusterctl/pkg/api/handlers"
	"github.com/goclaw/clusterctl/pkg/cluster"
	"github.com/goclaw/clusterctl/pkg/controller"
	grpcpkg "github.com/goclaw/clusterctl/pkg/grpc"
	grpchandlers "github.com/goclaw/clusterctl/pkg/grpc/handlers"
	"github.com/goclaw/clusterctl/pkg/grpc/interceptors"
	pb "github.com/goclaw/clusterctl/pkg/grpc/pb/v1"
	"github.com/goclaw/clusterctl/pkg/logengine"
	"github.com/goclaw/clusterctl/pkg/logengine/badger"
	"github.com/goclaw/clusterctl/pkg/logengine/memory"
	"github.com/goclaw/clusterctl/pkg/logengine/redis"
	"github.com/goclaw/clusterctl/pkg/logger"
	"github.com/goclaw/clusterctl/pkg/metrics"
	"github.com/goclaw/clusterctl/pkg/telemetry/tracing"
	"github.com/goclaw/clusterctl/pkg/version"
)

const defaultShutdownTimeout = 30 * time.Second

// app holds every component of a running controller process.
type app struct {
	log logger.Logger

	mu  sync.Mutex
	cfg *config.Config

	engine     logengine.LogEngine
	membership *cluster.StaticMembership
	metrics    *metrics.Manager
	events     *events.Broadcaster
	ctrl       *controller.Controller
	grpcSrv    *grpcpkg.Server
	httpSrv    *api.HTTPServer
	ws         *handlers.WebSocketHandler

	shutdownTracing tracing.ShutdownFunc
}

// newApp builds the controller and its servers without starting them.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Version:     version.Version,
		Environment: cfg.App.Environment,
		Partitions:  cfg.Membership.NumPartitions,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.shutdownTracing = shutdownTracing

	engine, err := openLogEngine(ctx, cfg.LogEngine)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("open log engine: %w", err)
	}
	a.engine = engine
	log.Info("log engine ready", "type", cfg.LogEngine.Type)

	a.metrics = metrics.NewManager(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	})
	a.events = events.NewBroadcaster()
	a.membership = cluster.NewStaticMembership(cfg.Membership.ToPartitionTable())

	a.ctrl, err = controller.New(a.membership, controller.NewEngineTrimmer(engine), cfg.Controller.ToOptions(),
		controller.WithMetrics(a.metrics),
		controller.WithEvents(a.events),
		controller.WithLogger(log),
	)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("create controller: %w", err)
	}
	svc := controller.NewService(a.ctrl)

	if cfg.Server.GRPC.Enabled {
		grpcCfg := cfg.Server.GRPC.ToGRPCConfig()
		grpcCfg.EnableTracing = cfg.Tracing.Enabled
		a.grpcSrv, err = grpcpkg.New(grpcCfg,
			grpcpkg.WithLogger(log),
			grpcpkg.WithMetrics(interceptors.NewMetrics(a.metrics.Registerer())),
		)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("create grpc server: %w", err)
		}
		pb.RegisterClusterCtrlServer(a.grpcSrv, grpchandlers.NewClusterCtrlServer(svc, a.events, log))
	}

	a.ws = handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		MaxConnections: cfg.Server.WebSocket.MaxConnections,
		PingInterval:   cfg.Server.WebSocket.PingInterval,
		PongTimeout:    cfg.Server.WebSocket.PongTimeout,
	})
	apiHandlers := &api.Handlers{
		Cluster: handlers.NewClusterHandler(svc, log),
		Health:  handlers.NewHealthHandler(a.ctrl, svc),
		Events:  a.ws,
	}
	if a.metrics.Enabled() {
		apiHandlers.Metrics = a.metrics
	}
	if cfg.Server.HTTP.Enabled {
		a.httpSrv = api.NewHTTPServer(cfg, log, apiHandlers)
	}

	return a, nil
}

// openLogEngine opens the configured log engine backend.
func openLogEngine(ctx context.Context, cfg config.LogEngineConfig) (logengine.LogEngine, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "badger":
		return badger.New(&badger.Config{
			Path:              cfg.Badger.Path,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
			InMemory:          cfg.Badger.InMemory,
		})
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:        cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, &logengine.UnavailableError{Backend: "redis", Cause: err}
		}
		return &redisEngine{
			Engine: redis.New(client, redis.Config{KeyPrefix: cfg.Redis.KeyPrefix}),
			client: client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown log engine type %q", cfg.Type)
	}
}

// redisEngine closes the client it was opened with.
type redisEngine struct {
	*redis.Engine
	client *goredis.Client
}

func (e *redisEngine) Close() error {
	return errors.Join(e.Engine.Close(), e.client.Close())
}

// run starts every component and blocks until ctx is done or a server
// fails, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	cfg := a.config()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.ctrl.Run(ctx); err != nil {
			if a.grpcSrv != nil {
				a.grpcSrv.SetServing(false)
			}
			errCh <- fmt.Errorf("controller: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		a.ws.Run(ctx, a.events)
	}()

	if a.grpcSrv != nil {
		if err := a.grpcSrv.Start(); err != nil {
			cancel()
			wg.Wait()
			a.close(context.Background())
			return fmt.Errorf("start grpc server: %w", err)
		}
	}

	if a.httpSrv != nil {
		go func() {
			if err := a.httpSrv.Start(); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if a.metrics.Enabled() {
		go func() {
			a.log.Info("metrics server listening", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := a.metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil && ctx.Err() == nil {
				a.log.Error("metrics server failed", "error", err)
			}
		}()
	}

	a.log.Info("cluster controller running",
		"http_enabled", a.httpSrv != nil,
		"http_port", cfg.Server.Port,
		"grpc_enabled", a.grpcSrv != nil,
		"grpc_port", cfg.Server.GRPC.Port,
		"partitions", cfg.Membership.NumPartitions,
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown requested")
	case runErr = <-errCh:
		a.log.Error("component failed, shutting down", "error", runErr)
	}

	timeout := cfg.Server.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("error shutting down http server", "error", err)
		}
	}
	if a.grpcSrv != nil {
		if err := a.grpcSrv.Stop(shutdownCtx); err != nil {
			a.log.Error("error shutting down grpc server", "error", err)
		}
	}

	cancel()
	wg.Wait()
	a.ws.Close()
	a.close(shutdownCtx)
	return runErr
}

// close releases the event fan-out, the log engine and the tracer provider.
func (a *app) close(ctx context.Context) {
	if a.events != nil {
		a.events.Close()
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.log.Error("error closing log engine", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Error("error shutting down tracing", "error", err)
		}
	}
}

func (a *app) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// applyConfig applies the hot-reloadable part of a reloaded configuration.
func (a *app) applyConfig(next *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	changes := config.Diff(a.cfg, next)
	if !changes.Any() {
		return
	}

	if changes.LogLevel {
		a.log.SetLevel(logger.ParseLevel(next.Log.Level))
		a.log.Info("log level changed", "from", a.cfg.Log.Level, "to", next.Log.Level)
	}
	if changes.LogFormat {
		a.log.Warn("log format changes take effect on restart", "format", next.Log.Format)
	}
	if changes.Membership {
		v := a.membership.Update(next.Membership.ToPartitionTable())
		a.log.Info("membership updated",
			"nodes_config_version", uint64(v),
			"partitions", next.Membership.NumPartitions,
		)
	}

	updated := *a.cfg
	updated.Log = next.Log
	updated.Membership = next.Membership
	a.cfg = &updated
}
