package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goclaw/clusterctl/config"
	"github.com/goclaw/clusterctl/pkg/api/handlers"
	"github.com/goclaw/clusterctl/pkg/grpc/client"
	"github.com/goclaw/clusterctl/pkg/logengine/badger"
	"github.com/goclaw/clusterctl/pkg/logengine/memory"
	"github.com/goclaw/clusterctl/pkg/logger"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.GRPC.Port = freePort(t)
	cfg.Server.GRPC.RateLimit = 0
	cfg.Metrics.Enabled = false
	cfg.Membership.NumPartitions = 2
	cfg.LogEngine.Type = "memory"
	return cfg
}

func waitForStatus(t *testing.T, url string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last int
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			last = resp.StatusCode
			resp.Body.Close()
			if last == want {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("GET %s: last status %d, want %d", url, last, want)
}

func TestServerStartup(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	waitForStatus(t, base+"/health", http.StatusOK)
	waitForStatus(t, base+"/ready", http.StatusOK)
	waitForStatus(t, base+"/status", http.StatusOK)
	waitForStatus(t, base+"/api/v1/cluster/state", http.StatusOK)

	opts := client.DefaultOptions(fmt.Sprintf("127.0.0.1:%d", cfg.Server.GRPC.Port))
	c, err := client.NewClient(opts)
	if err != nil {
		t.Fatalf("Failed to create grpc client: %v", err)
	}
	defer c.Close()

	rpcCtx, rpcCancel := context.WithTimeout(ctx, 3*time.Second)
	defer rpcCancel()
	node, err := c.AttachNode(rpcCtx, 7)
	if err != nil {
		t.Fatalf("AttachNode failed: %v", err)
	}
	if node.ID != 7 || node.Generation == 0 {
		t.Fatalf("AttachNode = %v, want N7 with a generation", node)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestServerStartup_PortInUse(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port))
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	a, err := newApp(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}

	select {
	case err := <-runAsync(a):
		if err == nil {
			t.Fatal("expected run to fail when the http port is taken")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not fail on a busy port")
	}
}

func runAsync(a *app) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.run(context.Background()) }()
	return done
}

func TestOpenLogEngine(t *testing.T) {
	ctx := context.Background()

	eng, err := openLogEngine(ctx, config.LogEngineConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("memory engine: %v", err)
	}
	if _, ok := eng.(*memory.Engine); !ok {
		t.Errorf("memory engine type = %T", eng)
	}
	_ = eng.Close()

	eng, err = openLogEngine(ctx, config.LogEngineConfig{
		Type:   "badger",
		Badger: config.BadgerConfig{InMemory: true},
	})
	if err != nil {
		t.Fatalf("badger engine: %v", err)
	}
	if _, ok := eng.(*badger.Engine); !ok {
		t.Errorf("badger engine type = %T", eng)
	}
	_ = eng.Close()

	if _, err := openLogEngine(ctx, config.LogEngineConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unknown engine type")
	}
}

func TestOpenLogEngine_RedisUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := openLogEngine(ctx, config.LogEngineConfig{
		Type: "redis",
		Redis: config.RedisConfig{
			Address:     fmt.Sprintf("127.0.0.1:%d", freePort(t)),
			DialTimeout: 200 * time.Millisecond,
		},
	})
	if err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	log := logger.New(&logger.Config{Level: logger.InfoLevel, Writer: io.Discard})

	a, err := newApp(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	defer a.close(context.Background())

	before := a.membership.Version()

	next := *cfg
	next.Log.Level = "debug"
	next.Membership.NumPartitions = 4
	a.applyConfig(&next)

	if log.GetLevel() != logger.DebugLevel {
		t.Errorf("log level = %v, want debug", log.GetLevel())
	}
	if a.membership.Version() != before+1 {
		t.Errorf("membership version = %d, want %d", a.membership.Version(), before+1)
	}
	if logs := a.membership.Logs(); len(logs) != 4 {
		t.Errorf("logs = %v, want 4", logs)
	}

	// Reapplying the same config is a no-op.
	a.applyConfig(&next)
	if a.membership.Version() != before+1 {
		t.Errorf("membership version bumped on unchanged config")
	}
}

func TestNewApp_StatusReflectsController(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPC.Enabled = false

	a, err := newApp(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	defer a.close(context.Background())

	if a.grpcSrv != nil {
		t.Error("grpc server should not be created when disabled")
	}

	rec := httptest.NewRecorder()
	a.httpSrv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready before run = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.httpSrv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var status handlers.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Running || status.NodesConfigVersion != 1 {
		t.Errorf("status = %+v, want idle controller at config version 1", status)
	}
}

func TestNewApp_HTTPDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTP.Enabled = false
	cfg.Server.GRPC.Enabled = false

	a, err := newApp(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	if a.httpSrv != nil {
		t.Fatal("http server should not be created when disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestOptions_Overrides(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]interface{}
	}{
		{"none", nil, map[string]interface{}{}},
		{"config only", []string{"-config", "c.yaml", "-watch=false"}, map[string]interface{}{}},
		{
			"every override",
			[]string{"-port", "8181", "-grpc-port", "9191", "-log-level", "debug", "-log-engine", "badger", "-debug"},
			map[string]interface{}{
				"server.port":      8181,
				"server.grpc.port": 9191,
				"log.level":        "debug",
				"log_engine.type":  "badger",
				"app.debug":        true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _, err := parseOptions(tt.args, io.Discard)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got := opts.overrides()
			if len(got) != len(tt.want) {
				t.Fatalf("overrides = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("overrides[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	opts, _, err := parseOptions([]string{"-config", "/etc/clusterctl/config.yaml"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.configPath != "/etc/clusterctl/config.yaml" || !opts.watch {
		t.Errorf("options = %+v", opts)
	}

	if _, _, err := parseOptions([]string{"-port", "http"}, io.Discard); err == nil {
		t.Error("expected error for a non-numeric port")
	}
	if _, _, err := parseOptions([]string{"-no-such-flag"}, io.Discard); err == nil {
		t.Error("expected error for an unknown flag")
	}
}

func TestNewLogger_DebugOverridesLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Output = "stderr"
	cfg.Log.Level = "error"
	if got := newLogger(cfg).GetLevel(); got != logger.ErrorLevel {
		t.Errorf("level = %v, want error", got)
	}

	cfg.App.Debug = true
	if got := newLogger(cfg).GetLevel(); got != logger.DebugLevel {
		t.Errorf("level = %v, want debug", got)
	}
}

func TestPrintVersionAndHelp(t *testing.T) {
	var buf strings.Builder
	printVersion(&buf)
	for _, expected := range []string{"clusterctl", "Version:", "Build Time:", "Git Commit:", "Go Version:"} {
		if !strings.Contains(buf.String(), expected) {
			t.Errorf("version output missing %q:\n%s", expected, buf.String())
		}
	}

	buf.Reset()
	_, fs, _ := parseOptions(nil, io.Discard)
	printHelp(&buf, fs)
	for _, expected := range []string{"Usage:", "Options:", "-log-engine", "Examples:"} {
		if !strings.Contains(buf.String(), expected) {
			t.Errorf("help output missing %q:\n%s", expected, buf.String())
		}
	}
}
