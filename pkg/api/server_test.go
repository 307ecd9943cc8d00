package api

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/goclaw/clusterctl/config"
	"github.com/goclaw/clusterctl/pkg/logger"
)

func TestNewHTTPServer(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 8080,
			HTTP: config.HTTPConfig{
				ReadTimeout:    30 * time.Second,
				IdleTimeout:    120 * time.Second,
				MaxHeaderBytes: 1 << 20,
			},
		},
	}

	stack := createTestHandlers(t)
	server := NewHTTPServer(cfg, logger.NewNop(), stack.handlers)

	if server == nil {
		t.Fatal("NewHTTPServer returned nil")
	}
	if server.server == nil {
		t.Fatal("HTTP server not initialized")
	}
	if server.router == nil {
		t.Error("Router not initialized")
	}
	if server.server.Addr != "localhost:8080" {
		t.Errorf("Addr = %q, want localhost:8080", server.server.Addr)
	}
	if server.server.WriteTimeout != 0 {
		t.Errorf("WriteTimeout = %v, want 0 so event streams stay open", server.server.WriteTimeout)
	}
	if server.server.MaxHeaderBytes != 1<<20 {
		t.Errorf("MaxHeaderBytes = %d, want %d", server.server.MaxHeaderBytes, 1<<20)
	}
}

func TestHTTPServer_ServeAndShutdown(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			HTTP: config.HTTPConfig{
				ReadTimeout: 5 * time.Second,
				IdleTimeout: 10 * time.Second,
			},
		},
	}

	stack := createTestHandlers(t)
	server := NewHTTPServer(cfg, logger.NewNop(), stack.handlers)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ln)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() != ln.Addr().String() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Health check status = %v, want %v", resp.StatusCode, http.StatusOK)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Serve() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Serve() did not return after shutdown")
	}
}

func TestHTTPServer_StartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: port},
	}
	server := NewHTTPServer(cfg, logger.NewNop(), &Handlers{})
	if err := server.Start(); err == nil {
		t.Fatal("expected Start to fail on a busy port")
	}
}
