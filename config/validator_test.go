package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestFileExistsRule(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "server.pem")
	if err := os.WriteFile(cert, []byte("cert"), 0o600); err != nil {
		t.Fatal(err)
	}

	type tlsFiles struct {
		CertFile string `validate:"file_exists"`
	}
	for path, ok := range map[string]bool{
		"":                      true,
		cert:                    true,
		dir:                     false,
		"/nonexistent/cert.pem": false,
	} {
		err := validate.Struct(tlsFiles{CertFile: path})
		if (err == nil) != ok {
			t.Errorf("file_exists(%q) error = %v, want ok=%v", path, err, ok)
		}
	}
}

func TestHostRule(t *testing.T) {
	type bind struct {
		Host string `validate:"host"`
	}
	valid := []string{"", "localhost", "0.0.0.0", "127.0.0.1:8080", "ctl-1.east.example", "::1", "2001:db8::1", "ctl_node"}
	invalid := []string{"bad host", "tab\there", "line\nbreak", "hôst", "ctl@east", "ctl/1"}

	for _, h := range valid {
		if err := validate.Struct(bind{Host: h}); err != nil {
			t.Errorf("host %q rejected: %v", h, err)
		}
	}
	for _, h := range invalid {
		if err := validate.Struct(bind{Host: h}); err == nil {
			t.Errorf("host %q accepted", h)
		}
	}
}

func TestValidateWithDetails_NamesConfigKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.App.Environment = "qa"
	cfg.LogEngine.Type = "redis"
	cfg.LogEngine.Redis.Address = ""
	cfg.Membership.PartitionLogs = []PartitionLogConfig{{Partition: 3, Log: 1}, {Partition: 3, Log: 2}}

	details, ok := ValidateWithDetails(cfg).(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %v", ValidateWithDetails(cfg))
	}

	got := make([]string, 0, len(details))
	for _, d := range details {
		got = append(got, d.Field)
	}
	sort.Strings(got)
	want := []string{
		"app.environment",
		"log_engine.redis.address",
		"membership.partition_logs[1].partition",
		"server.port",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("fields = %v, want %v", got, want)
	}

	msg := details.Error()
	for _, part := range []string{"is required by the redis log engine", "partition is mapped more than once", "must be one of development"} {
		if !strings.Contains(msg, part) {
			t.Errorf("error %q does not mention %q", msg, part)
		}
	}
}

func TestConfigKey(t *testing.T) {
	tests := map[string]string{
		"Config.server.grpc.port": "server.grpc.port",
		"Config":                  "Config",
		"":                        "",
	}
	for in, want := range tests {
		if got := configKey(in); got != want {
			t.Errorf("configKey(%q) = %q, want %q", in, got, want)
		}
	}
}
