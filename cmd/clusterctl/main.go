package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goclaw/clusterctl/config"
	"github.com/goclaw/clusterctl/pkg/logger"
	"github.com/goclaw/clusterctl/pkg/version"
)

// options are the command line flags. Zero values leave the loaded
// configuration untouched.
type options struct {
	configPath string
	version    bool
	help       bool
	watch      bool

	port      int
	grpcPort  int
	logLevel  string
	logEngine string
	debug     bool
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("clusterctl", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&opts.version, "version", false, "Print version information")
	fs.BoolVar(&opts.help, "help", false, "Print help information")
	fs.BoolVar(&opts.watch, "watch", true, "Reload log level and membership when the config file changes")
	fs.IntVar(&opts.port, "port", 0, "Override HTTP port")
	fs.IntVar(&opts.grpcPort, "grpc-port", 0, "Override gRPC port")
	fs.StringVar(&opts.logLevel, "log-level", "", "Override log level")
	fs.StringVar(&opts.logEngine, "log-engine", "", "Override log engine (memory, badger, redis)")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	return fs
}

func parseOptions(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := &options{}
	fs := newFlagSet(opts)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return opts, fs, nil
}

func main() {
	opts, fs, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if opts.help {
		printHelp(os.Stdout, fs)
		return
	}
	if opts.version {
		printVersion(os.Stdout)
		return
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(opts.configPath, opts.overrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	logger.SetGlobal(log)

	if err := serve(opts, loader, cfg, log); err != nil {
		log.Error("cluster controller failed", "error", err)
		_ = log.Close()
		os.Exit(1)
	}
	log.Info("cluster controller stopped gracefully")
	_ = log.Close()
}

// serve runs the controller until SIGINT or SIGTERM.
func serve(opts *options, loader *config.Loader, cfg *config.Config, log logger.Logger) error {
	log.Info("starting cluster controller",
		"version", version.Version,
		"build_time", version.BuildTime,
		"git_commit", version.GitCommit,
		"cluster", cfg.Membership.ClusterName,
		"environment", cfg.App.Environment,
		"config_file", loader.Path(),
	)
	log.Debug("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if path := loader.Path(); opts.watch && path != "" {
		watcher, err := config.NewWatcher(path, loader, config.WithWatcherLogger(log))
		if err != nil {
			log.Warn("config hot reload disabled", "error", err)
		} else {
			watcher.OnChange(a.applyConfig)
			go func() {
				if err := watcher.Watch(ctx); err != nil {
					log.Warn("config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	return a.run(ctx)
}

func newLogger(cfg *config.Config) logger.Logger {
	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.App.Debug {
		level = logger.DebugLevel
	}
	return logger.New(&logger.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// overrides returns the flags that were set as configuration keys.
func (o *options) overrides() map[string]interface{} {
	m := make(map[string]interface{})
	if o.port != 0 {
		m["server.port"] = o.port
	}
	if o.grpcPort != 0 {
		m["server.grpc.port"] = o.grpcPort
	}
	if o.logLevel != "" {
		m["log.level"] = o.logLevel
	}
	if o.logEngine != "" {
		m["log_engine.type"] = o.logEngine
	}
	if o.debug {
		m["app.debug"] = true
	}
	return m
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, version.String())
	fmt.Fprintf(w, "Version:    %s\n", version.Version)
	fmt.Fprintf(w, "Build Time: %s\n", version.BuildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", version.GitCommit)
	fmt.Fprintf(w, "Go Version: %s\n", version.GoVersion)
}

func printHelp(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "clusterctl tracks node liveness, partition status and log trimming for a cluster.\n\n")
	fmt.Fprintf(w, "Usage: clusterctl [options]\n\nOptions:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprint(w, `
Examples:
  clusterctl                              run with defaults or a discovered config file
  clusterctl -config clusterctl.yaml      use a specific config file
  clusterctl -log-engine badger -debug    override single settings
  clusterctl -version                     print version info
`)
}
