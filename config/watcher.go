package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/goclaw/clusterctl/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes and hands every valid
// result to the registered handlers. Invalid edits are logged and skipped,
// so the running configuration stays in effect.
type Watcher struct {
	path     string
	loader   *Loader
	debounce time.Duration
	log      logger.Logger
	fs       *fsnotify.Watcher

	mu       sync.Mutex
	handlers []func(*Config)
	running  bool

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must be quiet before it is reloaded.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for reload outcomes.
func WithWatcherLogger(log logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWatcher creates a watcher for path that reloads through loader.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config watcher: no config file to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		debounce: defaultDebounce,
		log:      logger.Global(),
		fs:       fsw,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnChange registers fn to receive every reloaded configuration. Handlers
// run one after another on the watch goroutine.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Watch blocks until ctx is done or Stop is called. The file's directory is
// watched rather than the file, so editors that save by renaming a new file
// into place are noticed too.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("config watcher: already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config watcher: watching %s: %w", w.path, err)
	}

	quiet := time.NewTimer(w.debounce)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == w.path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				quiet.Reset(w.debounce)
			}
		case <-quiet.C:
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.path, nil)
	if err != nil {
		w.log.Error("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.log.Info("config reloaded", "path", w.path)

	w.mu.Lock()
	handlers := slices.Clone(w.handlers)
	w.mu.Unlock()
	for _, fn := range handlers {
		w.dispatch(fn, cfg)
	}
}

func (w *Watcher) dispatch(fn func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("config change handler panicked", "panic", r)
		}
	}()
	fn(cfg)
}

// Stop ends Watch and releases the file watch. It is safe to call twice.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Changes lists which hot-reloadable settings differ between two configs.
// Everything else takes effect on restart only.
type Changes struct {
	LogLevel   bool
	LogFormat  bool
	Membership bool
}

// Any reports whether anything hot-reloadable changed.
func (c Changes) Any() bool {
	return c.LogLevel || c.LogFormat || c.Membership
}

// Diff compares the hot-reloadable settings of prev and next.
func Diff(prev, next *Config) Changes {
	return Changes{
		LogLevel:  prev.Log.Level != next.Log.Level,
		LogFormat: prev.Log.Format != next.Log.Format,
		Membership: prev.Membership.NumPartitions != next.Membership.NumPartitions ||
			!slices.Equal(prev.Membership.PartitionLogs, next.Membership.PartitionLogs),
	}
}
