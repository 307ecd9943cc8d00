package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix of environment variables read by the loader.
	EnvPrefix = "CLUSTERCTL_"
	// Delimiter separates the levels of a configuration key.
	Delimiter = "."

	// Keys contain single underscores, so env names nest on a double one.
	envNestingSeparator = "__"
)

// SearchPaths are tried in order when Load is given no config file.
var SearchPaths = []string{
	"clusterctl.yaml",
	"config.yaml",
	"config.json",
	"configs/clusterctl.yaml",
	"/etc/clusterctl/config.yaml",
}

var durationType = reflect.TypeOf(time.Duration(0))

// Loader builds a Config from layered sources. Each layer overrides single
// keys of the ones before it:
//
//	defaults < config file < CLUSTERCTL_* environment < command line
//
// The key space of the last successful Load stays available through Get.
type Loader struct {
	mu   sync.RWMutex
	k    *koanf.Koanf
	path string
}

// NewLoader creates a loader with an empty key space.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

type layer struct {
	name string
	load func(k *koanf.Koanf) error
}

// Load reads and validates the configuration. An empty path falls back to
// the first existing entry of SearchPaths. A failed Load leaves the
// previous key space in place.
func (l *Loader) Load(path string, overrides map[string]interface{}) (*Config, error) {
	if path == "" {
		path = discover()
	}

	layers := []layer{
		{"defaults", func(k *koanf.Koanf) error {
			return k.Load(confmap.Provider(flatten(DefaultConfig()), Delimiter), nil)
		}},
		{"config file", func(k *koanf.Koanf) error {
			if path == "" {
				return nil
			}
			return loadFile(k, path)
		}},
		{"environment", func(k *koanf.Koanf) error {
			return k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil)
		}},
		{"overrides", func(k *koanf.Koanf) error {
			if len(overrides) == 0 {
				return nil
			}
			return k.Load(confmap.Provider(overrides, Delimiter), nil)
		}},
	}

	k := koanf.New(Delimiter)
	for _, ly := range layers {
		if err := ly.load(k); err != nil {
			return nil, fmt.Errorf("loading %s: %w", ly.name, err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.k, l.path = k, path
	l.mu.Unlock()
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("%s: unsupported format %q", path, ext)
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return k.Load(file.Provider(path), parser)
}

func discover() string {
	for _, p := range SearchPaths {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// envKey maps an environment variable to a key:
//
//	CLUSTERCTL_CONTROLLER__LIVENESS_TIMEOUT -> controller.liveness_timeout
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, envNestingSeparator, Delimiter)
}

// Path returns the config file used by the last successful Load, or "" if
// none was found.
func (l *Loader) Path() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

// Get returns the raw value of key.
func (l *Loader) Get(key string) interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.Get(key)
}

// Set overrides key in the current key space. It does not affect the next
// Load.
func (l *Loader) Set(key string, value interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.Set(key, value)
}

// Sprint renders every key and value, one per line.
func (l *Loader) Sprint() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.Sprint()
}

// flatten turns a config struct into dotted keys named by mapstructure
// tags. Durations become strings so they decode like file values.
func flatten(v interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	flattenInto(out, "", reflect.Indirect(reflect.ValueOf(v)))
	return out
}

func flattenInto(out map[string]interface{}, prefix string, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if !f.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + Delimiter + tag
		}

		fv := v.Field(i)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		switch {
		case fv.Type() == durationType:
			out[key] = time.Duration(fv.Int()).String()
		case fv.Kind() == reflect.Struct:
			flattenInto(out, key, fv)
		default:
			out[key] = fv.Interface()
		}
	}
}
