package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Environments lists the accepted values of app.environment.
var Environments = []string{"development", "staging", "production"}

// validate reports fields by their configuration keys, so errors read
// "server.port" rather than "ServerConfig.Port".
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("mapstructure"); name != "" && name != "-" {
			return name
		}
		return f.Name
	})

	_ = v.RegisterValidation("env", func(fl validator.FieldLevel) bool {
		return slices.Contains(Environments, fl.Field().String())
	})
	_ = v.RegisterValidation("file_exists", fileExists)
	_ = v.RegisterValidation("host", hostname)

	v.RegisterStructValidation(logEngineRules, LogEngineConfig{})
	v.RegisterStructValidation(membershipRules, MembershipConfig{})
	v.RegisterStructValidation(tracingRules, TracingConfig{})
	return v
}

// ConfigError describes one invalid configuration key.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors lists every invalid key of a configuration.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	lines := make([]string, 0, len(e)+1)
	lines = append(lines, "configuration validation failed:")
	for _, ce := range e {
		lines = append(lines, "  - "+ce.Error())
	}
	return strings.Join(lines, "\n")
}

// ValidateWithDetails validates cfg and returns ValidationErrors naming each
// offending key.
func ValidateWithDetails(cfg *Config) error {
	err := validate.Struct(cfg)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	details := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ConfigError{
			Field:   configKey(fe.Namespace()),
			Message: describe(fe),
			Value:   fe.Value(),
		})
	}
	return details
}

// configKey drops the root type from a validator namespace.
func configKey(namespace string) string {
	_, key, ok := strings.Cut(namespace, ".")
	if !ok {
		return namespace
	}
	return key
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "env":
		return "must be one of " + strings.Join(Environments, ", ")
	case "host":
		return "is not a valid host"
	case "file_exists":
		return "file does not exist"
	case "unique_partition":
		return "partition is mapped more than once"
	case "required_for_backend":
		return "is required by the " + fe.Param() + " log engine"
	case "required_if_enabled":
		return "is required when enabled"
	}
	return "failed " + fe.Tag() + " check"
}

// fileExists accepts an empty path or a regular file.
func fileExists(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// hostname accepts an empty value or an ASCII host name or address,
// optionally followed by a port.
func hostname(fl validator.FieldLevel) bool {
	return strings.IndexFunc(fl.Field().String(), func(r rune) bool { return !isHostRune(r) }) < 0
}

func isHostRune(r rune) bool {
	switch {
	case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		return true
	case r == '-', r == '.', r == ':', r == '_':
		return true
	}
	return false
}

func logEngineRules(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(LogEngineConfig)
	switch cfg.Type {
	case "badger":
		if !cfg.Badger.InMemory && strings.TrimSpace(cfg.Badger.Path) == "" {
			sl.ReportError(cfg.Badger.Path, "badger.path", "Path", "required_for_backend", "badger")
		}
	case "redis":
		if strings.TrimSpace(cfg.Redis.Address) == "" {
			sl.ReportError(cfg.Redis.Address, "redis.address", "Address", "required_for_backend", "redis")
		}
	}
}

func membershipRules(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(MembershipConfig)
	seen := make(map[uint64]bool, len(cfg.PartitionLogs))
	for i, pl := range cfg.PartitionLogs {
		if seen[pl.Partition] {
			sl.ReportError(pl.Partition, fmt.Sprintf("partition_logs[%d].partition", i), "Partition", "unique_partition", "")
		}
		seen[pl.Partition] = true
	}
}

func tracingRules(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(TracingConfig)
	if !cfg.Enabled {
		return
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		sl.ReportError(cfg.Endpoint, "endpoint", "Endpoint", "required_if_enabled", "")
	}
	if cfg.Timeout <= 0 {
		sl.ReportError(cfg.Timeout, "timeout", "Timeout", "required_if_enabled", "")
	}
}
