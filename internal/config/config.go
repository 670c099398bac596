// Package config loads the neonflow settings from an optional YAML file and the environment.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/adapters/openai"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and it exists in the working directory.
const DefaultFile = "neonflow.yaml"

// Default definition files, tried in order.
const (
	DefaultWorkflowsPath = "workflows.yaml"
	LegacyWorkflowsPath  = "config.nm"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds every setting of the CLI and servers.
type Config struct {
	WorkflowsPath string        `yaml:"workflows"`
	ToolsPath     string        `yaml:"tools"`
	LogLevel      string        `yaml:"log_level"`
	Mock          bool          `yaml:"mock"`
	Parallel      int           `yaml:"parallel"`
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`

	Transport openai.Config `yaml:"transport"`
	Store     StoreConfig   `yaml:"store"`
	AMQP      AMQPConfig    `yaml:"amqp"`
	Tracing   TracingConfig `yaml:"tracing"`
	HTTP      HTTPConfig    `yaml:"http"`
}

// StoreConfig selects the run archive.
type StoreConfig struct {
	Kind          string        `yaml:"kind"`
	Path          string        `yaml:"path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`

	// EncryptionKey is a base64 AES-256 key; when set, archived runs are sealed.
	EncryptionKey string `yaml:"encryption_key"`
	// FallbackKeys decrypt runs archived before a key rotation.
	FallbackKeys []string `yaml:"fallback_keys"`
	// Redact masks variables whose names match any of these patterns.
	Redact []string `yaml:"redact"`
}

// Keys decodes the encryption keys. A nil active key means encryption is off.
func (s StoreConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	active, err = decodeKey(s.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid encryption_key: %w", err)
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// AMQPConfig enables event publishing when URL is set.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// TracingConfig enables span export. Output is a file path; empty means stderr.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"`
}

// HTTPConfig configures `neonflow serve`.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		WorkflowsPath: DefaultWorkflowsPath,
		ToolsPath:     "tools.yaml",
		LogLevel:      "info",
		Parallel:      4,
		Transport:     openai.DefaultConfig(),
		Store: StoreConfig{
			Kind:      StoreMemory,
			Path:      ".neonflow/runs",
			RedisAddr: "localhost:6379",
		},
		AMQP: AMQPConfig{Exchange: "neonflow.events"},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load returns the defaults overlaid with the YAML file at path and then the
// environment. An empty path reads DefaultFile if present.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays NEONFLOW_* variables and the API key.
// API_KEY wins over OPENAI_API_KEY.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}

	str("OPENAI_API_KEY", &c.Transport.APIKey)
	str(openai.DefaultAPIKeyEnv, &c.Transport.APIKey)
	str("NEONFLOW_FILE", &c.WorkflowsPath)
	str("NEONFLOW_TOOLS", &c.ToolsPath)
	str("NEONFLOW_LOG_LEVEL", &c.LogLevel)
	str("NEONFLOW_MODEL", &c.Transport.Model)
	str("NEONFLOW_BASE_URL", &c.Transport.BaseURL)
	str("NEONFLOW_STORE", &c.Store.Kind)
	str("NEONFLOW_STORE_PATH", &c.Store.Path)
	str("NEONFLOW_REDIS_ADDR", &c.Store.RedisAddr)
	str("NEONFLOW_REDIS_PASSWORD", &c.Store.RedisPassword)
	str("NEONFLOW_STORE_KEY", &c.Store.EncryptionKey)
	str("NEONFLOW_AMQP_URL", &c.AMQP.URL)
	str("NEONFLOW_HTTP_ADDR", &c.HTTP.Addr)
	num("NEONFLOW_REDIS_DB", &c.Store.RedisDB)
	num("NEONFLOW_RATE_LIMIT", &c.Transport.RateLimit)
	num("NEONFLOW_PARALLEL", &c.Parallel)

	if v, ok := lookup("NEONFLOW_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid NEONFLOW_TEMPERATURE %q: %w", v, err))
		} else {
			c.Transport.Temperature = f
		}
	}
	if v, ok := lookup("NEONFLOW_INVOKE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid NEONFLOW_INVOKE_TIMEOUT %q: %w", v, err))
		} else {
			c.InvokeTimeout = d
		}
	}
	if v, ok := lookup("NEONFLOW_MOCK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid NEONFLOW_MOCK %q: %w", v, err))
		} else {
			c.Mock = b
		}
	}
	if v, ok := lookup("NEONFLOW_TRACING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid NEONFLOW_TRACING %q: %w", v, err))
		} else {
			c.Tracing.Enabled = b
		}
	}
	return errors.Join(errs...)
}

// Validate checks ranges and enumerations. The transport is only checked when
// it will be used.
func (c Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Parallel < 0 {
		errs = append(errs, fmt.Errorf("parallel must not be negative"))
	}
	if c.InvokeTimeout < 0 {
		errs = append(errs, fmt.Errorf("invoke_timeout must not be negative"))
	}
	if t := c.Transport.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2, got %g", t))
	}
	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store path is required for the file store"))
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("redis_addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store kind %q (want memory, file or redis)", c.Store.Kind))
	}
	if _, _, err := c.Store.Keys(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.Store.Redact {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("invalid redact pattern %q: %w", p, err))
		}
	}
	if !c.Mock {
		if err := c.Transport.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
