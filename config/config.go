// Package config provides loading and parsing of agent.yaml configuration
// files. The configuration selects the agent modules whose stores are built
// and configures stabilization, persistence snapshots, presence and logging.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/gami/model"
)

// Agent modules. Each module enables the stores of the resource kinds its
// agent discovers.
const (
	ModuleCompute = "compute"
	ModuleChassis = "chassis"
	ModuleNetwork = "network"
	ModuleStorage = "storage"
	ModulePnc     = "pnc"
)

// AllModules lists every known module.
var AllModules = []string{ModuleCompute, ModuleChassis, ModuleNetwork, ModuleStorage, ModulePnc}

// Persistence backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config represents an agent.yaml configuration file.
type Config struct {
	// AgentID tags resources this process discovers. Empty for an
	// orchestrator that only aggregates.
	AgentID string `yaml:"agent_id,omitempty"`

	// Modules enabled in this process. Empty means all.
	Modules []string `yaml:"modules,omitempty"`

	Stabilization *StabilizationConfig `yaml:"stabilization,omitempty"`
	Persistence   *PersistenceConfig   `yaml:"persistence,omitempty"`
	Presence      *PresenceConfig      `yaml:"presence,omitempty"`
	Logging       *LoggingConfig       `yaml:"logging,omitempty"`
}

// StabilizationConfig configures persistent UUID derivation.
type StabilizationConfig struct {
	// Namespace is the name-space UUID persistent UUIDs are derived in.
	// Processes sharing resources must agree on it.
	Namespace string `yaml:"namespace,omitempty"`
}

// GetNamespace parses the namespace and returns model.DefaultNamespace if it
// is not set or invalid.
func (s *StabilizationConfig) GetNamespace() uuid.UUID {
	if s == nil || s.Namespace == "" {
		return model.DefaultNamespace
	}
	ns, err := uuid.Parse(s.Namespace)
	if err != nil {
		return model.DefaultNamespace
	}
	return ns
}

// PersistenceConfig configures store snapshots.
type PersistenceConfig struct {
	// Backend is one of none, memory, badger or redis.
	// Default: none
	Backend string `yaml:"backend,omitempty"`

	// Path is the badger directory.
	// Default: gami-data
	Path string `yaml:"path,omitempty"`

	// RedisURL is the redis connection URL, e.g. redis://localhost:6379/0.
	RedisURL string `yaml:"redis_url,omitempty"`

	// Prefix namespaces snapshot keys.
	// Default: gami
	Prefix string `yaml:"prefix,omitempty"`

	// Interval between snapshots.
	// Format: Go duration string (e.g., "30s", "1m")
	// Default: 30s
	Interval string `yaml:"interval,omitempty"`
}

// GetBackend returns the configured backend or BackendNone.
func (p *PersistenceConfig) GetBackend() string {
	if p == nil || p.Backend == "" {
		return BackendNone
	}
	return strings.ToLower(p.Backend)
}

// GetPath returns the badger directory or the default value.
func (p *PersistenceConfig) GetPath() string {
	if p == nil || p.Path == "" {
		return "gami-data"
	}
	return p.Path
}

// GetPrefix returns the key prefix or the default value.
func (p *PersistenceConfig) GetPrefix() string {
	if p == nil || p.Prefix == "" {
		return "gami"
	}
	return p.Prefix
}

// GetInterval parses the snapshot interval and returns a duration.
// Returns the default value if not set or invalid.
func (p *PersistenceConfig) GetInterval() time.Duration {
	if p == nil || p.Interval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// PresenceConfig configures agent presence in etcd.
type PresenceConfig struct {
	// Endpoints of the etcd cluster. Presence is disabled when empty.
	Endpoints []string `yaml:"endpoints,omitempty"`

	// Namespace is the etcd key prefix.
	// Default: /gami
	Namespace string `yaml:"namespace,omitempty"`

	// TTL of the agent lease in seconds.
	// Default: 30
	TTL int `yaml:"ttl,omitempty"`

	// TLS enables mutual TLS towards etcd. Nil disables TLS.
	TLS *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig holds client certificate paths (PEM format).
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`
}

// Enabled reports whether etcd endpoints are configured.
func (p *PresenceConfig) Enabled() bool {
	return p != nil && len(p.Endpoints) > 0
}

// GetNamespace returns the key prefix or the default value.
func (p *PresenceConfig) GetNamespace() string {
	if p == nil || p.Namespace == "" {
		return "/gami"
	}
	return p.Namespace
}

// GetTTL returns the lease TTL in seconds or the default value.
func (p *PresenceConfig) GetTTL() int {
	if p == nil || p.TTL <= 0 {
		return 30
	}
	return p.TTL
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format,omitempty"`
}

// GetLevel parses the level and returns slog.LevelInfo if it is not set or
// invalid.
func (l *LoggingConfig) GetLevel() slog.Level {
	if l == nil || l.Level == "" {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// GetFormat returns json or text.
func (l *LoggingConfig) GetFormat() string {
	if l != nil && strings.EqualFold(l.Format, "json") {
		return "json"
	}
	return "text"
}

// NewLogger builds a logger writing to w according to l.
func (l *LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.GetLevel()}
	if l.GetFormat() == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Default returns a configuration with every module enabled and no
// persistence or presence.
func Default() *Config {
	return &Config{Modules: slices.Clone(AllModules)}
}

// GetModules returns the enabled modules, all of them if none is listed.
func (c *Config) GetModules() []string {
	if c == nil || len(c.Modules) == 0 {
		return slices.Clone(AllModules)
	}
	return slices.Clone(c.Modules)
}

// HasModule reports whether module is enabled.
func (c *Config) HasModule(module string) bool {
	return slices.Contains(c.GetModules(), module)
}

// Validate checks module names, the persistence backend, the stabilization
// namespace and the log level.
func (c *Config) Validate() error {
	var errs []error

	for _, m := range c.Modules {
		if !slices.Contains(AllModules, m) {
			errs = append(errs, fmt.Errorf("unknown module %q", m))
		}
	}

	if c.Stabilization != nil && c.Stabilization.Namespace != "" {
		if _, err := uuid.Parse(c.Stabilization.Namespace); err != nil {
			errs = append(errs, fmt.Errorf("invalid stabilization namespace: %w", err))
		}
	}

	switch backend := c.Persistence.GetBackend(); backend {
	case BackendNone, BackendMemory, BackendBadger:
	case BackendRedis:
		if c.Persistence.RedisURL == "" {
			errs = append(errs, errors.New("persistence backend redis requires redis_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown persistence backend %q", backend))
	}

	if c.Persistence != nil && c.Persistence.Interval != "" {
		if _, err := time.ParseDuration(c.Persistence.Interval); err != nil {
			errs = append(errs, fmt.Errorf("invalid persistence interval: %w", err))
		}
	}

	if p := c.Presence; p != nil && p.TLS != nil && p.TLS.Enabled {
		if p.TLS.CertFile == "" || p.TLS.KeyFile == "" || p.TLS.CAFile == "" {
			errs = append(errs, errors.New("presence tls requires cert_file, key_file and ca_file"))
		}
	}

	if c.Logging != nil && c.Logging.Level != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
			errs = append(errs, fmt.Errorf("invalid log level: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// Load reads and parses an agent.yaml file from the given path.
// If the path is a directory, it looks for agent.yaml or agent.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"agent.yaml", "agent.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no agent.yaml or agent.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// LoadFromDir searches for agent.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no agent.yaml found in %s or parent directories", dir)
		}
		absDir = parent
	}
}

// LoadFromCurrentDir loads agent.yaml from the current working directory.
func LoadFromCurrentDir() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFromDir(cwd)
}
