package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Machine describes the simulated machine this process drives.
type Machine struct {
	// Type is the machine class ("A", "B", ...). Empty means the worker
	// accepts untyped pieces only.
	Type string `toml:"type"`
	// WorkUnitMillis is the length of one simulated work unit.
	WorkUnitMillis int `toml:"work_unit_ms"`
	// MinWorkUnits and MaxWorkUnits bound the uniformly drawn work duration.
	MinWorkUnits int `toml:"min_work_units"`
	MaxWorkUnits int `toml:"max_work_units"`
	// RemoveCancelledFromQueue drains cancelled pieces from the in-memory
	// queue in addition to the persisted cancellation.
	RemoveCancelledFromQueue bool `toml:"remove_cancelled_from_queue"`
	// PublishFailures emits piece.failed when manufacturing fails.
	PublishFailures bool `toml:"publish_failures"`
}

// Broker contains message broker connection settings.
type Broker struct {
	Driver         string `toml:"driver"`
	URL            string `toml:"url"`
	EventsExchange string `toml:"events_exchange"`
	TLSEnabled     bool   `toml:"tls_enabled"`
	CACert         string `toml:"ca_cert"`
	ClientCert     string `toml:"client_cert"`
	ClientKey      string `toml:"client_key"`
	PrefetchCount  int    `toml:"prefetch_count"`
}

// Auth points at the auth service that publishes the token verification key.
type Auth struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the machine service.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Machine: machine type and simulated work range
//   - Broker: event bus driver and AMQP connection
//   - Auth: public key rotation source
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Machine Machine `toml:"machine"`
	Broker  Broker  `toml:"broker"`
	Auth    Auth    `toml:"auth"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigLocation)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigLocation)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(defaultProjectFileName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WorkUnit returns the duration of a single simulated work unit.
func (c *Config) WorkUnit() time.Duration {
	return time.Duration(c.Machine.WorkUnitMillis) * time.Millisecond
}

// AuthTimeout returns the HTTP timeout used when fetching the public key.
func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.Auth.RequestTimeout) * time.Second
}

// InstanceName identifies this machine for lock, database, and log file names.
func (c *Config) InstanceName() string {
	if c.Machine.Type == "" {
		return "machine"
	}
	return "machine-" + strings.ToLower(c.Machine.Type)
}

// DatabasePath returns the SQLite task store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, c.InstanceName()+".db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, c.InstanceName()+".lock")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, c.InstanceName()+".pid")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, c.InstanceName()+".log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
