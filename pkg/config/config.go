package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultAdminHost      = "127.0.0.1"
	DefaultAdminPort      = 9421
	DefaultMasterPort     = 9420
	DefaultConnectTimeout = 2 * time.Second
	DefaultCommandTimeout = 10 * time.Second

	DefaultProbeRetryDelay = 3 * time.Second

	DefaultStopTimeout  = 30 * time.Second
	DefaultStartTimeout = 60 * time.Second

	// DefaultRetentionMinutes keeps 7 days of snapshot archives.
	DefaultRetentionMinutes = 7 * 24 * 60

	DefaultSnapshotBase = "metadata.snap"

	DefaultAttributeName = "metakeeper-metadata-version"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// Config is the root configuration for a metakeeper node.
type Config struct {
	// NodeName is this node's name as known to the cluster manager.
	// Defaults to the OS hostname.
	NodeName string `yaml:"node_name"`

	// DataDir holds the metadata snapshots, the advisory lock file, the
	// personality marker and the permanent-failure marker.
	DataDir string `yaml:"data_dir"`

	Master   MasterConfig   `yaml:"master"`
	Admin    AdminConfig    `yaml:"admin"`
	Process  ProcessConfig  `yaml:"process"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Probe    ProbeConfig    `yaml:"probe"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// MasterConfig is the address the cluster's leader listens on for replicas.
type MasterConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AdminConfig locates the local admin endpoint of the managed server.
type AdminConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SecretFile holds the shared admin secret. The secret is sent over the
	// admin connection, never on a command line.
	SecretFile string `yaml:"secret_file"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// ProcessConfig controls how the managed metadata server process is run.
type ProcessConfig struct {
	// Binary is the metadata server executable.
	Binary string `yaml:"binary"`

	// ExtraArgs are appended to every start invocation.
	ExtraArgs []string `yaml:"extra_args"`

	StopTimeout  time.Duration `yaml:"stop_timeout"`
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// ClusterConfig selects and configures the cluster attribute store.
type ClusterConfig struct {
	// Attribute is the name of the shared metadata-version attribute.
	Attribute string `yaml:"attribute"`

	// Store is "exec" (shell out to the resource manager's tools, the
	// production mode) or "bolt" (local bbolt file, standalone/dev).
	Store string `yaml:"store"`

	// AttrTool, CRMTool are the resource manager binaries used by the exec
	// store for attribute access and status/cleanup queries.
	AttrTool string `yaml:"attr_tool"`
	CRMTool  string `yaml:"crm_tool"`

	// BoltPath is the attribute database path for the bolt store.
	BoltPath string `yaml:"bolt_path"`

	// Resource is the resource ID this agent manages, used for vote scores
	// and error-state clearing.
	Resource string `yaml:"resource"`
}

// ProbeConfig tunes the probe's bounded retry.
type ProbeConfig struct {
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// SnapshotConfig controls snapshot rotation on shadow stop.
type SnapshotConfig struct {
	// Base is the snapshot file name inside the data directory; numbered
	// generations and timestamped archives derive from it.
	Base string `yaml:"base"`

	// RetentionMinutes is how long timestamped archives are kept.
	RetentionMinutes int `yaml:"retention_minutes"`
}

// LoggingConfig defines log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables textfile metric export when TextfileDir is set.
type MetricsConfig struct {
	TextfileDir string `yaml:"textfile_dir"`
}

// Load reads and parses a configuration file from the given path, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.NodeName == "" {
		if host, err := os.Hostname(); err == nil {
			c.NodeName = host
		}
	}
	if c.Master.Port == 0 {
		c.Master.Port = DefaultMasterPort
	}
	if c.Admin.Host == "" {
		c.Admin.Host = DefaultAdminHost
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = DefaultAdminPort
	}
	if c.Admin.ConnectTimeout == 0 {
		c.Admin.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Admin.CommandTimeout == 0 {
		c.Admin.CommandTimeout = DefaultCommandTimeout
	}
	if c.Process.StopTimeout == 0 {
		c.Process.StopTimeout = DefaultStopTimeout
	}
	if c.Process.StartTimeout == 0 {
		c.Process.StartTimeout = DefaultStartTimeout
	}
	if c.Cluster.Attribute == "" {
		c.Cluster.Attribute = DefaultAttributeName
	}
	if c.Cluster.Store == "" {
		c.Cluster.Store = "exec"
	}
	if c.Cluster.AttrTool == "" {
		c.Cluster.AttrTool = "attrd_updater"
	}
	if c.Cluster.CRMTool == "" {
		c.Cluster.CRMTool = "crm_resource"
	}
	if c.Cluster.BoltPath == "" && c.DataDir != "" {
		c.Cluster.BoltPath = filepath.Join(c.DataDir, "cluster.db")
	}
	if c.Probe.RetryDelay == 0 {
		c.Probe.RetryDelay = DefaultProbeRetryDelay
	}
	if c.Snapshot.Base == "" {
		c.Snapshot.Base = DefaultSnapshotBase
	}
	if c.Snapshot.RetentionMinutes == 0 {
		c.Snapshot.RetentionMinutes = DefaultRetentionMinutes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks the configuration. Failures here are configuration-faults:
// the CLI surfaces them before any lifecycle action runs.
func (c *Config) Validate() error {
	if c.Master.Host == "" {
		return &ValidationError{Field: "master.host", Message: "leader host is required"}
	}
	if c.DataDir == "" {
		return &ValidationError{Field: "data_dir", Message: "data directory is required"}
	}
	if c.Admin.SecretFile == "" {
		return &ValidationError{Field: "admin.secret_file", Message: "admin secret file is required"}
	}
	if _, err := os.Stat(c.Admin.SecretFile); err != nil {
		return &ValidationError{Field: "admin.secret_file", Message: fmt.Sprintf("not readable: %v", err)}
	}
	if c.Process.Binary == "" {
		return &ValidationError{Field: "process.binary", Message: "metadata server binary is required"}
	}
	if c.Cluster.Store != "exec" && c.Cluster.Store != "bolt" {
		return &ValidationError{Field: "cluster.store", Message: "must be \"exec\" or \"bolt\""}
	}
	if c.Snapshot.RetentionMinutes < 0 {
		return &ValidationError{Field: "snapshot.retention_minutes", Message: "must not be negative"}
	}
	return nil
}

// LockFile is the advisory lock path: present while the server process is
// absent means a crash, not a clean stop.
func (c *Config) LockFile() string {
	return filepath.Join(c.DataDir, ".metakeeper.lock")
}

// PersonalityFile is the marker read by the external config generator.
func (c *Config) PersonalityFile() string {
	return filepath.Join(c.DataDir, "personality")
}

// PreventMarker records a refused promotion. While it exists, promote
// short-circuits to a permanent error until an operator removes it.
func (c *Config) PreventMarker() string {
	return filepath.Join(c.DataDir, ".promotion-prevented")
}

// AdminSecret reads the shared admin secret from SecretFile.
func (c *Config) AdminSecret() (string, error) {
	data, err := os.ReadFile(c.Admin.SecretFile)
	if err != nil {
		return "", fmt.Errorf("failed to read admin secret: %w", err)
	}
	secret := string(data)
	for len(secret) > 0 && (secret[len(secret)-1] == '\n' || secret[len(secret)-1] == '\r') {
		secret = secret[:len(secret)-1]
	}
	if secret == "" {
		return "", &ValidationError{Field: "admin.secret_file", Message: "secret file is empty"}
	}
	return secret, nil
}

// Retention returns the archive retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Snapshot.RetentionMinutes) * time.Minute
}
