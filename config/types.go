// Package config provides configuration management for relay nodes
package config

import (
	"fmt"
	"maps"
	"time"

	"go.uber.org/multierr"

	"github.com/najoast/relay/core"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Log encoders
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config represents the complete relay configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Node runtime configuration
	Node NodeConfig `yaml:"node" json:"node"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (console, json)
	Format string `yaml:"format" json:"format"`

	// Output destinations (stdout, stderr, file paths)
	Outputs []string `yaml:"outputs" json:"outputs"`

	// Enable colored level names on console output
	Color bool `yaml:"color" json:"color"`

	// Log rotation configuration for file outputs
	Rotation LogRotationConfig `yaml:"rotation" json:"rotation"`

	// Fields added to every log entry
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// LogRotationConfig contains log rotation settings
type LogRotationConfig struct {
	// Enable log rotation
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Maximum file size in MB
	MaxSize int `yaml:"max_size" json:"max_size"`

	// Maximum number of old files to retain
	MaxBackups int `yaml:"max_backups" json:"max_backups"`

	// Maximum age in days
	MaxAge int `yaml:"max_age" json:"max_age"`

	// Compress old files
	Compress bool `yaml:"compress" json:"compress"`
}

// NodeConfig contains node runtime configuration
type NodeConfig struct {
	// Node name used in logs; defaults to the application name
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Number of delivery lanes; 0 uses GOMAXPROCS
	Lanes int `yaml:"lanes" json:"lanes"`

	// Remove the head address before local delivery
	AutoAdvance bool `yaml:"auto_advance" json:"auto_advance"`

	// Reject a second plugin for the same address type
	StrictPlugins bool `yaml:"strict_plugins" json:"strict_plugins"`

	// Register routing metrics with the default prometheus registry
	Metrics bool `yaml:"metrics" json:"metrics"`

	// Time allowed for draining queued deliveries on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "relay",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Description: "relay node",
		},
		Log: LogConfig{
			Level:   LogLevelInfo,
			Format:  LogFormatConsole,
			Outputs: []string{"stdout"},
			Color:   true,
			Rotation: LogRotationConfig{
				Enabled:    false,
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     7,
				Compress:   true,
			},
		},
		Node: NodeConfig{
			Lanes:           0,
			Metrics:         false,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	cp := *c
	cp.App.Metadata = maps.Clone(c.App.Metadata)
	cp.Log.Fields = maps.Clone(c.Log.Fields)
	cp.Log.Outputs = append([]string(nil), c.Log.Outputs...)
	return &cp
}

// Validate validates the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var err error

	if c.App.Name == "" {
		err = multierr.Append(err, ErrInvalidAppName)
	}
	if !c.App.Environment.IsValid() {
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidEnvironment, c.App.Environment))
	}

	if !c.Log.Level.IsValid() {
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level))
	}
	if c.Log.Format != LogFormatConsole && c.Log.Format != LogFormatJSON {
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format))
	}
	if len(c.Log.Outputs) == 0 {
		err = multierr.Append(err, ErrNoLogOutput)
	}

	if c.Node.Lanes < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: %d", ErrInvalidLanes, c.Node.Lanes))
	}
	if c.Node.ShutdownTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: %s", ErrInvalidShutdownTimeout, c.Node.ShutdownTimeout))
	}

	return err
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}

// NodeName returns the name the node is created with
func (c *Config) NodeName() string {
	if c.Node.Name != "" {
		return c.Node.Name
	}
	return c.App.Name
}

// NodeOptions maps the node settings onto core.NodeOptions. Logger,
// registerer and clock are left for the caller to fill in.
func (c *Config) NodeOptions() core.NodeOptions {
	opts := core.DefaultNodeOptions()
	opts.Name = c.NodeName()
	if c.Node.Lanes > 0 {
		opts.Lanes = c.Node.Lanes
	}
	opts.AutoAdvance = c.Node.AutoAdvance
	opts.StrictPlugins = c.Node.StrictPlugins
	return opts
}
