// Package config contains the configuration of serialrund and the logic to load it from a YAML file.
package config

import (
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/italypaleale/serialqueue/serialqueue"
)

// Base includes the list of methods that config objects are expected to implement
type Base interface {
	// GetLoadedConfigPath returns the path to the config file that was loaded
	GetLoadedConfigPath() string
	// SetLoadedConfigPath sets the path to the config file that was loaded.
	SetLoadedConfigPath(path string)
	// GetInstanceID returns the instance ID
	GetInstanceID() string
	// GetOtelResource returns the OpenTelemetry Resource object
	GetOtelResource(name string) (*resource.Resource, error)
}

// Config is the configuration of serialrund.
type Config struct {
	// Log level: "debug", "info", "warn", "error"
	// +default "info"
	LogLevel string `yaml:"logLevel"`

	// If true, emits logs formatted as JSON, otherwise uses a text-based structured log format.
	// +default false if a TTY is attached (e.g. in development); true otherwise.
	LogAsJSON *bool `yaml:"logAsJSON"`

	// Address to bind the HTTP server to.
	// +default "127.0.0.1"
	Bind string `yaml:"bind"`

	// Port for the HTTP server.
	// +default 7707
	Port int `yaml:"port"`

	// Instance ID, included in logs and in the X-Host-Id response header.
	// +default detected from the environment, or random
	InstanceID string `yaml:"instanceID"`

	// Maximum size of request bodies, in bytes.
	// +default 65536
	MaxBodySize int64 `yaml:"maxBodySize"`

	// Settings for the per-key queues.
	Queues QueuesConfig `yaml:"queues"`

	// Commands that can be invoked, by name.
	Commands map[string]CommandConfig `yaml:"commands"`

	// Settings to expose the server on a Tailscale network.
	TSNet TSNetConfig `yaml:"tsnet"`

	// Internal keys
	loadedConfigPath string `yaml:"-"`
}

// QueuesConfig contains the settings for the per-key queues.
type QueuesConfig struct {
	// Queues with no pending work for this long are removed.
	// +default 5m
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	// Interval to look for idle queues.
	// +default 1m
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	// Scheduling priority hint for the queues: "low", "default", or "high".
	// +default "default"
	Priority string `yaml:"priority"`
}

// CommandConfig is a command that can be invoked through the API.
type CommandConfig struct {
	// Executable and arguments.
	// Arguments passed in the request are appended.
	Exec []string `yaml:"exec"`

	// Working directory.
	// +default the current working directory
	Dir string `yaml:"dir"`

	// Additional environment variables, as "KEY=value".
	Env []string `yaml:"env"`

	// Maximum time the command can run for.
	// +default 5m
	Timeout time.Duration `yaml:"timeout"`
}

// TSNetConfig contains the settings for Tailscale.
type TSNetConfig struct {
	// If true, the server also listens on the Tailscale network.
	Enabled bool `yaml:"enabled"`

	// Hostname of the node on the tailnet.
	// +default "serialrund"
	Hostname string `yaml:"hostname"`

	// Auth key, used on first startup only.
	// Can also be passed with the TS_AUTH_KEY env var.
	AuthKey string `yaml:"authKey"`

	// Directory where to store Tailscale state.
	StateDir string `yaml:"stateDir"`

	// If true, the node is ephemeral.
	Ephemeral bool `yaml:"ephemeral"`

	// Tags to advertise.
	Tags []string `yaml:"tags"`

	// Port to listen on, on the tailnet (with TLS).
	// +default 443
	Port int `yaml:"port"`
}

// Default values
const (
	DefaultBind            = "127.0.0.1"
	DefaultPort            = 7707
	DefaultMaxBodySize     = 64 << 10
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
	DefaultCommandTimeout  = 5 * time.Minute
	DefaultTSNetHostname   = "serialrund"
	DefaultTSNetPort       = 443
)

// SetDefaults sets the default values for the fields that are empty.
func (c *Config) SetDefaults() error {
	if c.Bind == "" {
		c.Bind = DefaultBind
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.Queues.IdleTimeout == 0 {
		c.Queues.IdleTimeout = DefaultIdleTimeout
	}
	if c.Queues.CleanupInterval == 0 {
		c.Queues.CleanupInterval = DefaultCleanupInterval
	}
	for name, cmd := range c.Commands {
		if cmd.Timeout == 0 {
			cmd.Timeout = DefaultCommandTimeout
			c.Commands[name] = cmd
		}
	}
	if c.TSNet.Hostname == "" {
		c.TSNet.Hostname = DefaultTSNetHostname
	}
	if c.TSNet.Port == 0 {
		c.TSNet.Port = DefaultTSNetPort
	}

	if c.InstanceID == "" {
		id, err := GetInstanceID()
		if err != nil {
			return NewConfigError(err, "Failed to determine the instance ID")
		}
		c.InstanceID = id
	}

	return nil
}

// Validate the configuration.
// It must be called after SetDefaults.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
		// Nop - valid
	default:
		return NewFieldError("logLevel", "must be one of 'debug', 'info', 'warn', 'error'; got '%s'", c.LogLevel)
	}
	if c.Port < 1 || c.Port > 65535 {
		return NewFieldError("port", "must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxBodySize < 0 {
		return NewFieldError("maxBodySize", "must not be negative")
	}
	if c.Queues.IdleTimeout < 0 {
		return NewFieldError("queues.idleTimeout", "must not be negative")
	}
	if c.Queues.CleanupInterval < 0 {
		return NewFieldError("queues.cleanupInterval", "must not be negative")
	}
	_, err := serialqueue.ParsePriority(c.Queues.Priority)
	if err != nil {
		return NewFieldError("queues.priority", "%v", err)
	}

	for name, cmd := range c.Commands {
		switch {
		case name == "":
			return NewFieldError("commands", "command names must not be empty")
		case len(cmd.Exec) == 0 || cmd.Exec[0] == "":
			return NewFieldError("commands."+name+".exec", "must not be empty")
		case cmd.Timeout < 0:
			return NewFieldError("commands."+name+".timeout", "must not be negative")
		}
	}

	if c.TSNet.Enabled && (c.TSNet.Port < 1 || c.TSNet.Port > 65535) {
		return NewFieldError("tsnet.port", "must be between 1 and 65535, got %d", c.TSNet.Port)
	}

	return nil
}

// QueuePriority returns the parsed queue priority.
// It must be called after Validate.
func (c *Config) QueuePriority() serialqueue.Priority {
	p, _ := serialqueue.ParsePriority(c.Queues.Priority)
	return p
}

// GetLoadedConfigPath returns the path to the config file that was loaded
func (c *Config) GetLoadedConfigPath() string {
	return c.loadedConfigPath
}

// SetLoadedConfigPath sets the path to the config file that was loaded
func (c *Config) SetLoadedConfigPath(filePath string) {
	c.loadedConfigPath = filePath
}

// GetInstanceID returns the instance ID.
func (c *Config) GetInstanceID() string {
	return c.InstanceID
}

// GetOtelResource returns the OpenTelemetry Resource object
func (c *Config) GetOtelResource(name string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", name),
	}
	if c.InstanceID != "" {
		attrs = append(attrs, attribute.String("service.instance.id", c.InstanceID))
	}
	if hostname, _ := os.Hostname(); hostname != "" {
		attrs = append(attrs, attribute.String("host.name", hostname))
	}

	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}
