package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func validConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{
		InstanceID: "test",
		Commands: map[string]CommandConfig{
			"echo": {Exec: []string{"echo"}},
		},
	}
	require.NoError(t, cfg.SetDefaults())
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "log level", modify: func(c *Config) { c.LogLevel = "verbose" }, wantErr: "'logLevel'"},
		{name: "port out of range", modify: func(c *Config) { c.Port = 70000 }, wantErr: "invalid value for 'port': must be between 1 and 65535, got 70000"},
		{name: "negative body size", modify: func(c *Config) { c.MaxBodySize = -1 }, wantErr: "'maxBodySize'"},
		{name: "negative idle timeout", modify: func(c *Config) { c.Queues.IdleTimeout = -time.Second }, wantErr: "'queues.idleTimeout'"},
		{name: "invalid priority", modify: func(c *Config) { c.Queues.Priority = "urgent" }, wantErr: "invalid priority 'urgent'"},
		{name: "empty exec", modify: func(c *Config) {
			c.Commands["bad"] = CommandConfig{Exec: []string{""}}
		}, wantErr: "invalid value for 'commands.bad.exec': must not be empty"},
		{name: "negative command timeout", modify: func(c *Config) {
			c.Commands["bad"] = CommandConfig{Exec: []string{"true"}, Timeout: -time.Second}
		}, wantErr: "'commands.bad.timeout'"},
		{name: "tsnet port ignored when disabled", modify: func(c *Config) { c.TSNet.Port = -1 }},
		{name: "tsnet port", modify: func(c *Config) {
			c.TSNet.Enabled = true
			c.TSNet.Port = -1
		}, wantErr: "'tsnet.port'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			require.ErrorContains(t, err, tt.wantErr)
			require.ErrorContains(t, err, "Invalid configuration")
			assert.NotEmpty(t, cfgErr.Field)
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	t.Setenv("CONTAINER_APP_REPLICA_NAME", "")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "service.instance.id=from-otel")

	cfg := &Config{Port: 1234}
	require.NoError(t, cfg.SetDefaults())

	assert.Equal(t, 1234, cfg.Port)
	assert.Equal(t, DefaultBind, cfg.Bind)
	assert.Equal(t, "from-otel", cfg.InstanceID)
	assert.Equal(t, DefaultIdleTimeout, cfg.Queues.IdleTimeout)
	assert.Equal(t, DefaultTSNetHostname, cfg.TSNet.Hostname)
	assert.Equal(t, "default", cfg.QueuePriority().String())
}

func TestConfigGetOtelResource(t *testing.T) {
	cfg := validConfig(t)

	res, err := cfg.GetOtelResource("serialrund")
	require.NoError(t, err)

	set := res.Set()
	v, ok := set.Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "serialrund", v.AsString())

	v, ok = set.Value(attribute.Key("service.instance.id"))
	require.True(t, ok)
	assert.Equal(t, "test", v.AsString())
}
