package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.applyPaths()
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Dispatch.DedupWindow)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.CacheTTL)
	assert.True(t, cfg.Dispatch.AwaitInFlight)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, AuditDriverSQLite, cfg.Audit.Driver)
	assert.Equal(t, "TOOLGATE_SECRET_KEY", cfg.Credentials.KeyEnv)
	assert.True(t, cfg.Providers.Mail.Enabled)
	assert.False(t, cfg.Providers.Search.Enabled)
	assert.Empty(t, cfg.Providers.MCP)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "memory audit needs no path", mutate: func(c *Config) { c.Audit.Driver = AuditDriverMemory; c.Audit.Path = "" }},
		{name: "bad dedup window", mutate: func(c *Config) { c.Dispatch.DedupWindow = 0 }, wantErr: "dispatch: dedup_window"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "invalid log level"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "port must be between"},
		{name: "bad batch", mutate: func(c *Config) { c.Server.MaxBatch = 0 }, wantErr: "max_batch"},
		{name: "bad audit driver", mutate: func(c *Config) { c.Audit.Driver = "postgres" }, wantErr: "invalid audit driver"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Audit.Path = "" }, wantErr: "path is required"},
		{name: "search without endpoint", mutate: func(c *Config) { c.Providers.Search.Enabled = true }, wantErr: "providers.search"},
		{name: "bad sample ratio", mutate: func(c *Config) { c.Tracing.SampleRatio = 2 }, wantErr: "sample_ratio"},
		{
			name: "valid mcp servers",
			mutate: func(c *Config) {
				c.Providers.MCP = []MCPServerConfig{
					{ID: "fs", Command: "mcp-fs"},
					{ID: "crm", Transport: "http", URL: "https://crm.example.com/mcp"},
				}
			},
		},
		{
			name:    "mcp id with dot",
			mutate:  func(c *Config) { c.Providers.MCP = []MCPServerConfig{{ID: "a.b", Command: "x"}} },
			wantErr: "must not contain a dot",
		},
		{
			name:    "mcp stdio without command",
			mutate:  func(c *Config) { c.Providers.MCP = []MCPServerConfig{{ID: "fs"}} },
			wantErr: "command is required",
		},
		{
			name:    "mcp http without url",
			mutate:  func(c *Config) { c.Providers.MCP = []MCPServerConfig{{ID: "crm", Transport: "http"}} },
			wantErr: "url is required",
		},
		{
			name:    "mcp unknown transport",
			mutate:  func(c *Config) { c.Providers.MCP = []MCPServerConfig{{ID: "crm", Transport: "ws"}} },
			wantErr: "invalid transport",
		},
		{
			name:    "mcp id clashes with builtin",
			mutate:  func(c *Config) { c.Providers.MCP = []MCPServerConfig{{ID: "mail", Command: "x"}} },
			wantErr: "already in use",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfig_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Logging.Level = "loud"
	cfg.Server.Port = 0

	errs := NewValidator().ValidateConfig(cfg)
	assert.Len(t, errs, 2)
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"dedup_window"`)
	assert.Contains(t, s, `"server"`)
}
