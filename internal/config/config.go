// Package config loads and validates the toolgate configuration file.
package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/toolgate/internal/logger"
	"github.com/harun/toolgate/pkg/dispatch"
)

// Config represents the main toolgate configuration
type Config struct {
	// Data directory holding the audit database, logs and credentials file
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Dispatch tunables
	Dispatch dispatch.Config `json:"dispatch" mapstructure:"dispatch"`

	// Logging
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// HTTP API server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Execution record storage
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Credentials and grants
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`

	// Capability providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// OpenTelemetry
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// AuthToken, when set, is required as a bearer token on /v1 routes.
	AuthToken string `json:"auth_token" mapstructure:"auth_token"`
	// MaxBatch caps the number of requests in one batch dispatch.
	MaxBatch int `json:"max_batch" mapstructure:"max_batch"`
	// RateLimitPerMinute caps dispatch requests per agent. Zero disables the limit.
	RateLimitPerMinute int `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// Audit store drivers.
const (
	AuditDriverSQLite = "sqlite"
	AuditDriverMemory = "memory"
)

// AuditConfig holds execution record storage configuration
type AuditConfig struct {
	Driver       string        `json:"driver" mapstructure:"driver"` // sqlite, memory
	Path         string        `json:"path" mapstructure:"path"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// CredentialsConfig points at the grants file and the key opening sealed secrets
type CredentialsConfig struct {
	File string `json:"file" mapstructure:"file"`
	// KeyEnv names the environment variable holding the secretbox key.
	KeyEnv string `json:"key_env" mapstructure:"key_env"`
	// Watch reloads the file when it changes.
	Watch bool `json:"watch" mapstructure:"watch"`
}

// ProvidersConfig holds per-provider configuration
type ProvidersConfig struct {
	Mail   MailConfig        `json:"mail" mapstructure:"mail"`
	Search SearchConfig      `json:"search" mapstructure:"search"`
	MCP    []MCPServerConfig `json:"mcp" mapstructure:"mcp"`
}

// MailConfig configures the mail provider. Server settings come from each connection's credential.
type MailConfig struct {
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	DialTimeout     time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	MessageIDDomain string        `json:"message_id_domain" mapstructure:"message_id_domain"`
}

// SearchConfig configures the web search provider
type SearchConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Endpoint string        `json:"endpoint" mapstructure:"endpoint"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
}

// MCPServerConfig describes one MCP tool server
type MCPServerConfig struct {
	ID          string              `json:"id" mapstructure:"id"`
	Transport   string              `json:"transport" mapstructure:"transport"` // stdio, http
	Command     string              `json:"command,omitempty" mapstructure:"command"`
	Args        []string            `json:"args,omitempty" mapstructure:"args"`
	Env         map[string]string   `json:"env,omitempty" mapstructure:"env"`
	URL         string              `json:"url,omitempty" mapstructure:"url"`
	Headers     map[string]string   `json:"headers,omitempty" mapstructure:"headers"`
	Scopes      map[string][]string `json:"scopes,omitempty" mapstructure:"scopes"`
	InitTimeout time.Duration       `json:"init_timeout,omitempty" mapstructure:"init_timeout"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"`
	Insecure    bool    `json:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Dispatch: dispatch.DefaultConfig(),
		Logging: logger.Config{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8088,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       90 * time.Second,
			ShutdownTimeout:    15 * time.Second,
			MaxBatch:           32,
			RateLimitPerMinute: 600,
		},
		Audit: AuditConfig{
			Driver:       AuditDriverSQLite,
			WriteTimeout: 5 * time.Second,
		},
		Credentials: CredentialsConfig{
			KeyEnv: "TOOLGATE_SECRET_KEY",
			Watch:  true,
		},
		Providers: ProvidersConfig{
			Mail: MailConfig{
				Enabled:     true,
				DialTimeout: 30 * time.Second,
			},
			Search: SearchConfig{
				Timeout: 30 * time.Second,
			},
		},
		Tracing: TracingConfig{
			ServiceName: "toolgate",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
