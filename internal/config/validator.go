package config

import (
	"fmt"
	"strings"

	"github.com/harun/toolgate/pkg/provider/mcp"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(kind, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s (must be one of: %s)", kind, value, strings.Join(valid, ", "))
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, "debug", "info", "warn", "error")
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateAuditDriver validates the audit store driver
func (v *Validator) ValidateAuditDriver(driver string) error {
	return oneOf("audit driver", driver, AuditDriverSQLite, AuditDriverMemory)
}

// ValidateMCPServer validates one MCP server entry
func (v *Validator) ValidateMCPServer(s MCPServerConfig) error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.Contains(s.ID, ".") {
		return fmt.Errorf("id %q must not contain a dot", s.ID)
	}
	switch s.Transport {
	case "", mcp.TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("%s: command is required for stdio transport", s.ID)
		}
	case mcp.TransportHTTP:
		if s.URL == "" {
			return fmt.Errorf("%s: url is required for http transport", s.ID)
		}
	default:
		return fmt.Errorf("%s: %w", s.ID, oneOf("transport", s.Transport, mcp.TransportStdio, mcp.TransportHTTP))
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Dispatch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dispatch: %w", err))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if cfg.Server.MaxBatch < 1 {
		errs = append(errs, fmt.Errorf("server: max_batch must be positive"))
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server: rate_limit_per_minute cannot be negative"))
	}

	if err := v.ValidateAuditDriver(cfg.Audit.Driver); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	} else if cfg.Audit.Driver == AuditDriverSQLite && cfg.Audit.Path == "" {
		errs = append(errs, fmt.Errorf("audit: path is required for the sqlite driver"))
	}

	if cfg.Providers.Search.Enabled && cfg.Providers.Search.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.search: endpoint is required when enabled"))
	}

	seen := map[string]bool{}
	if cfg.Providers.Mail.Enabled {
		seen["mail"] = true
	}
	if cfg.Providers.Search.Enabled {
		seen["search"] = true
	}
	for i, s := range cfg.Providers.MCP {
		if err := v.ValidateMCPServer(s); err != nil {
			errs = append(errs, fmt.Errorf("providers.mcp[%d]: %w", i, err))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("providers.mcp[%d]: provider id %q already in use", i, s.ID))
		}
		seen[s.ID] = true
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing: sample_ratio must be between 0 and 1"))
	}

	return errs
}
