package dispatch

import (
	"fmt"
	"time"

	"github.com/harun/toolgate/pkg/provider"
)

// Config holds the dispatch tunables.
type Config struct {
	DedupWindow      time.Duration `json:"dedup_window" mapstructure:"dedup_window"`
	CacheTTL         time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
	ExecutionTimeout time.Duration `json:"execution_timeout" mapstructure:"execution_timeout"`
	// AwaitInFlight makes a duplicate of a running call wait for its outcome
	// instead of returning a suppressed marker at once.
	AwaitInFlight bool `json:"dedup_await_in_flight" mapstructure:"dedup_await_in_flight"`
	// MaxOutputSize caps the serialized size of returned data. Zero disables truncation.
	MaxOutputSize int `json:"max_output_size" mapstructure:"max_output_size"`
	// MaxParallel bounds concurrent calls within one batch. Zero means unbounded.
	MaxParallel int `json:"max_parallel" mapstructure:"max_parallel"`
}

// DefaultConfig returns the default dispatch configuration.
func DefaultConfig() Config {
	return Config{
		DedupWindow:      30 * time.Second,
		CacheTTL:         5 * time.Minute,
		ExecutionTimeout: 30 * time.Second,
		AwaitInFlight:    true,
		MaxOutputSize:    provider.MaxOutputSize,
		MaxParallel:      8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DedupWindow <= 0 {
		return fmt.Errorf("dedup_window must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.ExecutionTimeout <= 0 {
		return fmt.Errorf("execution_timeout must be positive")
	}
	if c.MaxOutputSize < 0 {
		return fmt.Errorf("max_output_size cannot be negative")
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max_parallel cannot be negative")
	}
	return nil
}
