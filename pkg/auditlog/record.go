// Package auditlog persists one execution record per dispatched tool call.
package auditlog

import (
	"context"
	"errors"
	"time"
)

// Outcome is the terminal dispatch state stored with a record.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeDenied     Outcome = "denied"
	OutcomeSuppressed Outcome = "suppressed"
)

// Record is the audit entry of one attempted execution.
type Record struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	ToolName     string         `json:"tool_name"`
	ProviderID   string         `json:"provider_id,omitempty"`
	ConnectionID string         `json:"connection_id"`
	Fingerprint  string         `json:"fingerprint,omitempty"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	Result       any            `json:"result,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Success      bool           `json:"success"`
	Duplicate    bool           `json:"duplicate"`
	Outcome      Outcome        `json:"outcome"`
	Duration     time.Duration  `json:"duration_ns"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// Query limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter selects records. Zero fields do not filter.
type Filter struct {
	AgentID  string
	ToolName string
	Since    time.Time
	Until    time.Time
	Success  *bool
	Limit    int
}

// Normalize applies the default and maximum limit.
func (f Filter) Normalize() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return f
}

// Match reports whether r passes the filter.
func (f Filter) Match(r Record) bool {
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	if f.ToolName != "" && r.ToolName != f.ToolName {
		return false
	}
	if !f.Since.IsZero() && r.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.StartedAt.Before(f.Until) {
		return false
	}
	if f.Success != nil && r.Success != *f.Success {
		return false
	}
	return true
}

// ErrDuplicateRecord is returned when a record id is stored twice.
var ErrDuplicateRecord = errors.New("execution record already exists")

// Store persists execution records.
// Query returns records newest first.
type Store interface {
	Append(ctx context.Context, r Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
	Count(ctx context.Context, f Filter) (int, error)
	Close() error
}
