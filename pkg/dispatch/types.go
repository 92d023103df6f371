package dispatch

import (
	"time"
)

// Request is one tool call submitted by the orchestrator.
type Request struct {
	AgentID      string         `json:"agent_id"`
	ToolName     string         `json:"tool_name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	ConnectionID string         `json:"connection_id"`
	RequestedAt  time.Time      `json:"requested_at,omitempty"`
}

// Status is the terminal state of a dispatch.
type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusDenied     Status = "denied"
	StatusSuppressed Status = "suppressed"
)

// ErrorInfo is the classified error returned to the orchestrator.
type ErrorInfo struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Result is what the orchestrator receives for one Request.
type Result struct {
	Success    bool              `json:"success"`
	Status     Status            `json:"status"`
	Data       any               `json:"data,omitempty"`
	Error      *ErrorInfo        `json:"error,omitempty"`
	Duplicate  bool              `json:"duplicate,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RecordID   string            `json:"record_id,omitempty"`
	Duration   time.Duration     `json:"-"`
	DurationMS int64             `json:"duration_ms"`
}

// Kind returns the error kind, KindDuplicateSuppressed for suppressed calls, or "".
func (r Result) Kind() Kind {
	if r.Error != nil {
		return r.Error.Kind
	}
	if r.Status == StatusSuppressed {
		return KindDuplicateSuppressed
	}
	return ""
}
