package dispatch

import (
	"context"
	"errors"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/permission"
	"github.com/harun/toolgate/pkg/provider"
)

// Kind is the stable tag of a dispatch error.
type Kind string

const (
	KindPermissionDenied    Kind = "PermissionDenied"
	KindDuplicateSuppressed Kind = "DuplicateSuppressed"
	KindInvalidArguments    Kind = "InvalidArguments"
	KindToolNotFound        Kind = "ToolNotFound"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindProviderError       Kind = "ProviderError"
	KindInvalidConnection   Kind = "InvalidConnection"
	KindTimeout             Kind = "Timeout"
	KindCancelled           Kind = "Cancelled"
	KindCredentialNotFound  Kind = "CredentialNotFound"
	KindCredentialExpired   Kind = "CredentialExpired"
	KindInternal            Kind = "Internal"
	KindLoggingFailure      Kind = "LoggingFailure"
)

var kindMessages = map[Kind]string{
	KindPermissionDenied:    "missing permission for this tool",
	KindDuplicateSuppressed: "identical call already handled",
	KindInvalidArguments:    "invalid tool arguments",
	KindToolNotFound:        "tool not found",
	KindProviderUnavailable: "tool provider temporarily unavailable",
	KindProviderError:       "tool provider rejected the call",
	KindInvalidConnection:   "connection is not usable with this tool",
	KindTimeout:             "tool call timed out",
	KindCancelled:           "tool call cancelled",
	KindCredentialNotFound:  "no credential for this connection",
	KindCredentialExpired:   "credential for this connection has expired",
	KindInternal:            "internal error",
	KindLoggingFailure:      "execution record could not be written",
}

// Message returns the stable human readable text of k.
func (k Kind) Message() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return kindMessages[KindInternal]
}

// Retryable reports whether the orchestrator may retry a call that failed with k.
func (k Kind) Retryable() bool {
	switch k {
	case KindProviderUnavailable, KindProviderError, KindTimeout:
		return true
	default:
		return false
	}
}

// Sentinel errors raised by the manager itself.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrCancelled      = errors.New("dispatch cancelled")
)

// Classify maps err onto a Kind. Unknown errors are Internal.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, permission.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, provider.ErrInvalidArguments):
		return KindInvalidArguments
	case errors.Is(err, provider.ErrToolNotFound):
		return KindToolNotFound
	case errors.Is(err, credential.ErrCredentialNotFound):
		return KindCredentialNotFound
	case errors.Is(err, credential.ErrCredentialExpired):
		return KindCredentialExpired
	case errors.Is(err, provider.ErrInvalidConnection):
		return KindInvalidConnection
	case errors.Is(err, provider.ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, provider.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, provider.ErrProviderError):
		return KindProviderError
	default:
		return KindInternal
	}
}
